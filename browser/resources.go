package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails requests for the configured resource types. The
// returned router must be stopped when the tab closes.
func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.ToLower(t)] = true
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if blocked(set, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

// blocked maps a CDP resource type onto the plural config names.
func blocked(set map[string]bool, resType string) bool {
	switch t := strings.ToLower(resType); t {
	case "image":
		return set["images"]
	case "font":
		return set["fonts"]
	case "media":
		return set["media"]
	case "stylesheet":
		return set["stylesheets"]
	default:
		return set[t]
	}
}
