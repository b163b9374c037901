package feedback

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"net/http"
	"time"
)

//go:embed widget.js
var widgetJS []byte

//go:embed widget.css
var widgetCSS []byte

// asset is an embedded widget file with a content hash. Host pages that
// reference it with ?v=<Version> get a year of caching; bare URLs are
// revalidated through the ETag.
type asset struct {
	name    string
	ctype   string
	data    []byte
	version string
}

func newAsset(name, ctype string, data []byte) asset {
	sum := sha256.Sum256(data)
	return asset{name: name, ctype: ctype, data: data, version: hex.EncodeToString(sum[:6])}
}

var (
	jsAsset  = newAsset("widget.js", "application/javascript; charset=utf-8", widgetJS)
	cssAsset = newAsset("widget.css", "text/css; charset=utf-8", widgetCSS)

	// served by ServeContent, which wants a modtime; embedded files have none
	assetsBuilt = time.Now().UTC().Truncate(time.Second)
)

// AssetVersion identifies the embedded widget.js and widget.css build.
// Append it as ?v= to the script and stylesheet URLs on the host page.
func AssetVersion() string {
	return jsAsset.version[:6] + cssAsset.version[:6]
}

func (a asset) serve(wr http.ResponseWriter, r *http.Request) {
	h := wr.Header()
	h.Set("Content-Type", a.ctype)
	h.Set("ETag", `"`+a.version+`"`)
	if r.URL.Query().Get("v") == AssetVersion() {
		h.Set("Cache-Control", "public, max-age=31536000, immutable")
	} else {
		h.Set("Cache-Control", "public, max-age=300, must-revalidate")
	}
	http.ServeContent(wr, r, a.name, assetsBuilt, bytes.NewReader(a.data))
}

func (w *Widget) handleWidgetJS(wr http.ResponseWriter, r *http.Request) { jsAsset.serve(wr, r) }
func (w *Widget) handleWidgetCSS(wr http.ResponseWriter, r *http.Request) { cssAsset.serve(wr, r) }
