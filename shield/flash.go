package shield

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

const flashCookie = "feedshot_flash"

// Flash moves the flash cookie, if any, into the request context and clears
// it. The cookie value is "<type>:<message>"; a missing type means "error".
func Flash(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(flashCookie)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		http.SetCookie(w, &http.Cookie{Name: flashCookie, MaxAge: -1, Path: "/"})

		raw, _ := url.QueryUnescape(cookie.Value)
		flash := &FlashMessage{Type: "error", Message: raw}
		if after, ok := strings.CutPrefix(raw, "success:"); ok {
			flash.Type = "success"
			flash.Message = after
		} else if after, ok := strings.CutPrefix(raw, "error:"); ok {
			flash.Message = after
		}

		ctx := context.WithValue(r.Context(), FlashKey, flash)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetFlash sets a short-lived flash cookie for the next request.
func SetFlash(w http.ResponseWriter, flashType, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(flashType + ":" + message),
		Path:     "/",
		MaxAge:   10,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
