package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hazyhaar/feedshot/kit"
)

type claimsKey struct{}

// WithClaims returns ctx carrying c.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	ctx = context.WithValue(ctx, claimsKey{}, c)
	ctx = kit.WithUserID(ctx, c.UserID)
	ctx = kit.WithHandle(ctx, c.Name)
	return kit.WithRole(ctx, c.Role)
}

// GetClaims returns the claims in ctx, or nil.
func GetClaims(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// Middleware reads a token from the session cookie or an Authorization
// Bearer header and, when valid, puts its claims in the request context.
// Requests without a valid token pass through anonymous; enforce with
// RequireRole or RequireAuth.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var tokenStr string
			if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
				tokenStr = c.Value
			}
			if h, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && h != "" {
				tokenStr = h
			}
			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := ValidateToken(secret, tokenStr)
			if err != nil {
				ClearTokenCookie(w)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole rejects API requests whose claims lack role with a JSON 401
// (no claims) or 403 (wrong role).
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := GetClaims(r.Context())
			switch {
			case c == nil:
				deny(w, "authentication required", http.StatusUnauthorized)
			case c.Role != role:
				deny(w, "forbidden", http.StatusForbidden)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// RequireAuth redirects browser requests without claims to /login.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetClaims(r.Context()) == nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deny(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
