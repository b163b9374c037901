// Package shield is the HTTP middleware in front of feedbackd: security
// headers, maintenance mode, per-client rate limits on the public
// submission routes, request tracing and flash messages for the login page.
//
//	stack, guard := shield.DefaultStack(db)
//	guard.StartReloader(done)
//	for _, mw := range stack {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"database/sql"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const (
	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"

	// FlashKey is the context key for flash messages.
	FlashKey contextKey = "shield_flash"
)

// FlashMessage is a one-time notification shown on the next page.
type FlashMessage struct {
	Type    string // "success" or "error"
	Message string
}

// GetFlash retrieves the flash message from the request context.
func GetFlash(ctx context.Context) *FlashMessage {
	v, _ := ctx.Value(FlashKey).(*FlashMessage)
	return v
}

// Guard bundles the database-backed middlewares so their rules can be
// reloaded together.
type Guard struct {
	Maintenance *MaintenanceMode
	Limiter     *RateLimiter
}

// StartReloader refreshes maintenance and rate limit rules until done closes.
func (g *Guard) StartReloader(done <-chan struct{}) {
	g.Maintenance.StartReloader(done)
	g.Limiter.StartReloader(done)
}

// DefaultStack returns the middleware stack for feedbackd, outermost first:
// Maintenance, GetHead, SecurityHeaders, MaxFormBody, TraceID, RateLimiter,
// Flash. Health checks and widget assets bypass maintenance and limits; login
// and admin routes stay reachable during maintenance so it can be lifted.
// Install it on a chi router: GetHead answers HEAD from the GET routes
// through chi's route context.
func DefaultStack(db *sql.DB) ([]func(http.Handler) http.Handler, *Guard) {
	g := &Guard{
		Maintenance: NewMaintenanceMode(db, "/healthz", "/feedback/widget.", "/login", "/admin/"),
		Limiter:     NewRateLimiter(db, "/healthz", "/feedback/widget."),
	}
	return []func(http.Handler) http.Handler{
		g.Maintenance.Middleware,
		middleware.GetHead,
		SecurityHeaders(DefaultHeaders()),
		MaxFormBody(64 * 1024),
		TraceID,
		g.Limiter.Middleware,
		Flash,
	}, g
}

// wantsHTML reports whether the client is a browser navigating, as opposed
// to a fetch from the widget or an API client.
func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
