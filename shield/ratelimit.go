package shield

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig is one row of rate_limits: MaxRequests per window, as a
// token bucket that refills evenly over the window.
type RateLimitConfig struct {
	Endpoint      string
	MaxRequests   int
	WindowSeconds int
	Enabled       bool
}

func (c RateLimitConfig) limit() rate.Limit {
	if c.MaxRequests <= 0 || c.WindowSeconds <= 0 {
		return 0
	}
	return rate.Every(time.Duration(c.WindowSeconds) * time.Second / time.Duration(c.MaxRequests))
}

func (c RateLimitConfig) matches(endpoint string) bool {
	if p, ok := strings.CutSuffix(c.Endpoint, "*"); ok {
		return strings.HasPrefix(endpoint, p)
	}
	return endpoint == c.Endpoint
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies the rate_limits rules per client IP. Rules are
// reloaded from the database by StartReloader; idle clients are dropped.
type RateLimiter struct {
	db      *sql.DB
	mu      sync.Mutex
	rules   []RateLimitConfig // exact rules first, then longest prefix
	clients map[string]*clientLimiter
	exclude []string
	now     func() time.Time
}

// NewRateLimiter creates a limiter with the current rules in db. Paths with
// one of excludePrefixes are never limited.
func NewRateLimiter(db *sql.DB, excludePrefixes ...string) *RateLimiter {
	rl := &RateLimiter{
		db:      db,
		clients: make(map[string]*clientLimiter),
		exclude: excludePrefixes,
		now:     time.Now,
	}
	rl.reload()
	return rl
}

// StartReloader reloads rules every minute and drops clients idle for ten
// minutes. Stops when done is closed.
func (rl *RateLimiter) StartReloader(done <-chan struct{}) {
	reloadTick := time.NewTicker(time.Minute)
	gcTick := time.NewTicker(5 * time.Minute)
	go func() {
		defer reloadTick.Stop()
		defer gcTick.Stop()
		for {
			select {
			case <-done:
				return
			case <-reloadTick.C:
				rl.reload()
			case <-gcTick.C:
				rl.mu.Lock()
				rl.gcLocked(rl.now().Add(-10 * time.Minute))
				rl.mu.Unlock()
			}
		}
	}()
}

func (rl *RateLimiter) reload() {
	rows, err := rl.db.Query(`SELECT endpoint, max_requests, window_seconds, enabled FROM rate_limits`)
	if err != nil {
		slog.Warn("ratelimit: failed to reload rules", "error", err)
		return
	}
	defer rows.Close()

	var rules []RateLimitConfig
	for rows.Next() {
		var (
			cfg     RateLimitConfig
			enabled int
		)
		if err := rows.Scan(&cfg.Endpoint, &cfg.MaxRequests, &cfg.WindowSeconds, &enabled); err != nil {
			continue
		}
		cfg.Enabled = enabled == 1
		rules = append(rules, cfg)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		wi, wj := strings.HasSuffix(rules[i].Endpoint, "*"), strings.HasSuffix(rules[j].Endpoint, "*")
		if wi != wj {
			return !wi
		}
		return len(rules[i].Endpoint) > len(rules[j].Endpoint)
	})

	rl.mu.Lock()
	changed := len(rules) != len(rl.rules)
	for i := 0; !changed && i < len(rules); i++ {
		changed = rules[i] != rl.rules[i]
	}
	rl.rules = rules
	if changed {
		// Buckets were sized for the old rules.
		clear(rl.clients)
	}
	rl.mu.Unlock()

	slog.Debug("ratelimit: rules reloaded", "count", len(rules))
}

func (rl *RateLimiter) rule(endpoint string) (RateLimitConfig, bool) {
	for _, r := range rl.rules {
		if r.matches(endpoint) {
			return r, r.Enabled
		}
	}
	return RateLimitConfig{}, false
}

func (rl *RateLimiter) allow(ip, endpoint string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cfg, ok := rl.rule(endpoint)
	if !ok {
		return true
	}

	now := rl.now()
	key := ip + "|" + cfg.Endpoint
	c, ok := rl.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(cfg.limit(), cfg.MaxRequests)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	if len(rl.clients) > 10_000 {
		rl.gcLocked(now.Add(-10 * time.Minute))
	}
	return c.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) gcLocked(threshold time.Time) {
	for k, c := range rl.clients {
		if c.lastSeen.Before(threshold) {
			delete(rl.clients, k)
		}
	}
}

// Middleware enforces the limits. Browser navigations are redirected back
// with a flash message; everything else gets a JSON 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		endpoint := r.Method + " " + r.URL.Path
		ip := ExtractIP(r)
		if rl.allow(ip, endpoint) {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip, "endpoint", endpoint)
		w.Header().Set("Retry-After", "60")

		if !wantsHTML(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}

		SetFlash(w, "error", "Too many requests, please wait a moment.")
		referer := r.Header.Get("Referer")
		if referer == "" {
			referer = r.URL.Path
		}
		http.Redirect(w, r, referer, http.StatusSeeOther)
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
