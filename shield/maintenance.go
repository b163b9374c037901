package shield

import (
	"database/sql"
	"encoding/json"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const defaultMaintenanceMessage = "Feedback is temporarily unavailable."

// MaintenanceMode answers 503 while the maintenance row is active. The flag
// lives in the maintenance table and is cached in memory; a missing table or
// row means maintenance is off.
type MaintenanceMode struct {
	db      *sql.DB
	active  atomic.Bool
	message atomic.Value // string
	exclude []string     // path prefixes that bypass maintenance (e.g. /healthz)
	page    []byte       // static HTML served during maintenance
}

// NewMaintenanceMode creates a maintenance mode checker. Paths matching any of
// excludePrefixes are never blocked.
func NewMaintenanceMode(db *sql.DB, excludePrefixes ...string) *MaintenanceMode {
	m := &MaintenanceMode{
		db:      db,
		exclude: excludePrefixes,
	}
	m.message.Store(defaultMaintenanceMessage)
	m.reload()
	return m
}

// Active reports whether maintenance mode is currently on.
func (m *MaintenanceMode) Active() bool {
	return m.active.Load()
}

// Message returns the current maintenance message.
func (m *MaintenanceMode) Message() string {
	s, _ := m.message.Load().(string)
	return s
}

// SetPage sets custom HTML served to browsers during maintenance.
func (m *MaintenanceMode) SetPage(html []byte) {
	m.page = html
}

// Set turns maintenance on or off and persists the flag.
func (m *MaintenanceMode) Set(active bool, message string) error {
	if message == "" {
		message = defaultMaintenanceMessage
	}
	_, err := m.db.Exec(`
		INSERT INTO maintenance (id, active, message) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET active = excluded.active, message = excluded.message`,
		active, message)
	if err != nil {
		return err
	}
	m.reload()
	return nil
}

// StartReloader reloads the flag every 5 seconds until done is closed.
func (m *MaintenanceMode) StartReloader(done <-chan struct{}) {
	tick := time.NewTicker(5 * time.Second)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				m.reload()
			}
		}
	}()
}

func (m *MaintenanceMode) reload() {
	var (
		active  int
		message string
	)
	err := m.db.QueryRow(`SELECT active, message FROM maintenance WHERE id = 1`).Scan(&active, &message)
	if err != nil {
		if m.active.Load() {
			slog.Info("maintenance: flag cleared (table missing or empty)")
		}
		m.active.Store(false)
		return
	}

	was := m.active.Swap(active == 1)
	if message != "" {
		m.message.Store(message)
	}
	switch {
	case active == 1 && !was:
		slog.Warn("maintenance: mode enabled", "message", message)
	case active != 1 && was:
		slog.Info("maintenance: mode disabled")
	}
}

// Middleware blocks requests with 503 while maintenance is active: an HTML
// page for browsers, JSON for the widget and API clients.
func (m *MaintenanceMode) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.active.Load() {
			next.ServeHTTP(w, r)
			return
		}
		for _, prefix := range m.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("Retry-After", "300")
		if !wantsHTML(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": m.Message()})
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		if len(m.page) > 0 {
			w.Write(m.page)
			return
		}
		w.Write([]byte(defaultMaintenancePage(m.Message())))
	})
}

func defaultMaintenancePage(message string) string {
	return `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Maintenance</title>
<style>
  body { font-family: system-ui, sans-serif; display: flex; align-items: center;
         justify-content: center; min-height: 100vh; margin: 0; background: #f8f9fa; color: #333; }
  .box { text-align: center; max-width: 480px; padding: 2rem; }
  h1 { font-size: 1.5rem; margin-bottom: .5rem; }
  p  { color: #666; }
</style>
</head>
<body>
<div class="box">
  <h1>Maintenance</h1>
  <p>` + html.EscapeString(message) + `</p>
</div>
</body>
</html>`
}
