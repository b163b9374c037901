package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/feedshot/auth"
	"github.com/hazyhaar/feedshot/feedback"
	"github.com/hazyhaar/feedshot/observability"
	"github.com/hazyhaar/feedshot/shield"
)

const version = "0.1.0"

type server struct {
	cfg config
	db  *sql.DB
	log *slog.Logger

	widget    *feedback.Widget
	mcp       *mcp.Server
	metrics   *observability.MetricsManager
	audit     *observability.AuditLogger
	heartbeat *observability.HeartbeatWriter
	guard     *shield.Guard
	stack     []func(http.Handler) http.Handler
}

// newServer wires the feedback widget, observability and shield onto db.
// The schemas must already be applied.
func newServer(cfg config, db *sql.DB, log *slog.Logger) (*server, error) {
	s := &server{cfg: cfg, db: db, log: log}
	s.metrics = observability.NewMetricsManager(db, 100, 5*time.Second)
	s.audit = observability.NewAuditLogger(db, 1000)
	s.heartbeat = observability.NewHeartbeatWriter(db, serviceName, cfg.Heartbeat)
	s.heartbeat.Metrics = s.metrics
	s.stack, s.guard = shield.DefaultStack(db)

	w, err := feedback.New(feedback.Config{
		DB:              db,
		AppName:         cfg.AppName,
		Admin:           auth.RequireRole(auth.RoleAdmin),
		MaxReportBytes:  int64(cfg.MaxReportMB) << 20,
		OnReportCreated: s.reportCreated,
		OnStatusChanged: s.statusChanged,
		Events:          observability.NewEventLogger(db),
		Audit:           s.audit,
		Logger:          log,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.widget = w

	s.mcp = mcp.NewServer(&mcp.Implementation{Name: serviceName, Version: version}, nil)
	w.RegisterMCP(s.mcp)
	return s, nil
}

// Close flushes metrics and audit entries. The heartbeat stops with the
// context passed to Start.
func (s *server) Close() {
	s.metrics.Close()
	s.audit.Close()
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	for _, mw := range s.stack {
		r.Use(mw)
	}
	r.Use(auth.Middleware(s.cfg.Secret))

	r.Get("/healthz", s.handleHealth)
	r.Get("/login", s.handleLoginPage)
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)
	r.Mount("/feedback", s.widget.Handler())

	r.With(auth.RequireAuth).Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/feedback/reports.html", http.StatusSeeOther)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole(auth.RoleAdmin))
		r.Get("/admin/metrics", s.handleMetrics)
		r.Post("/admin/maintenance", s.handleMaintenance)
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil))
	})
	return r
}

func (s *server) reportCreated(rep feedback.Report) {
	s.metrics.Count(observability.MetricReportsCreated, map[string]string{
		"type":     string(rep.ReportType),
		"priority": string(rep.Priority),
	})
	if n := len(rep.Screenshots); n > 0 {
		s.metrics.Record(&observability.Metric{
			Name:   observability.MetricScreenshotsReceived,
			Value:  float64(n),
			Labels: map[string]string{"type": string(rep.ReportType)},
			Unit:   "count",
		})
	}
}

func (s *server) statusChanged(rep feedback.Report, from, to feedback.Status) {
	s.log.Info("feedbackd: status changed", "report_id", rep.ID, "from", from, "to", to)
}

// retentionLoop prunes observability tables every interval until ctx ends.
func (s *server) retentionLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			removed, err := observability.Cleanup(ctx, s.db, observability.RetentionConfig{
				EventDays:     s.cfg.RetentionDays,
				AuditDays:     s.cfg.RetentionDays,
				MetricsDays:   s.cfg.RetentionDays,
				HeartbeatDays: 7,
			})
			if err != nil {
				s.log.Error("feedbackd: retention", "error", err)
				continue
			}
			s.log.Debug("feedbackd: retention", "removed", removed)
		}
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
		return
	}
	hb, err := observability.LatestHeartbeat(r.Context(), s.db, serviceName, 3*s.cfg.Heartbeat)
	if err != nil {
		shield.GetLogger(r.Context()).Error("feedbackd: heartbeat lookup", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error"})
		return
	}
	if hb == nil || !hb.Alive {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "stale", "heartbeat": hb})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "heartbeat": hb})
}

type metricsSummary struct {
	Since         time.Time          `json:"since"`
	Captures      map[string]float64 `json:"captures"`      // by outcome
	CaptureModes  map[string]float64 `json:"captureModes"`  // by mode
	Reports       map[string]float64 `json:"reports"`       // by type
	Screenshots   map[string]float64 `json:"screenshots"`   // by report type
	FailedToolOps int                `json:"failedToolOps"` // MCP calls that errored
}

// handleMetrics summarizes the counters recorded since ?since= (a duration,
// default 24h).
func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be a positive duration"})
			return
		}
		window = d
	}
	s.metrics.Flush()

	ctx := r.Context()
	out := metricsSummary{Since: time.Now().Add(-window).UTC()}
	var err error
	for _, q := range []struct {
		dst          *map[string]float64
		name, label string
	}{
		{&out.Captures, observability.MetricCaptureTotal, "outcome"},
		{&out.CaptureModes, observability.MetricCaptureTotal, "mode"},
		{&out.Reports, observability.MetricReportsCreated, "type"},
		{&out.Screenshots, observability.MetricScreenshotsReceived, "type"},
	} {
		if *q.dst, err = s.metrics.Totals(ctx, q.name, q.label, out.Since); err != nil {
			break
		}
	}
	if err == nil {
		var failed []*observability.AuditEntry
		failed, err = s.audit.Query(ctx, observability.AuditFilter{Since: out.Since, Status: observability.StatusError, Limit: 1000})
		out.FailedToolOps = len(failed)
	}
	if err != nil {
		shield.GetLogger(ctx).Error("feedbackd: metrics", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active  bool   `json:"active"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.guard.Maintenance.Set(req.Active, req.Message); err != nil {
		shield.GetLogger(r.Context()).Error("feedbackd: maintenance", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	log := shield.GetLogger(r.Context())
	if err := s.audit.Log(r.Context(), s.audit.NewEntry(r.Context(), serviceName, "set_maintenance", req, nil, nil, 0)); err != nil {
		log.Error("feedbackd: audit maintenance", "error", err)
	}
	log.Info("feedbackd: maintenance", "active", req.Active, "by", auth.GetClaims(r.Context()).Name)
	writeJSON(w, http.StatusOK, map[string]any{"active": s.guard.Maintenance.Active(), "message": s.guard.Maintenance.Message()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
