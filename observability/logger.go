package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/feedshot/idgen"
)

// BusinessEvent is a domain-level event, such as a report being created or
// its status changing.
type BusinessEvent struct {
	EventType   string
	ServiceName string
	EntityType  string
	EntityID    string
	UserID      string
	Action      string
	Details     string // optional JSON
	Success     bool
}

// EventLogger writes business events.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets the event ID generator.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by db.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records a business event. Failures are logged, never returned.
func (l *EventLogger) LogEvent(ctx context.Context, event BusinessEvent) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO business_event_logs (
			event_id, event_type, service_name, entity_type, entity_id,
			user_id, action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		l.newID(), event.EventType, event.ServiceName, event.EntityType, event.EntityID,
		event.UserID, event.Action, event.Details, event.Success, time.Now().Unix())
	if err != nil {
		slog.Error("observability event log failed", "error", err, "event_type", event.EventType)
	}
}

// RetentionConfig sets per-table retention in days. Zero keeps everything.
type RetentionConfig struct {
	EventDays     int
	AuditDays     int
	MetricsDays   int
	HeartbeatDays int
	Vacuum        bool
}

// retentionTargets pairs each table with its time column and unit.
var retentionTargets = []struct {
	table  string
	column string
	millis bool
	days   func(RetentionConfig) int
}{
	{"business_event_logs", "created_at", false, func(c RetentionConfig) int { return c.EventDays }},
	{"audit_log", "timestamp", true, func(c RetentionConfig) int { return c.AuditDays }},
	{"metrics_timeseries", "timestamp", true, func(c RetentionConfig) int { return c.MetricsDays }},
	{"service_heartbeats", "timestamp", false, func(c RetentionConfig) int { return c.HeartbeatDays }},
}

// Cleanup deletes rows older than the configured retention and returns the
// number of rows removed per table.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) (map[string]int64, error) {
	return cleanupAt(ctx, db, cfg, time.Now())
}

func cleanupAt(ctx context.Context, db *sql.DB, cfg RetentionConfig, now time.Time) (map[string]int64, error) {
	removed := map[string]int64{}
	for _, t := range retentionTargets {
		days := t.days(cfg)
		if days <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -days)
		bound := cutoff.Unix()
		if t.millis {
			bound = cutoff.UnixMilli()
		}
		res, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column), bound)
		if err != nil {
			return removed, fmt.Errorf("cleanup %s: %w", t.table, err)
		}
		n, _ := res.RowsAffected()
		removed[t.table] = n
	}
	if cfg.Vacuum {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return removed, fmt.Errorf("vacuum: %w", err)
		}
	}
	return removed, nil
}
