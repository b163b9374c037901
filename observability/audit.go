package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/feedshot/idgen"
	"github.com/hazyhaar/feedshot/kit"
)

// Audit statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// AuditEntry records one operation against the feedback store, typically a
// triage action issued by an admin over HTTP or MCP.
type AuditEntry struct {
	EntryID   string    `json:"entry_id"`
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"` // "feedback", "mcp", "shot"
	Operation string    `json:"operation"` // "feedback_set_status", "capture_full"

	UserID    string `json:"user_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
	Transport string `json:"transport,omitempty"`

	Parameters   string `json:"parameters,omitempty"` // JSON
	Result       string `json:"result,omitempty"`     // JSON
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
	Status       string `json:"status"`
}

// AuditFilter selects entries from the audit log. Zero fields are unbounded.
type AuditFilter struct {
	Since     time.Time
	Until     time.Time
	Component string
	Operation string
	Status    string
	UserID    string
	Limit     int // default 100
	Offset    int
}

// AuditLogger persists audit entries, batching asynchronous writes.
type AuditLogger struct {
	db        *sql.DB
	newID     idgen.Generator
	batchSize int
	interval  time.Duration
	ch        chan *AuditEntry
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// AuditOption configures an AuditLogger.
type AuditOption func(*AuditLogger)

// WithAuditIDGenerator sets the entry ID generator.
func WithAuditIDGenerator(gen idgen.Generator) AuditOption {
	return func(a *AuditLogger) { a.newID = gen }
}

// WithAuditFlushInterval sets how often queued entries are written.
func WithAuditFlushInterval(d time.Duration) AuditOption {
	return func(a *AuditLogger) { a.interval = d }
}

// NewAuditLogger creates an async audit logger. Recommended bufferSize: 1000.
func NewAuditLogger(db *sql.DB, bufferSize int, opts ...AuditOption) *AuditLogger {
	a := &AuditLogger{
		db:        db,
		newID:     idgen.Prefixed("aud_", idgen.Default),
		batchSize: 100,
		interval:  5 * time.Second,
		ch:        make(chan *AuditEntry, bufferSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.flushLoop()
	return a
}

// NewEntry builds an entry for an operation that just finished. The caller
// identity, trace ID and transport come from ctx; params and result are
// stored as JSON, result only when err is nil.
func (a *AuditLogger) NewEntry(ctx context.Context, component, operation string, params, result any, err error, d time.Duration) *AuditEntry {
	caller := kit.CallerFrom(ctx)
	e := &AuditEntry{
		EntryID:    a.newID(),
		Timestamp:  time.Now(),
		Component:  component,
		Operation:  operation,
		UserID:     caller.UserID,
		TraceID:    caller.TraceID,
		Transport:  caller.Transport,
		DurationMs: d.Milliseconds(),
		Status:     StatusSuccess,
	}
	if params != nil {
		if b, merr := json.Marshal(params); merr == nil {
			e.Parameters = string(b)
		}
	}
	if err != nil {
		e.Status = StatusError
		e.ErrorMessage = err.Error()
		return e
	}
	if result != nil {
		if b, merr := json.Marshal(result); merr == nil {
			e.Result = string(b)
		}
	}
	return e
}

// Log inserts an entry synchronously.
func (a *AuditLogger) Log(ctx context.Context, e *AuditEntry) error {
	a.fillDefaults(e)
	return insertAudit(ctx, a.db, e)
}

// LogAsync queues an entry. A full queue falls back to a synchronous insert.
func (a *AuditLogger) LogAsync(e *AuditEntry) {
	a.fillDefaults(e)
	select {
	case a.ch <- e:
	default:
		slog.Warn("observability audit: queue full, writing inline", "operation", e.Operation)
		if err := insertAudit(context.Background(), a.db, e); err != nil {
			slog.Error("observability audit: inline write", "error", err)
		}
	}
}

// Query returns entries matching f, newest first.
func (a *AuditLogger) Query(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	q := `SELECT entry_id, timestamp, component, operation, user_id, trace_id,
		transport, parameters, result, error_message, duration_ms, status
		FROM audit_log WHERE 1=1`
	var args []any
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		q += " AND timestamp <= ?"
		args = append(args, f.Until.UnixMilli())
	}
	for _, c := range []struct{ col, val string }{
		{"component", f.Component},
		{"operation", f.Operation},
		{"status", f.Status},
		{"user_id", f.UserID},
	} {
		if c.val != "" {
			q += " AND " + c.col + " = ?"
			args = append(args, c.val)
		}
	}
	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " ORDER BY timestamp DESC, entry_id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, max(f.Offset, 0))

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			ts int64
		)
		if err := rows.Scan(&e.EntryID, &ts, &e.Component, &e.Operation,
			&e.UserID, &e.TraceID, &e.Transport, &e.Parameters, &e.Result,
			&e.ErrorMessage, &e.DurationMs, &e.Status); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Close drains the queue and stops the flush goroutine.
func (a *AuditLogger) Close() error {
	a.closeOnce.Do(func() {
		close(a.stop)
		<-a.done
	})
	return nil
}

func (a *AuditLogger) fillDefaults(e *AuditEntry) {
	if e.EntryID == "" {
		e.EntryID = a.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Status == "" {
		e.Status = StatusSuccess
		if e.ErrorMessage != "" {
			e.Status = StatusError
		}
	}
}

func (a *AuditLogger) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	batch := make([]*AuditEntry, 0, a.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			slog.Error("observability audit: begin tx", "error", err)
			return
		}
		for _, e := range batch {
			if err := insertAudit(ctx, tx, e); err != nil {
				slog.Error("observability audit: insert", "error", err, "entry_id", e.EntryID)
			}
		}
		if err := tx.Commit(); err != nil {
			slog.Error("observability audit: commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-a.stop:
			for {
				select {
				case e := <-a.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-a.ch:
			batch = append(batch, e)
			if len(batch) >= a.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAudit(ctx context.Context, db execer, e *AuditEntry) error {
	_, err := db.ExecContext(ctx, `INSERT INTO audit_log
		(entry_id, timestamp, component, operation, user_id, trace_id,
		 transport, parameters, result, error_message, duration_ms, status)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Timestamp.UnixMilli(), e.Component, e.Operation,
		e.UserID, e.TraceID, e.Transport, e.Parameters, e.Result,
		e.ErrorMessage, e.DurationMs, e.Status)
	return err
}
