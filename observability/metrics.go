// Package observability keeps feedshot's operational record in SQLite:
// capture and submission metrics, business events, an audit trail of
// triage operations and service heartbeats.
//
// Call Init on the database first, then build the components on it. Writes
// are buffered and asynchronous; a failing store logs and drops rather than
// blocking captures or requests.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Metric names recorded by feedshot.
const (
	MetricCaptureTotal        = "capture_total"         // labels: mode, outcome
	MetricCaptureDurationMs   = "capture_duration_ms"   // labels: mode, outcome
	MetricReportsCreated      = "feedback_reports_total" // labels: type, priority
	MetricScreenshotsReceived = "feedback_screenshots_total"
	MetricGoroutines          = "goroutines_count"
	MetricMemoryAllocMB       = "memory_alloc_mb"
)

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string
	Timestamp time.Time
	Value     float64
	Labels    map[string]string // optional
	Unit      string            // "count", "milliseconds", "megabytes"
}

// MetricQuery selects datapoints. Zero fields are unbounded.
type MetricQuery struct {
	Name  string
	Since time.Time
	Until time.Time
	Limit int
}

// MetricsManager buffers metrics and flushes them to SQLite in batches.
type MetricsManager struct {
	db            *sql.DB
	bufferSize    int
	flushInterval time.Duration
	buffer        []*Metric
	mu            sync.Mutex
	stop          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

// NewMetricsManager creates a manager that flushes when bufferSize metrics
// are pending or every flushInterval. Typical values: 100 and 5s.
func NewMetricsManager(db *sql.DB, bufferSize int, flushInterval time.Duration) *MetricsManager {
	mm := &MetricsManager{
		db:            db,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		buffer:        make([]*Metric, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go mm.flushLoop()
	return mm
}

// Record queues a metric for async persistence.
func (mm *MetricsManager) Record(m *Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.buffer = append(mm.buffer, m)
	if len(mm.buffer) >= mm.bufferSize {
		mm.flushLocked()
	}
}

// Count records a counter increment of 1 with labels.
func (mm *MetricsManager) Count(name string, labels map[string]string) {
	mm.Record(&Metric{Name: name, Value: 1, Labels: labels, Unit: "count"})
}

// Flush persists pending metrics now.
func (mm *MetricsManager) Flush() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.flushLocked()
}

// Query returns stored datapoints, newest first.
func (mm *MetricsManager) Query(ctx context.Context, mq MetricQuery) ([]*Metric, error) {
	q := "SELECT metric_name, timestamp, value, labels, unit FROM metrics_timeseries WHERE 1=1"
	var args []any
	if mq.Name != "" {
		q += " AND metric_name = ?"
		args = append(args, mq.Name)
	}
	if !mq.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, mq.Since.UnixMilli())
	}
	if !mq.Until.IsZero() {
		q += " AND timestamp <= ?"
		args = append(args, mq.Until.UnixMilli())
	}
	q += " ORDER BY timestamp DESC"
	if mq.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, mq.Limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var (
			m          Metric
			ts         int64
			labelsJSON sql.NullString
			unit       sql.NullString
		)
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labelsJSON, &unit); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		m.Unit = unit.String
		if labelsJSON.Valid {
			json.Unmarshal([]byte(labelsJSON.String), &m.Labels)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Totals sums a metric's values since the given time, grouped by one label.
// Datapoints without the label are grouped under "".
func (mm *MetricsManager) Totals(ctx context.Context, name, label string, since time.Time) (map[string]float64, error) {
	if label == "" || strings.ContainsAny(label, `"'$.[]`) {
		return nil, fmt.Errorf("totals: invalid label %q", label)
	}
	rows, err := mm.db.QueryContext(ctx, `
		SELECT COALESCE(json_extract(labels, '$.`+label+`'), ''), SUM(value)
		FROM metrics_timeseries
		WHERE metric_name = ? AND timestamp >= ?
		GROUP BY 1`, name, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("totals %s: %w", name, err)
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var (
			k string
			v float64
		)
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan totals: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Close flushes remaining metrics and stops the background goroutine.
// Query keeps working after Close.
func (mm *MetricsManager) Close() error {
	mm.closeOnce.Do(func() {
		close(mm.stop)
		<-mm.done
	})
	return nil
}

func (mm *MetricsManager) flushLoop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-mm.stop:
			mm.Flush()
			return
		case <-ticker.C:
			mm.Flush()
		}
	}
}

func (mm *MetricsManager) flushLocked() {
	if len(mm.buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("observability metrics: begin tx", "error", err)
		return
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		slog.Error("observability metrics: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, m := range mm.buffer {
		var labelsJSON sql.NullString
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labelsJSON = sql.NullString{String: string(b), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.UnixMilli(), m.Value, labelsJSON, m.Unit); err != nil {
			slog.Error("observability metrics: insert", "error", err, "metric", m.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("observability metrics: commit", "error", err)
	}
	mm.buffer = mm.buffer[:0]
}
