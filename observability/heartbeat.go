package observability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

// RuntimeMetrics is a snapshot of Go process health.
type RuntimeMetrics struct {
	Goroutines    int
	MemoryAllocMB float64
	MemorySysMB   float64
	GCCount       uint32
}

// CollectRuntimeMetrics reads the current runtime stats.
func CollectRuntimeMetrics() RuntimeMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
		MemorySysMB:   float64(mem.Sys) / 1024 / 1024,
		GCCount:       mem.NumGC,
	}
}

// HeartbeatWriter periodically records that a service is alive, together
// with its runtime metrics. When Metrics is set each beat also feeds the
// goroutine and memory timeseries.
type HeartbeatWriter struct {
	db       *sql.DB
	service  string
	hostname string
	pid      int
	interval time.Duration

	Metrics *MetricsManager

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewHeartbeatWriter creates a writer. Recommended interval: 15s.
func NewHeartbeatWriter(db *sql.DB, service string, interval time.Duration) *HeartbeatWriter {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &HeartbeatWriter{
		db:       db,
		service:  service,
		hostname: hostname,
		pid:      os.Getpid(),
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start writes one heartbeat immediately, then one per interval until Stop
// or ctx is done.
func (hw *HeartbeatWriter) Start(ctx context.Context) {
	go hw.loop(ctx)
}

// Beat writes a single heartbeat row.
func (hw *HeartbeatWriter) Beat(ctx context.Context) error {
	m := CollectRuntimeMetrics()
	now := time.Now()
	_, err := hw.db.ExecContext(ctx, `
		INSERT INTO service_heartbeats
			(service, hostname, pid, timestamp, goroutines, memory_alloc_mb, memory_sys_mb, gc_count)
		VALUES (?,?,?,?,?,?,?,?)`,
		hw.service, hw.hostname, hw.pid, now.Unix(),
		m.Goroutines, m.MemoryAllocMB, m.MemorySysMB, m.GCCount)
	if err != nil {
		return fmt.Errorf("insert heartbeat: %w", err)
	}
	if hw.Metrics != nil {
		labels := map[string]string{"service": hw.service}
		hw.Metrics.Record(&Metric{Name: MetricGoroutines, Timestamp: now, Value: float64(m.Goroutines), Labels: labels, Unit: "count"})
		hw.Metrics.Record(&Metric{Name: MetricMemoryAllocMB, Timestamp: now, Value: m.MemoryAllocMB, Labels: labels, Unit: "megabytes"})
	}
	return nil
}

// Stop ends the loop and waits for it. Safe to call more than once, but
// only after Start.
func (hw *HeartbeatWriter) Stop() {
	hw.stopOnce.Do(func() {
		close(hw.stop)
		<-hw.done
	})
}

func (hw *HeartbeatWriter) loop(ctx context.Context) {
	defer close(hw.done)
	ticker := time.NewTicker(hw.interval)
	defer ticker.Stop()

	for {
		if err := hw.Beat(ctx); err != nil && ctx.Err() == nil {
			slog.Error("heartbeat write failed", "error", err, "service", hw.service)
		}
		select {
		case <-ctx.Done():
			return
		case <-hw.stop:
			return
		case <-ticker.C:
		}
	}
}

// HeartbeatStatus is the latest heartbeat of a service with its liveness.
type HeartbeatStatus struct {
	Service       string         `json:"service"`
	Hostname      string         `json:"hostname"`
	PID           int            `json:"pid"`
	Timestamp     time.Time      `json:"timestamp"`
	Goroutines    int            `json:"goroutines"`
	MemoryAllocMB float64        `json:"memory_alloc_mb"`
	MemorySysMB   float64        `json:"memory_sys_mb"`
	GCCount       int            `json:"gc_count"`
	Alive         bool           `json:"alive"`
	StaleFor      *time.Duration `json:"stale_for,omitempty"`
}

// LatestHeartbeat returns the newest heartbeat of service. A beat older than
// staleAfter (typically three intervals) is reported as not alive. It
// returns nil, nil when the service never beat.
func LatestHeartbeat(ctx context.Context, db *sql.DB, service string, staleAfter time.Duration) (*HeartbeatStatus, error) {
	var (
		hs HeartbeatStatus
		ts int64
	)
	err := db.QueryRowContext(ctx, `
		SELECT service, hostname, pid, timestamp,
		       COALESCE(goroutines, 0), COALESCE(memory_alloc_mb, 0),
		       COALESCE(memory_sys_mb, 0), COALESCE(gc_count, 0)
		FROM service_heartbeats
		WHERE service = ?
		ORDER BY timestamp DESC, rowid DESC LIMIT 1`, service).
		Scan(&hs.Service, &hs.Hostname, &hs.PID, &ts,
			&hs.Goroutines, &hs.MemoryAllocMB, &hs.MemorySysMB, &hs.GCCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest heartbeat: %w", err)
	}

	hs.Timestamp = time.Unix(ts, 0)
	if age := time.Since(hs.Timestamp); age <= staleAfter {
		hs.Alive = true
	} else {
		stale := age - staleAfter
		hs.StaleFor = &stale
	}
	return &hs, nil
}
