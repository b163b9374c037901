package observability

import "database/sql"

// Schema is the DDL for the observability tables. Init applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS service_heartbeats (
    service TEXT NOT NULL,
    hostname TEXT NOT NULL,
    pid INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    goroutines INTEGER NOT NULL DEFAULT 0,
    memory_alloc_mb REAL NOT NULL DEFAULT 0,
    memory_sys_mb REAL NOT NULL DEFAULT 0,
    gc_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_service_time
    ON service_heartbeats(service, timestamp DESC);

-- timestamp in unix milliseconds
CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id TEXT PRIMARY KEY DEFAULT ('met_' || hex(randomblob(16))),
    metric_name TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    value REAL NOT NULL,
    labels TEXT,
    unit TEXT
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);

-- timestamp in unix milliseconds
CREATE TABLE IF NOT EXISTS audit_log (
    entry_id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    component TEXT NOT NULL,
    operation TEXT NOT NULL,
    user_id TEXT NOT NULL DEFAULT '',
    trace_id TEXT NOT NULL DEFAULT '',
    transport TEXT NOT NULL DEFAULT '',
    parameters TEXT NOT NULL DEFAULT '',
    result TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_operation ON audit_log(component, operation);

CREATE TABLE IF NOT EXISTS business_event_logs (
    event_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    service_name TEXT NOT NULL,
    entity_type TEXT,
    entity_id TEXT,
    user_id TEXT,
    action TEXT NOT NULL,
    details TEXT,
    success INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_logs_entity ON business_event_logs(entity_type, entity_id, created_at DESC);
`

// Init applies the observability schema to db.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
