package shield

import "database/sql"

// Schema holds the shield tables. rate_limits rows are keyed by
// "METHOD /path"; a trailing "*" matches any path with that prefix.
// maintenance has a single row, id 1.
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    endpoint       TEXT PRIMARY KEY,
    max_requests   INTEGER NOT NULL DEFAULT 60,
    window_seconds INTEGER NOT NULL DEFAULT 60,
    enabled        INTEGER NOT NULL DEFAULT 1
);

INSERT OR IGNORE INTO rate_limits (endpoint, max_requests, window_seconds) VALUES
    ('POST /feedback/reports', 10, 60),
    ('POST /feedback/reports/*', 30, 60),
    ('POST /login', 5, 60);

CREATE TABLE IF NOT EXISTS maintenance (
    id      INTEGER PRIMARY KEY CHECK (id = 1),
    active  INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT 'Feedback is temporarily unavailable.'
);

INSERT OR IGNORE INTO maintenance (id, active, message)
VALUES (1, 0, 'Feedback is temporarily unavailable.');
`

// Init creates the shield tables and default rules if they don't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
