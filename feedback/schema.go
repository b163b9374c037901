package feedback

const schema = `
CREATE TABLE IF NOT EXISTS feedback_reports (
    id                 TEXT PRIMARY KEY,
    app_name           TEXT NOT NULL DEFAULT '',
    report_type        TEXT NOT NULL DEFAULT 'bug',
    priority           TEXT NOT NULL DEFAULT 'medium',
    status             TEXT NOT NULL DEFAULT 'new',
    title              TEXT NOT NULL,
    description        TEXT NOT NULL,
    steps_to_reproduce TEXT NOT NULL DEFAULT '',
    expected_behavior  TEXT NOT NULL DEFAULT '',
    actual_behavior    TEXT NOT NULL DEFAULT '',
    page_url           TEXT NOT NULL DEFAULT '',
    page_title         TEXT NOT NULL DEFAULT '',
    browser_info       TEXT NOT NULL DEFAULT '',
    screen_resolution  TEXT NOT NULL DEFAULT '',
    reporter_id        TEXT NOT NULL DEFAULT '',
    reporter_name      TEXT NOT NULL DEFAULT '',
    reporter_email     TEXT NOT NULL DEFAULT '',
    reporter_role      TEXT NOT NULL DEFAULT '',
    assigned_to        TEXT NOT NULL DEFAULT '',
    assigned_to_name   TEXT NOT NULL DEFAULT '',
    resolved_at        INTEGER,
    resolved_by        TEXT NOT NULL DEFAULT '',
    resolution_notes   TEXT NOT NULL DEFAULT '',
    upvote_count       INTEGER NOT NULL DEFAULT 0 CHECK (upvote_count >= 0),
    comment_count      INTEGER NOT NULL DEFAULT 0,
    created_at         INTEGER NOT NULL,
    updated_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_reports_status ON feedback_reports(status);
CREATE INDEX IF NOT EXISTS idx_feedback_reports_type ON feedback_reports(report_type);
CREATE INDEX IF NOT EXISTS idx_feedback_reports_priority ON feedback_reports(priority);
CREATE INDEX IF NOT EXISTS idx_feedback_reports_created ON feedback_reports(created_at DESC);

CREATE TABLE IF NOT EXISTS feedback_report_comments (
    id                TEXT PRIMARY KEY,
    report_id         TEXT NOT NULL REFERENCES feedback_reports(id) ON DELETE CASCADE,
    content           TEXT NOT NULL,
    is_internal       INTEGER NOT NULL DEFAULT 0,
    author_id         TEXT NOT NULL DEFAULT '',
    author_name       TEXT NOT NULL,
    author_role       TEXT NOT NULL DEFAULT '',
    parent_comment_id TEXT NOT NULL DEFAULT '',
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_comments_report ON feedback_report_comments(report_id);

CREATE TABLE IF NOT EXISTS feedback_report_events (
    id             TEXT PRIMARY KEY,
    report_id      TEXT NOT NULL REFERENCES feedback_reports(id) ON DELETE CASCADE,
    event_type     TEXT NOT NULL,
    previous_value TEXT NOT NULL DEFAULT '',
    new_value      TEXT NOT NULL DEFAULT '',
    description    TEXT NOT NULL DEFAULT '',
    actor_id       TEXT NOT NULL DEFAULT '',
    actor_name     TEXT NOT NULL DEFAULT '',
    created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_events_report ON feedback_report_events(report_id);

CREATE TABLE IF NOT EXISTS feedback_report_upvotes (
    report_id  TEXT NOT NULL REFERENCES feedback_reports(id) ON DELETE CASCADE,
    user_id    TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (report_id, user_id)
);

CREATE TABLE IF NOT EXISTS feedback_screenshots (
    report_id    TEXT NOT NULL REFERENCES feedback_reports(id) ON DELETE CASCADE,
    id           TEXT NOT NULL,
    position     INTEGER NOT NULL,
    capture_mode TEXT NOT NULL,
    mime         TEXT NOT NULL,
    data         BLOB NOT NULL,
    thumb_mime   TEXT NOT NULL DEFAULT '',
    thumbnail    BLOB,
    annotations  TEXT NOT NULL DEFAULT '',
    captured_at  INTEGER NOT NULL,
    PRIMARY KEY (report_id, id)
);
`
