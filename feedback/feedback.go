// Package feedback is the backend the capture widget reports to: bug and
// feature reports with their screenshots, a triage workflow, comments and
// upvotes, stored in SQLite.
//
// The HTTP surface is a chi router from [Widget.Handler]; [Widget.RegisterMCP]
// exposes triage to MCP clients and [Client] submits reports from Go.
package feedback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/feedshot/idgen"
	"github.com/hazyhaar/feedshot/kit"
	"github.com/hazyhaar/feedshot/observability"
	"github.com/hazyhaar/feedshot/screenshot"
)

// ReportType classifies a report.
type ReportType string

const (
	TypeBug             ReportType = "bug"
	TypeFeatureRequest  ReportType = "feature_request"
	TypeEnhancement     ReportType = "enhancement"
	TypeGeneralFeedback ReportType = "general_feedback"
)

// ReportTypes lists every ReportType.
var ReportTypes = []ReportType{TypeBug, TypeFeatureRequest, TypeEnhancement, TypeGeneralFeedback}

// Valid reports whether t is a known type.
func (t ReportType) Valid() bool {
	switch t {
	case TypeBug, TypeFeatureRequest, TypeEnhancement, TypeGeneralFeedback:
		return true
	}
	return false
}

// Priority is the triage priority.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Priorities lists every Priority.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Status is the triage state of a report.
type Status string

const (
	StatusNew        Status = "new"
	StatusInReview   Status = "in_review"
	StatusPlanned    Status = "planned"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

// Statuses lists every Status.
var Statuses = []Status{StatusNew, StatusInReview, StatusPlanned, StatusInProgress, StatusResolved, StatusClosed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusInReview, StatusPlanned, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Report is a stored feedback report.
type Report struct {
	ID         string     `json:"id"`
	AppName    string     `json:"appName,omitempty"`
	ReportType ReportType `json:"reportType"`
	Priority   Priority   `json:"priority"`
	Status     Status     `json:"status"`

	Title            string `json:"title"`
	Description      string `json:"description"`
	StepsToReproduce string `json:"stepsToReproduce,omitempty"`
	ExpectedBehavior string `json:"expectedBehavior,omitempty"`
	ActualBehavior   string `json:"actualBehavior,omitempty"`

	PageURL          string `json:"pageUrl,omitempty"`
	PageTitle        string `json:"pageTitle,omitempty"`
	BrowserInfo      string `json:"browserInfo,omitempty"`
	ScreenResolution string `json:"screenResolution,omitempty"`

	ReporterID    string `json:"reporterId,omitempty"`
	ReporterName  string `json:"reporterName,omitempty"`
	ReporterEmail string `json:"reporterEmail,omitempty"`
	ReporterRole  string `json:"reporterRole,omitempty"`

	AssignedTo      string     `json:"assignedTo,omitempty"`
	AssignedToName  string     `json:"assignedToName,omitempty"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy      string     `json:"resolvedBy,omitempty"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`

	UpvoteCount     int       `json:"upvoteCount"`
	CommentCount    int       `json:"commentCount"`
	ScreenshotCount int       `json:"screenshotCount"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`

	// Filled by GetReport only.
	Screenshots []screenshot.Screenshot `json:"screenshots,omitempty"`
	Comments    []Comment               `json:"comments,omitempty"`
	Events      []Event                 `json:"events,omitempty"`
}

// Comment is a discussion entry on a report.
type Comment struct {
	ID              string    `json:"id"`
	ReportID        string    `json:"reportId"`
	Content         string    `json:"content"`
	IsInternal      bool      `json:"isInternal"`
	AuthorID        string    `json:"authorId,omitempty"`
	AuthorName      string    `json:"authorName"`
	AuthorRole      string    `json:"authorRole,omitempty"`
	ParentCommentID string    `json:"parentCommentId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Event is an entry in a report's audit trail.
type Event struct {
	ID            string    `json:"id"`
	ReportID      string    `json:"reportId"`
	EventType     string    `json:"eventType"`
	PreviousValue string    `json:"previousValue,omitempty"`
	NewValue      string    `json:"newValue,omitempty"`
	Description   string    `json:"description,omitempty"`
	ActorID       string    `json:"actorId,omitempty"`
	ActorName     string    `json:"actorName,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Event types written by the store.
const (
	EventCreated      = "created"
	EventStatusChange = "status_change"
	EventAssigned     = "assigned"
)

// Stats aggregates reports by status, type and priority.
type Stats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"byStatus"`
	ByType     map[string]int `json:"byType"`
	ByPriority map[string]int `json:"byPriority"`
}

var (
	// ErrNotFound is returned for an unknown report or comment.
	ErrNotFound = errors.New("feedback: not found")
	// ErrInvalid wraps every input validation failure.
	ErrInvalid = errors.New("feedback: invalid input")
)

// UserIDFunc extracts a user identifier from the HTTP request.
// Return "" for anonymous feedback.
type UserIDFunc func(r *http.Request) string

// Config holds the settings needed to create a Widget.
type Config struct {
	DB      *sql.DB
	AppName string

	// UserIDFn identifies the caller for reporter and upvote attribution.
	// Nil uses the kit user ID set by auth middleware, if any.
	UserIDFn UserIDFunc

	// Admin guards triage routes. Nil leaves them open.
	Admin func(http.Handler) http.Handler

	// MaxReportBytes caps a report submission, screenshots included.
	// Default: 16 MiB.
	MaxReportBytes int64

	OnReportCreated func(Report)
	OnStatusChanged func(r Report, from, to Status)

	// Events, when set, receives a business event per write.
	Events *observability.EventLogger

	// Audit, when set, records every MCP tool call.
	Audit *observability.AuditLogger

	NewID  idgen.Generator  // default: rpt_/cmt_/evt_ prefixed UUIDv7
	Now    func() time.Time // default: time.Now
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxReportBytes <= 0 {
		c.MaxReportBytes = 16 << 20
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Widget manages the feedback system: schema, store, HTTP handlers, MCP
// tools and the embedded browser assets.
type Widget struct {
	db     *sql.DB
	cfg    Config
	log    *slog.Logger
	policy *bluemonday.Policy

	reportID  idgen.Generator
	commentID idgen.Generator
	eventID   idgen.Generator
}

// New creates a Widget and applies the database schema.
func New(cfg Config) (*Widget, error) {
	if cfg.DB == nil {
		return nil, errors.New("feedback: DB is required")
	}
	cfg.defaults()
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := cfg.DB.Exec(stmt); err != nil {
			return nil, fmt.Errorf("feedback schema: %w", err)
		}
	}

	w := &Widget{
		db:        cfg.DB,
		cfg:       cfg,
		log:       cfg.Logger,
		policy:    bluemonday.StrictPolicy(),
		reportID:  idgen.Prefixed("rpt_", idgen.Default),
		commentID: idgen.Prefixed("cmt_", idgen.Default),
		eventID:   idgen.Prefixed("evt_", idgen.Default),
	}
	if cfg.NewID != nil {
		w.reportID, w.commentID, w.eventID = cfg.NewID, cfg.NewID, cfg.NewID
	}
	return w, nil
}

// logFor returns the widget logger tagged with the caller: transport, trace
// ID, user and client address when known.
func (w *Widget) logFor(ctx context.Context) *slog.Logger {
	return w.log.With(kit.CallerFrom(ctx).LogAttrs()...)
}

// clean strips all markup from user text and returns it unescaped; every
// renderer escapes on output.
func (w *Widget) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(w.policy.Sanitize(s)))
}
