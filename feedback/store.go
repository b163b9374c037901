package feedback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/feedshot/dbopen"
	"github.com/hazyhaar/feedshot/observability"
	"github.com/hazyhaar/feedshot/safe"
	"github.com/hazyhaar/feedshot/screenshot"
)

// Field limits.
const (
	MaxTitleLen    = 200
	MaxTextLen     = 10000
	MaxCommentLen  = 5000
	MaxScreenshots = 10

	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ReportInput is a new report as submitted by the widget.
type ReportInput struct {
	ReportType       ReportType `json:"reportType"`
	Priority         Priority   `json:"priority"`
	Status           Status     `json:"status"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	StepsToReproduce string     `json:"stepsToReproduce"`
	ExpectedBehavior string     `json:"expectedBehavior"`
	ActualBehavior   string     `json:"actualBehavior"`
	PageURL          string     `json:"pageUrl"`
	PageTitle        string     `json:"pageTitle"`
	BrowserInfo      string     `json:"browserInfo"`
	ScreenResolution string     `json:"screenResolution"`
	ReporterID       string     `json:"reporterId"`
	ReporterName     string     `json:"reporterName"`
	ReporterEmail    string     `json:"reporterEmail"`
	ReporterRole     string     `json:"reporterRole"`

	Screenshots []screenshot.Screenshot `json:"screenshots"`
}

// ReportPatch updates triage fields. Nil fields are left unchanged.
type ReportPatch struct {
	Status          *Status   `json:"status"`
	Priority        *Priority `json:"priority"`
	AssignedTo      *string   `json:"assignedTo"`
	AssignedToName  *string   `json:"assignedToName"`
	ResolvedBy      *string   `json:"resolvedBy"`
	ResolutionNotes *string   `json:"resolutionNotes"`

	ActorID   string `json:"actorId"`
	ActorName string `json:"actorName"`
}

// CommentInput is a new comment.
type CommentInput struct {
	Content         string `json:"content"`
	IsInternal      bool   `json:"isInternal"`
	AuthorID        string `json:"authorId"`
	AuthorName      string `json:"authorName"`
	AuthorRole      string `json:"authorRole"`
	ParentCommentID string `json:"parentCommentId"`
}

// ListFilter selects and pages reports. Zero fields match everything.
type ListFilter struct {
	Status     Status     `json:"status,omitempty"`
	ReportType ReportType `json:"reportType,omitempty"`
	Priority   Priority   `json:"priority,omitempty"`
	Search     string     `json:"search,omitempty"`
	Page       int        `json:"page,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}

func (f *ListFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultPageSize
	case f.Limit > MaxPageSize:
		f.Limit = MaxPageSize
	}
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// ReportPage is a page of reports, newest first.
type ReportPage struct {
	Reports    []Report   `json:"reports"`
	Pagination Pagination `json:"pagination"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// CreateReport validates and stores in with its screenshots.
func (w *Widget) CreateReport(ctx context.Context, in ReportInput) (*Report, error) {
	r, err := w.newReport(in)
	if err != nil {
		return nil, err
	}

	err = dbopen.RunTx(ctx, w.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feedback_reports (
				id, app_name, report_type, priority, status, title, description,
				steps_to_reproduce, expected_behavior, actual_behavior,
				page_url, page_title, browser_info, screen_resolution,
				reporter_id, reporter_name, reporter_email, reporter_role,
				created_at, updated_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			r.ID, r.AppName, r.ReportType, r.Priority, r.Status, r.Title, r.Description,
			r.StepsToReproduce, r.ExpectedBehavior, r.ActualBehavior,
			r.PageURL, r.PageTitle, r.BrowserInfo, r.ScreenResolution,
			r.ReporterID, r.ReporterName, r.ReporterEmail, r.ReporterRole,
			r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli())
		if err != nil {
			return err
		}
		for i, s := range r.Screenshots {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO feedback_screenshots (
					report_id, id, position, capture_mode, mime, data,
					thumb_mime, thumbnail, annotations, captured_at
				) VALUES (?,?,?,?,?,?,?,?,?,?)`,
				r.ID, s.ID, i, s.Mode, s.Image.MIME, s.Image.Data,
				s.Thumbnail.MIME, s.Thumbnail.Data, s.AnnotationNote, s.Timestamp.UnixMilli())
			if err != nil {
				return fmt.Errorf("screenshot %s: %w", s.ID, err)
			}
		}
		return w.insertEvent(ctx, tx, Event{
			ReportID:  r.ID,
			EventType: EventCreated,
			NewValue:  string(r.Status),
			ActorID:   r.ReporterID,
			ActorName: r.ReporterName,
			CreatedAt: r.CreatedAt,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("feedback: create report: %w", err)
	}

	w.logFor(ctx).Info("feedback: report created",
		"id", r.ID, "type", r.ReportType, "priority", r.Priority, "screenshots", len(r.Screenshots))
	w.logEvent(ctx, "report_created", r.ID, r.ReporterID, string(r.ReportType))
	if w.cfg.OnReportCreated != nil {
		w.cfg.OnReportCreated(*r)
	}
	return r, nil
}

func (w *Widget) newReport(in ReportInput) (*Report, error) {
	now := w.cfg.Now().UTC()
	r := &Report{
		ID:               w.reportID(),
		AppName:          w.cfg.AppName,
		ReportType:       in.ReportType,
		Priority:         in.Priority,
		Status:           in.Status,
		Title:            w.clean(in.Title),
		Description:      w.clean(in.Description),
		StepsToReproduce: w.clean(in.StepsToReproduce),
		ExpectedBehavior: w.clean(in.ExpectedBehavior),
		ActualBehavior:   w.clean(in.ActualBehavior),
		PageURL:          strings.TrimSpace(in.PageURL),
		PageTitle:        w.clean(in.PageTitle),
		BrowserInfo:      w.clean(in.BrowserInfo),
		ScreenResolution: w.clean(in.ScreenResolution),
		ReporterID:       strings.TrimSpace(in.ReporterID),
		ReporterName:     w.clean(in.ReporterName),
		ReporterEmail:    strings.TrimSpace(in.ReporterEmail),
		ReporterRole:     w.clean(in.ReporterRole),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if r.ReportType == "" {
		r.ReportType = TypeBug
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if r.Status == "" {
		r.Status = StatusNew
	}

	switch {
	case !r.ReportType.Valid():
		return nil, invalid("unknown reportType %q", in.ReportType)
	case !r.Priority.Valid():
		return nil, invalid("unknown priority %q", in.Priority)
	case !r.Status.Valid():
		return nil, invalid("unknown status %q", in.Status)
	case r.Title == "":
		return nil, invalid("title is required")
	case utf8.RuneCountInString(r.Title) > MaxTitleLen:
		return nil, invalid("title exceeds %d characters", MaxTitleLen)
	case r.Description == "":
		return nil, invalid("description is required")
	case len(r.Description) > MaxTextLen:
		return nil, invalid("description exceeds %d bytes", MaxTextLen)
	case r.PageURL != "" && !isSafeURL(r.PageURL):
		return nil, invalid("pageUrl must be http or https")
	case len(in.Screenshots) > MaxScreenshots:
		return nil, invalid("at most %d screenshots", MaxScreenshots)
	}
	if r.ReporterEmail != "" {
		if _, err := mail.ParseAddress(r.ReporterEmail); err != nil {
			return nil, invalid("reporterEmail is not an email address")
		}
	}

	seen := make(map[string]bool, len(in.Screenshots))
	for _, s := range in.Screenshots {
		if err := safe.ValidateID(s.ID); err != nil {
			return nil, invalid("screenshot id: %v", err)
		}
		// The constructor applies the thumbnail fallback and the draw note.
		ss, err := screenshot.New(s.ID, s.Mode, s.Image, s.Thumbnail, s.Timestamp)
		if err != nil {
			return nil, invalid("screenshot %q: %v", s.ID, err)
		}
		if seen[ss.ID] {
			return nil, invalid("duplicate screenshot %q", ss.ID)
		}
		seen[ss.ID] = true
		if ss.Timestamp.IsZero() {
			ss.Timestamp = now
		}
		r.Screenshots = append(r.Screenshots, ss)
	}
	r.ScreenshotCount = len(r.Screenshots)
	return r, nil
}

const reportCols = `r.id, r.app_name, r.report_type, r.priority, r.status, r.title, r.description,
	r.steps_to_reproduce, r.expected_behavior, r.actual_behavior,
	r.page_url, r.page_title, r.browser_info, r.screen_resolution,
	r.reporter_id, r.reporter_name, r.reporter_email, r.reporter_role,
	r.assigned_to, r.assigned_to_name, r.resolved_at, r.resolved_by, r.resolution_notes,
	r.upvote_count, r.comment_count,
	(SELECT COUNT(*) FROM feedback_screenshots s WHERE s.report_id = r.id),
	r.created_at, r.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(sc scanner) (*Report, error) {
	var (
		r                Report
		resolved         sql.NullInt64
		created, updated int64
	)
	err := sc.Scan(&r.ID, &r.AppName, &r.ReportType, &r.Priority, &r.Status, &r.Title, &r.Description,
		&r.StepsToReproduce, &r.ExpectedBehavior, &r.ActualBehavior,
		&r.PageURL, &r.PageTitle, &r.BrowserInfo, &r.ScreenResolution,
		&r.ReporterID, &r.ReporterName, &r.ReporterEmail, &r.ReporterRole,
		&r.AssignedTo, &r.AssignedToName, &resolved, &r.ResolvedBy, &r.ResolutionNotes,
		&r.UpvoteCount, &r.CommentCount, &r.ScreenshotCount,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	if resolved.Valid {
		t := fromMillis(resolved.Int64)
		r.ResolvedAt = &t
	}
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	return &r, nil
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (w *Widget) loadReport(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id string) (*Report, error) {
	r, err := scanReport(q.QueryRowContext(ctx,
		`SELECT `+reportCols+` FROM feedback_reports r WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("feedback: load report: %w", err)
	}
	return r, nil
}

// ListReports returns one page of reports matching f, newest first.
// Screenshots, comments and events are not loaded.
func (w *Widget) ListReports(ctx context.Context, f ListFilter) (*ReportPage, error) {
	f.normalize()

	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "r.status = ?")
		args = append(args, f.Status)
	}
	if f.ReportType != "" {
		where = append(where, "r.report_type = ?")
		args = append(args, f.ReportType)
	}
	if f.Priority != "" {
		where = append(where, "r.priority = ?")
		args = append(args, f.Priority)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + escapeLike(s) + "%"
		where = append(where, `(r.title LIKE ? ESCAPE '\' OR r.description LIKE ? ESCAPE '\')`)
		args = append(args, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := w.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM feedback_reports r`+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("feedback: count reports: %w", err)
	}

	rows, err := w.db.QueryContext(ctx,
		`SELECT `+reportCols+` FROM feedback_reports r`+clause+
			` ORDER BY r.created_at DESC, r.rowid DESC LIMIT ? OFFSET ?`,
		append(args, f.Limit, (f.Page-1)*f.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("feedback: list reports: %w", err)
	}
	defer rows.Close()

	page := &ReportPage{
		Reports: []Report{},
		Pagination: Pagination{
			Page:       f.Page,
			Limit:      f.Limit,
			Total:      total,
			TotalPages: (total + f.Limit - 1) / f.Limit,
		},
	}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("feedback: scan report: %w", err)
		}
		page.Reports = append(page.Reports, *r)
	}
	return page, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// GetReport returns a report with its screenshots, comments and events.
// Comments and events are newest first.
func (w *Widget) GetReport(ctx context.Context, id string) (*Report, error) {
	r, err := w.loadReport(ctx, w.db, id)
	if err != nil {
		return nil, err
	}
	if r.Screenshots, err = w.Screenshots(ctx, id); err != nil {
		return nil, err
	}
	if r.Comments, err = w.comments(ctx, id); err != nil {
		return nil, err
	}
	if r.Events, err = w.events(ctx, id); err != nil {
		return nil, err
	}
	return r, nil
}

// Screenshots returns a report's screenshots in submission order.
func (w *Widget) Screenshots(ctx context.Context, reportID string) ([]screenshot.Screenshot, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT id, capture_mode, mime, data, thumb_mime, thumbnail, annotations, captured_at
		FROM feedback_screenshots WHERE report_id = ? ORDER BY position`, reportID)
	if err != nil {
		return nil, fmt.Errorf("feedback: screenshots: %w", err)
	}
	defer rows.Close()

	var out []screenshot.Screenshot
	for rows.Next() {
		var (
			s  screenshot.Screenshot
			at int64
		)
		if err := rows.Scan(&s.ID, &s.Mode, &s.Image.MIME, &s.Image.Data,
			&s.Thumbnail.MIME, &s.Thumbnail.Data, &s.AnnotationNote, &at); err != nil {
			return nil, fmt.Errorf("feedback: scan screenshot: %w", err)
		}
		s.Timestamp = fromMillis(at)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (w *Widget) comments(ctx context.Context, reportID string) ([]Comment, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT id, report_id, content, is_internal, author_id, author_name, author_role,
		       parent_comment_id, created_at, updated_at
		FROM feedback_report_comments WHERE report_id = ?
		ORDER BY created_at DESC, rowid DESC`, reportID)
	if err != nil {
		return nil, fmt.Errorf("feedback: comments: %w", err)
	}
	defer rows.Close()

	out := []Comment{}
	for rows.Next() {
		var (
			c                Comment
			created, updated int64
		)
		if err := rows.Scan(&c.ID, &c.ReportID, &c.Content, &c.IsInternal, &c.AuthorID, &c.AuthorName,
			&c.AuthorRole, &c.ParentCommentID, &created, &updated); err != nil {
			return nil, fmt.Errorf("feedback: scan comment: %w", err)
		}
		c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (w *Widget) events(ctx context.Context, reportID string) ([]Event, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT id, report_id, event_type, previous_value, new_value, description,
		       actor_id, actor_name, created_at
		FROM feedback_report_events WHERE report_id = ?
		ORDER BY created_at DESC, rowid DESC`, reportID)
	if err != nil {
		return nil, fmt.Errorf("feedback: events: %w", err)
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var (
			e  Event
			at int64
		)
		if err := rows.Scan(&e.ID, &e.ReportID, &e.EventType, &e.PreviousValue, &e.NewValue,
			&e.Description, &e.ActorID, &e.ActorName, &at); err != nil {
			return nil, fmt.Errorf("feedback: scan event: %w", err)
		}
		e.CreatedAt = fromMillis(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (w *Widget) insertEvent(ctx context.Context, tx *sql.Tx, e Event) error {
	if e.ID == "" {
		e.ID = w.eventID()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO feedback_report_events (
			id, report_id, event_type, previous_value, new_value, description,
			actor_id, actor_name, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ReportID, e.EventType, e.PreviousValue, e.NewValue, e.Description,
		e.ActorID, e.ActorName, e.CreatedAt.UnixMilli())
	return err
}

// UpdateReport applies p. A status change is recorded as an event, stamps
// resolvedAt when moving to resolved and fires OnStatusChanged.
func (w *Widget) UpdateReport(ctx context.Context, id string, p ReportPatch) (*Report, error) {
	if p.Status != nil && !p.Status.Valid() {
		return nil, invalid("unknown status %q", *p.Status)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return nil, invalid("unknown priority %q", *p.Priority)
	}
	actor := w.clean(p.ActorName)
	if actor == "" {
		actor = "System"
	}

	var (
		before, after *Report
		statusChanged bool
	)
	err := dbopen.RunTx(ctx, w.db, func(tx *sql.Tx) error {
		var err error
		before, err = w.loadReport(ctx, tx, id)
		if err != nil {
			return err
		}
		now := w.cfg.Now().UTC()

		sets := []string{"updated_at = ?"}
		args := []any{now.UnixMilli()}
		set := func(col string, v any) {
			sets = append(sets, col+" = ?")
			args = append(args, v)
		}

		statusChanged = p.Status != nil && *p.Status != before.Status
		if statusChanged {
			set("status", *p.Status)
			switch {
			case *p.Status == StatusResolved:
				set("resolved_at", now.UnixMilli())
			case before.Status == StatusResolved && *p.Status != StatusClosed:
				set("resolved_at", nil)
			}
			if err := w.insertEvent(ctx, tx, Event{
				ReportID:      id,
				EventType:     EventStatusChange,
				PreviousValue: string(before.Status),
				NewValue:      string(*p.Status),
				ActorID:       p.ActorID,
				ActorName:     actor,
				CreatedAt:     now,
			}); err != nil {
				return err
			}
		}
		if p.Priority != nil {
			set("priority", *p.Priority)
		}
		if p.AssignedTo != nil {
			set("assigned_to", strings.TrimSpace(*p.AssignedTo))
			if *p.AssignedTo != before.AssignedTo {
				if err := w.insertEvent(ctx, tx, Event{
					ReportID:      id,
					EventType:     EventAssigned,
					PreviousValue: before.AssignedTo,
					NewValue:      strings.TrimSpace(*p.AssignedTo),
					ActorID:       p.ActorID,
					ActorName:     actor,
					CreatedAt:     now,
				}); err != nil {
					return err
				}
			}
		}
		if p.AssignedToName != nil {
			set("assigned_to_name", w.clean(*p.AssignedToName))
		}
		if p.ResolvedBy != nil {
			set("resolved_by", w.clean(*p.ResolvedBy))
		}
		if p.ResolutionNotes != nil {
			set("resolution_notes", w.clean(*p.ResolutionNotes))
		}

		args = append(args, id)
		if _, err := tx.ExecContext(ctx,
			`UPDATE feedback_reports SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
			return err
		}
		after, err = w.loadReport(ctx, tx, id)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("feedback: update report: %w", err)
	}

	if statusChanged {
		w.logFor(ctx).Info("feedback: status changed", "id", id, "from", before.Status, "to", after.Status, "actor", actor)
		w.logEvent(ctx, "status_changed", id, p.ActorID, string(before.Status)+"->"+string(after.Status))
		if w.cfg.OnStatusChanged != nil {
			w.cfg.OnStatusChanged(*after, before.Status, after.Status)
		}
	}
	return after, nil
}

// DeleteReport removes a report and everything attached to it, returning
// the deleted report.
func (w *Widget) DeleteReport(ctx context.Context, id string) (*Report, error) {
	var deleted *Report
	err := dbopen.RunTx(ctx, w.db, func(tx *sql.Tx) error {
		var err error
		if deleted, err = w.loadReport(ctx, tx, id); err != nil {
			return err
		}
		for _, q := range []string{
			`DELETE FROM feedback_screenshots WHERE report_id = ?`,
			`DELETE FROM feedback_report_upvotes WHERE report_id = ?`,
			`DELETE FROM feedback_report_events WHERE report_id = ?`,
			`DELETE FROM feedback_report_comments WHERE report_id = ?`,
			`DELETE FROM feedback_reports WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("feedback: delete report: %w", err)
	}
	w.logFor(ctx).Info("feedback: report deleted", "id", id)
	w.logEvent(ctx, "report_deleted", id, "", "")
	return deleted, nil
}

// AddComment appends a comment and bumps the report's comment count.
func (w *Widget) AddComment(ctx context.Context, reportID string, in CommentInput) (*Comment, error) {
	now := w.cfg.Now().UTC()
	c := &Comment{
		ID:              w.commentID(),
		ReportID:        reportID,
		Content:         w.clean(in.Content),
		IsInternal:      in.IsInternal,
		AuthorID:        strings.TrimSpace(in.AuthorID),
		AuthorName:      w.clean(in.AuthorName),
		AuthorRole:      w.clean(in.AuthorRole),
		ParentCommentID: strings.TrimSpace(in.ParentCommentID),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	switch {
	case c.Content == "":
		return nil, invalid("content is required")
	case len(c.Content) > MaxCommentLen:
		return nil, invalid("content exceeds %d bytes", MaxCommentLen)
	case c.AuthorName == "":
		return nil, invalid("authorName is required")
	}

	err := dbopen.RunTx(ctx, w.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE feedback_reports SET comment_count = comment_count + 1, updated_at = ? WHERE id = ?`,
			now.UnixMilli(), reportID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if c.ParentCommentID != "" {
			var n int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM feedback_report_comments WHERE id = ? AND report_id = ?`,
				c.ParentCommentID, reportID).Scan(&n); err != nil {
				return err
			}
			if n == 0 {
				return invalid("parent comment %q not on this report", c.ParentCommentID)
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO feedback_report_comments (
				id, report_id, content, is_internal, author_id, author_name, author_role,
				parent_comment_id, created_at, updated_at
			) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			c.ID, c.ReportID, c.Content, c.IsInternal, c.AuthorID, c.AuthorName, c.AuthorRole,
			c.ParentCommentID, now.UnixMilli(), now.UnixMilli())
		return err
	})
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalid):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("feedback: add comment: %w", err)
	}
	w.logEvent(ctx, "comment_added", reportID, c.AuthorID, "")
	return c, nil
}

// ToggleUpvote adds userID's upvote, or removes it if already present, and
// reports whether the report is now upvoted by userID.
func (w *Widget) ToggleUpvote(ctx context.Context, reportID, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, invalid("userId is required")
	}

	var upvoted bool
	err := dbopen.RunTx(ctx, w.db, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM feedback_reports WHERE id = ?`, reportID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM feedback_report_upvotes WHERE report_id = ? AND user_id = ?`, reportID, userID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			upvoted = false
			_, err = tx.ExecContext(ctx,
				`UPDATE feedback_reports SET upvote_count = MAX(0, upvote_count - 1) WHERE id = ?`, reportID)
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO feedback_report_upvotes (report_id, user_id, created_at) VALUES (?,?,?)`,
			reportID, userID, w.cfg.Now().UnixMilli()); err != nil {
			return err
		}
		upvoted = true
		_, err = tx.ExecContext(ctx,
			`UPDATE feedback_reports SET upvote_count = upvote_count + 1 WHERE id = ?`, reportID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("feedback: toggle upvote: %w", err)
	}
	return upvoted, nil
}

// Stats counts reports in total and by status, type and priority.
func (w *Widget) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByStatus:   map[string]int{},
		ByType:     map[string]int{},
		ByPriority: map[string]int{},
	}
	if err := w.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback_reports`).Scan(&st.Total); err != nil {
		return nil, fmt.Errorf("feedback: stats: %w", err)
	}
	for col, dst := range map[string]map[string]int{
		"status":      st.ByStatus,
		"report_type": st.ByType,
		"priority":    st.ByPriority,
	} {
		rows, err := w.db.QueryContext(ctx,
			`SELECT `+col+`, COUNT(*) FROM feedback_reports GROUP BY `+col)
		if err != nil {
			return nil, fmt.Errorf("feedback: stats by %s: %w", col, err)
		}
		for rows.Next() {
			var (
				k string
				n int
			)
			if err := rows.Scan(&k, &n); err != nil {
				rows.Close()
				return nil, fmt.Errorf("feedback: scan stats: %w", err)
			}
			dst[k] = n
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (w *Widget) logEvent(ctx context.Context, action, reportID, userID, details string) {
	if w.cfg.Events == nil {
		return
	}
	w.cfg.Events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "feedback",
		ServiceName: w.cfg.AppName,
		EntityType:  "report",
		EntityID:    reportID,
		UserID:      userID,
		Action:      action,
		Details:     details,
		Success:     true,
	})
}

// isSafeURL returns true if the URL uses http or https scheme.
func isSafeURL(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
