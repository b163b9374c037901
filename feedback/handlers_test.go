package feedback

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/feedshot/auth"
	"github.com/hazyhaar/feedshot/screenshot"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// newTestServer mounts the widget the way feedbackd does: claims from
// auth.Middleware, triage guarded by the admin role.
func newTestServer(t *testing.T) (*Widget, http.Handler) {
	t.Helper()
	w := newTestWidget(t, Config{
		Admin:          auth.RequireRole(auth.RoleAdmin),
		MaxReportBytes: 256 << 10,
	})
	r := chi.NewRouter()
	r.Use(auth.Middleware(testSecret))
	r.Mount("/feedback", w.Handler())
	return w, r
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := auth.GenerateToken(testSecret, &auth.Claims{UserID: userID, Name: userID, Role: role}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func do(t *testing.T, h http.Handler, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "feedshot-test/1.0")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v", v, err)
	}
	return v
}

func TestHandleCreate(t *testing.T) {
	_, h := newTestServer(t)
	in := ReportInput{
		Title:       "Chart is blank",
		Description: "The dashboard chart renders empty.",
		PageURL:     "https://app.example.com/dash",
		Screenshots: []screenshot.Screenshot{shot(t, "s1", screenshot.Snippet)},
	}
	rec := do(t, h, http.MethodPost, "/feedback/reports", token(t, "u42", auth.RoleReporter), in)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got %d, body: %s", rec.Code, rec.Body.String())
	}
	r := decode[Report](t, rec)
	if r.ReporterID != "u42" || r.ReporterName != "u42" || r.ReporterRole != auth.RoleReporter {
		t.Errorf("reporter from claims: got %q %q %q", r.ReporterID, r.ReporterName, r.ReporterRole)
	}
	if r.BrowserInfo != "feedshot-test/1.0" {
		t.Errorf("browser info from user agent: got %q", r.BrowserInfo)
	}
	if r.ScreenshotCount != 1 || len(r.Screenshots) != 1 || r.Screenshots[0].Image.MIME != "image/png" {
		t.Errorf("screenshots: count=%d %+v", r.ScreenshotCount, r.Screenshots)
	}
}

func TestHandleCreate_Errors(t *testing.T) {
	_, h := newTestServer(t)
	tests := []struct {
		name    string
		body    any
		code    int
		details string
	}{
		{"malformed json", `{"title":`, http.StatusBadRequest, ""},
		{"missing title", ReportInput{Description: "d"}, http.StatusBadRequest, "title is required"},
		{"bad data url", `{"title":"t","description":"d","screenshots":[{"id":"a","captureMode":"full","dataUrl":"nope"}]}`, http.StatusBadRequest, ""},
		{"too large", `{"title":"` + strings.Repeat("x", 300<<10) + `"}`, http.StatusRequestEntityTooLarge, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/feedback/reports", "", tt.body)
			if rec.Code != tt.code {
				t.Fatalf("got %d, want %d: %s", rec.Code, tt.code, rec.Body.String())
			}
			if tt.details != "" {
				body := decode[map[string]string](t, rec)
				if body["details"] != tt.details {
					t.Errorf("details: got %q, want %q", body["details"], tt.details)
				}
			}
		})
	}
}

func TestAdminRoutes_Guarded(t *testing.T) {
	w, h := newTestServer(t)
	r := mustCreate(t, w, ReportInput{})

	paths := []string{"/feedback/reports", "/feedback/reports/" + r.ID, "/feedback/stats", "/feedback/reports.html"}
	for _, p := range paths {
		if rec := do(t, h, http.MethodGet, p, "", nil); rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s anonymous: got %d", p, rec.Code)
		}
		if rec := do(t, h, http.MethodGet, p, token(t, "u1", auth.RoleReporter), nil); rec.Code != http.StatusForbidden {
			t.Errorf("GET %s reporter: got %d", p, rec.Code)
		}
		if rec := do(t, h, http.MethodGet, p, token(t, "a1", auth.RoleAdmin), nil); rec.Code != http.StatusOK {
			t.Errorf("GET %s admin: got %d", p, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodDelete, "/feedback/reports/"+r.ID, "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("DELETE anonymous: got %d", rec.Code)
	}
}

func TestHandleTriage(t *testing.T) {
	w, h := newTestServer(t)
	r := mustCreate(t, w, ReportInput{})
	admin := token(t, "a1", auth.RoleAdmin)

	rec := do(t, h, http.MethodPatch, "/feedback/reports/"+r.ID, admin,
		map[string]any{"status": "in_review", "actorName": "Robin"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[Report](t, rec); got.Status != StatusInReview {
		t.Errorf("status: got %s", got.Status)
	}

	rec = do(t, h, http.MethodPatch, "/feedback/reports/"+r.ID, admin, map[string]any{"status": "done"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad status: got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/feedback/reports/"+r.ID, admin, nil)
	got := decode[Report](t, rec)
	if len(got.Events) != 2 || got.Events[0].ActorID != "a1" {
		t.Errorf("events: %+v", got.Events)
	}

	rec = do(t, h, http.MethodGet, "/feedback/reports?status=in_review", admin, nil)
	if page := decode[ReportPage](t, rec); page.Pagination.Total != 1 {
		t.Errorf("filtered list: %+v", page.Pagination)
	}

	rec = do(t, h, http.MethodDelete, "/feedback/reports/"+r.ID, admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/feedback/reports/"+r.ID, admin, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: %d", rec.Code)
	}
}

func TestHandleCommentAndUpvote(t *testing.T) {
	w, h := newTestServer(t)
	r := mustCreate(t, w, ReportInput{})
	user := token(t, "u7", auth.RoleReporter)

	rec := do(t, h, http.MethodPost, "/feedback/reports/"+r.ID+"/comments", user,
		CommentInput{Content: "Also on mobile", AuthorName: "Lee"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("comment: %d %s", rec.Code, rec.Body.String())
	}
	if c := decode[Comment](t, rec); c.AuthorID != "u7" || c.AuthorName != "Lee" || c.AuthorRole != auth.RoleReporter {
		t.Errorf("comment author: got %+v", c)
	}

	for _, want := range []bool{true, false} {
		rec = do(t, h, http.MethodPost, "/feedback/reports/"+r.ID+"/upvote", user, `{}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("upvote: %d %s", rec.Code, rec.Body.String())
		}
		if got := decode[map[string]bool](t, rec); got["upvoted"] != want {
			t.Errorf("upvoted: got %v, want %v", got["upvoted"], want)
		}
	}

	if rec := do(t, h, http.MethodPost, "/feedback/reports/"+r.ID+"/upvote", "", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("anonymous upvote: got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/feedback/reports/rpt_nope/comments", user,
		CommentInput{Content: "x", AuthorName: "y"}); rec.Code != http.StatusNotFound {
		t.Errorf("comment on missing report: got %d", rec.Code)
	}
}

func TestHandleScreenshotDownload(t *testing.T) {
	w, h := newTestServer(t)
	s := shot(t, "s1", screenshot.Full)
	r := mustCreate(t, w, ReportInput{Screenshots: []screenshot.Screenshot{s}})
	admin := token(t, "a1", auth.RoleAdmin)

	rec := do(t, h, http.MethodGet, "/feedback/reports/"+r.ID+"/screenshots/s1", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type: %q", ct)
	}
	wantName := `attachment; filename="screenshot_2026-10-17T09-00-00-000Z.png"`
	if cd := rec.Header().Get("Content-Disposition"); cd != wantName {
		t.Errorf("content disposition: got %q, want %q", cd, wantName)
	}
	if !bytes.Equal(rec.Body.Bytes(), s.Image.Data) {
		t.Error("body differs from stored image")
	}

	if rec := do(t, h, http.MethodGet, "/feedback/reports/"+r.ID+"/screenshots/nope", admin, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown screenshot: %d", rec.Code)
	}
}

func TestHandleListHTML_Escapes(t *testing.T) {
	w, h := newTestServer(t)
	mustCreate(t, w, ReportInput{Title: "a < b", PageURL: "https://app.example.com/x?q=1"})

	rec := do(t, h, http.MethodGet, "/feedback/reports.html", token(t, "a1", auth.RoleAdmin), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("html: %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(rec.Header().Get("Content-Type"), "text/html") {
		t.Errorf("content type: %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(body, "Feedback · testapp (1)") {
		t.Error("missing heading")
	}
	if strings.Contains(body, "a < b") {
		t.Error("title not escaped")
	}
	if !strings.Contains(body, `href="https://app.example.com/x?q=1"`) {
		t.Errorf("page link missing:\n%s", body)
	}
}

func TestWidgetAssets(t *testing.T) {
	_, h := newTestServer(t)
	tests := []struct {
		path, ctype, contains string
	}{
		{"/feedback/widget.js", "application/javascript", "FeedshotWidget"},
		{"/feedback/widget.css", "text/css", ".fs-panel"},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodGet, tt.path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: %d", tt.path, rec.Code)
		}
		if !strings.HasPrefix(rec.Header().Get("Content-Type"), tt.ctype) {
			t.Errorf("%s content type: %q", tt.path, rec.Header().Get("Content-Type"))
		}
		if !strings.Contains(rec.Body.String(), tt.contains) {
			t.Errorf("%s: missing %q", tt.path, tt.contains)
		}
		if cc := rec.Header().Get("Cache-Control"); strings.Contains(cc, "immutable") {
			t.Errorf("%s: unversioned URL cached as %q", tt.path, cc)
		}

		etag := rec.Header().Get("ETag")
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		req.Header.Set("If-None-Match", etag)
		cached := httptest.NewRecorder()
		h.ServeHTTP(cached, req)
		if etag == "" || cached.Code != http.StatusNotModified || cached.Body.Len() != 0 {
			t.Errorf("%s: revalidation with %q = %d (%d bytes)", tt.path, etag, cached.Code, cached.Body.Len())
		}

		versioned := do(t, h, http.MethodGet, tt.path+"?v="+AssetVersion(), "", nil)
		if cc := versioned.Header().Get("Cache-Control"); !strings.Contains(cc, "immutable") {
			t.Errorf("%s: versioned URL Cache-Control = %q", tt.path, cc)
		}
	}
	if len(AssetVersion()) != 12 {
		t.Errorf("AssetVersion() = %q", AssetVersion())
	}
}

func TestRegisterMux(t *testing.T) {
	w := newTestWidget(t, Config{})
	mux := http.NewServeMux()
	w.RegisterMux(mux, "/fb/")

	rec := do(t, mux, http.MethodPost, "/fb/reports", "", ReportInput{Title: "t", Description: "d"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create via mux: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, mux, http.MethodGet, "/fb/stats", "", nil); rec.Code != http.StatusOK {
		t.Errorf("unguarded stats: %d", rec.Code)
	}
}
