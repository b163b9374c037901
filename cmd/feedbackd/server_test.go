package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/feedshot/auth"
	"github.com/hazyhaar/feedshot/dbopen"
	"github.com/hazyhaar/feedshot/feedback"
	"github.com/hazyhaar/feedshot/observability"
	"github.com/hazyhaar/feedshot/screenshot"
	"github.com/hazyhaar/feedshot/shield"
)

func newTestServer(t *testing.T) (*server, http.Handler) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithInit(shield.Init), dbopen.WithInit(observability.Init))
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config{
		AppName:       "testapp",
		Secret:        []byte("0123456789abcdef0123456789abcdef"),
		AdminUser:     "admin",
		AdminHash:     hash,
		SessionTTL:    time.Hour,
		Heartbeat:     time.Minute,
		RetentionDays: 90,
		MaxReportMB:   1,
	}
	s, err := newServer(cfg, db, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s, s.routes()
}

func token(t *testing.T, s *server, role string) string {
	t.Helper()
	tok, err := auth.GenerateToken(s.cfg.Secret, &auth.Claims{UserID: "u1", Name: "ada", Role: role}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func do(h http.Handler, method, path, bearer, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func cookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHealthz(t *testing.T) {
	s, h := newTestServer(t)

	rec := do(h, "GET", "/healthz", "", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("before first beat: status = %d, want 503", rec.Code)
	}

	if err := s.heartbeat.Beat(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec = do(h, "GET", "/healthz", "", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("after beat: status = %d, body %s", rec.Code, rec.Body)
	}
	var got struct {
		Status    string `json:"status"`
		Heartbeat struct {
			Service string `json:"service"`
			Alive   bool   `json:"alive"`
		} `json:"heartbeat"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "ok" || got.Heartbeat.Service != serviceName || !got.Heartbeat.Alive {
		t.Errorf("healthz = %+v", got)
	}
}

func TestLoginForm(t *testing.T) {
	_, h := newTestServer(t)
	form := func(user, pass string) string {
		return url.Values{"username": {user}, "password": {pass}}.Encode()
	}

	rec := do(h, "POST", "/login", "", "application/x-www-form-urlencoded", form("admin", "hunter22"))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/feedback/reports.html" {
		t.Fatalf("good login: %d -> %q", rec.Code, rec.Header().Get("Location"))
	}
	session := cookie(rec, auth.CookieName)
	if session == nil || session.Value == "" || !session.HttpOnly {
		t.Fatalf("session cookie = %+v", session)
	}

	req := httptest.NewRequest("GET", "/feedback/reports", nil)
	req.AddCookie(session)
	list := httptest.NewRecorder()
	h.ServeHTTP(list, req)
	if list.Code != http.StatusOK {
		t.Errorf("reports with session cookie: status = %d", list.Code)
	}

	rec = do(h, "POST", "/login", "", "application/x-www-form-urlencoded", form("admin", "wrong"))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Fatalf("bad login: %d -> %q", rec.Code, rec.Header().Get("Location"))
	}
	if cookie(rec, auth.CookieName) != nil {
		t.Error("bad login set a session cookie")
	}
	flash := cookie(rec, "feedshot_flash")
	if flash == nil {
		t.Fatal("bad login set no flash cookie")
	}

	req = httptest.NewRequest("GET", "/login", nil)
	req.AddCookie(flash)
	page := httptest.NewRecorder()
	h.ServeHTTP(page, req)
	body, _ := io.ReadAll(page.Body)
	if !strings.Contains(string(body), "Invalid username or password.") {
		t.Errorf("login page does not show the flash message:\n%s", body)
	}
}

func TestLoginJSON(t *testing.T) {
	s, h := newTestServer(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"valid", `{"username":"admin","password":"hunter22"}`, http.StatusOK},
		{"wrong password", `{"username":"admin","password":"nope"}`, http.StatusUnauthorized},
		{"wrong user", `{"username":"root","password":"hunter22"}`, http.StatusUnauthorized},
		{"malformed", `{"username":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, "POST", "/login", "", "application/json", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var out struct {
				Token string `json:"token"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
				t.Fatal(err)
			}
			claims, err := auth.ValidateToken(s.cfg.Secret, out.Token)
			if err != nil {
				t.Fatal(err)
			}
			want := auth.Claims{UserID: "admin:admin", Name: "admin", Role: auth.RoleAdmin}
			got := auth.Claims{UserID: claims.UserID, Name: claims.Name, Role: claims.Role}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("claims (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLogout(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(h, "POST", "/logout", "", "", "")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rec.Code)
	}
	if c := cookie(rec, auth.CookieName); c == nil || c.MaxAge >= 0 {
		t.Errorf("logout did not clear the session cookie: %+v", c)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	s, h := newTestServer(t)
	admin, reporter := token(t, s, auth.RoleAdmin), token(t, s, auth.RoleReporter)

	for _, path := range []string{"/feedback/reports", "/feedback/stats", "/admin/metrics"} {
		t.Run(path, func(t *testing.T) {
			for _, tc := range []struct {
				bearer string
				want   int
			}{
				{"", http.StatusUnauthorized},
				{reporter, http.StatusForbidden},
				{admin, http.StatusOK},
			} {
				if rec := do(h, "GET", path, tc.bearer, "", ""); rec.Code != tc.want {
					t.Errorf("status = %d, want %d", rec.Code, tc.want)
				}
			}
		})
	}
}

func TestRootRedirectsToLogin(t *testing.T) {
	s, h := newTestServer(t)

	rec := do(h, "GET", "/", "", "", "")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Errorf("anonymous: %d -> %q", rec.Code, rec.Header().Get("Location"))
	}
	rec = do(h, "GET", "/", token(t, s, auth.RoleAdmin), "", "")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/feedback/reports.html" {
		t.Errorf("admin: %d -> %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestMaintenanceToggle(t *testing.T) {
	s, h := newTestServer(t)
	admin := token(t, s, auth.RoleAdmin)
	report := `{"title":"Broken","description":"The page is blank"}`

	rec := do(h, "POST", "/admin/maintenance", admin, "application/json", `{"active":true,"message":"Upgrading"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable: status = %d: %s", rec.Code, rec.Body)
	}
	if !s.guard.Maintenance.Active() || s.guard.Maintenance.Message() != "Upgrading" {
		t.Fatalf("maintenance = %v %q", s.guard.Maintenance.Active(), s.guard.Maintenance.Message())
	}
	if rec := do(h, "POST", "/feedback/reports", "", "application/json", report); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("submit during maintenance: status = %d, want 503", rec.Code)
	}
	if rec := do(h, "GET", "/admin/metrics", admin, "", ""); rec.Code != http.StatusOK {
		t.Errorf("admin during maintenance: status = %d, want 200", rec.Code)
	}

	rec = do(h, "POST", "/admin/maintenance", admin, "application/json", `{"active":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable: status = %d: %s", rec.Code, rec.Body)
	}
	if rec := do(h, "POST", "/feedback/reports", "", "application/json", report); rec.Code != http.StatusCreated {
		t.Errorf("submit after maintenance: status = %d: %s", rec.Code, rec.Body)
	}

	entries, err := s.audit.Query(context.Background(), observability.AuditFilter{Operation: "set_maintenance"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("audit entries = %d, want 2", len(entries))
	}
}

func TestMaintenanceBadBody(t *testing.T) {
	s, h := newTestServer(t)
	rec := do(h, "POST", "/admin/maintenance", token(t, s, auth.RoleAdmin), "application/json", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMetricsCountReports(t *testing.T) {
	s, h := newTestServer(t)
	admin := token(t, s, auth.RoleAdmin)

	rec := do(h, "POST", "/feedback/reports", "", "application/json",
		`{"reportType":"bug","priority":"high","title":"Broken","description":"The page is blank"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d: %s", rec.Code, rec.Body)
	}
	s.reportCreated(feedback.Report{
		ReportType:  feedback.TypeFeatureRequest,
		Priority:    feedback.PriorityLow,
		Screenshots: []screenshot.Screenshot{{ID: "a"}, {ID: "b"}},
	})

	rec = do(h, "GET", "/admin/metrics?since=1h", admin, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status = %d: %s", rec.Code, rec.Body)
	}
	var got metricsSummary
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]float64{"bug": 1, "feature_request": 1}, got.Reports); diff != "" {
		t.Errorf("reports (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]float64{"feature_request": 2}, got.Screenshots); diff != "" {
		t.Errorf("screenshots (-want +got):\n%s", diff)
	}

	if rec := do(h, "GET", "/admin/metrics?since=soon", admin, "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad since: status = %d, want 400", rec.Code)
	}
}

func TestRetentionLoopStops(t *testing.T) {
	s, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.retentionLoop(ctx, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retentionLoop did not return after cancel")
	}
}
