package feedback

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/hazyhaar/feedshot/auth"
	"github.com/hazyhaar/feedshot/screenshot"
)

func TestScreenshotsPDF(t *testing.T) {
	w := newTestWidget(t, Config{})
	ctx := context.Background()
	r := mustCreate(t, w, ReportInput{Screenshots: []screenshot.Screenshot{
		shot(t, "s1", screenshot.Full),
		shot(t, "s2", screenshot.Snippet),
	}})

	data, err := w.ScreenshotsPDF(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		t.Fatalf("page count: %v", err)
	}
	if n != 2 {
		t.Errorf("pages: got %d, want 2", n)
	}

	empty := mustCreate(t, w, ReportInput{})
	if _, err := w.ScreenshotsPDF(ctx, empty.ID); !errors.Is(err, ErrNoScreenshots) {
		t.Errorf("no screenshots: got %v", err)
	}
	if _, err := w.ScreenshotsPDF(ctx, "rpt_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing report: got %v", err)
	}
}

func TestHandlePDF(t *testing.T) {
	w, h := newTestServer(t)
	r := mustCreate(t, w, ReportInput{Screenshots: []screenshot.Screenshot{shot(t, "s1", screenshot.Full)}})

	rec := do(t, h, http.MethodGet, "/feedback/reports/"+r.ID+"/screenshots.pdf", token(t, "a1", auth.RoleAdmin), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pdf: %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type: %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Error("body is not a PDF")
	}
}
