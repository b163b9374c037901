package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/feedshot/annotate"
	"github.com/hazyhaar/feedshot/dbopen"
	"github.com/hazyhaar/feedshot/geom"
	"github.com/hazyhaar/feedshot/observability"
	"github.com/hazyhaar/feedshot/screenshot"
	"github.com/hazyhaar/feedshot/selector"
)

var (
	red   = color.RGBA{0xff, 0, 0, 0xff}
	green = color.RGBA{0, 0xff, 0, 0xff}
	blue  = color.RGBA{0, 0, 0xff, 0xff}
)

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnCapture: func(s screenshot.Screenshot) {
			img, err := s.Image.Decode()
			if err != nil {
				panic(err)
			}
			r.mu.Lock()
			r.shots = append(r.shots, shotRecord{
				id: s.ID, mode: string(s.Mode),
				w: img.Bounds().Dx(), h: img.Bounds().Dy(),
				img: s.Image.Len(), th: s.Thumbnail.Len(),
				note: s.AnnotationNote, mime: s.Image.MIME,
			})
			r.mu.Unlock()
		},
		OnClose: func() {
			r.mu.Lock()
			r.closes++
			r.mu.Unlock()
		},
		OnFailure: func(err error) {
			r.mu.Lock()
			r.failures = append(r.failures, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]shotRecord, int, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]shotRecord(nil), r.shots...), r.closes, append([]error(nil), r.failures...)
}

func newTestOrchestrator(page Page, rec *recorder) *Orchestrator {
	return New(page, Config{Settle: time.Millisecond, Handlers: rec.handlers()})
}

func TestExclusion_Excludes(t *testing.T) {
	root := &element{tag: "body"}
	widget := &element{tag: "div", attrs: map[string]bool{ExcludeAttr: true}, parent: root}
	button := &element{tag: "button", parent: widget}
	icon := &element{tag: "svg", parent: button}
	content := &element{tag: "main", parent: root}
	script := &element{tag: "SCRIPT", parent: root}

	ex := DefaultExclusion()
	tests := []struct {
		name string
		n    Node
		want bool
	}{
		{"root", root, false},
		{"marked", widget, true},
		{"child of marked", button, true},
		{"grandchild of marked", icon, true},
		{"sibling content", content, false},
		{"script tag", script, true},
	}
	for _, tt := range tests {
		if got := ex.Excludes(tt.n); got != tt.want {
			t.Errorf("%s: Excludes = %v, want %v", tt.name, got, tt.want)
		}
	}

	want := []string{"[data-screenshot-exclude]", "script", "noscript"}
	if diff := cmp.Diff(want, ex.Selectors()); diff != "" {
		t.Errorf("Selectors mismatch (-want +got):\n%s", diff)
	}
}

func TestSourceRect_DeviceDensity(t *testing.T) {
	got := SourceRect(
		geom.Rect{Left: 100, Top: 100, Width: 200, Height: 150},
		geom.Size{W: 2560, H: 1600},
		geom.Size{W: 1280, H: 800},
	)
	want := geom.Rect{Left: 200, Top: 200, Width: 400, Height: 300}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("SourceRect mismatch (-want +got):\n%s", diff)
	}
}

func TestCrop(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2560, 1600))
	src.Set(200, 200, red)
	src.Set(599, 499, blue)

	out, err := Crop(src, geom.Rect{Left: 100, Top: 100, Width: 200, Height: 150}, geom.Size{W: 1280, H: 800})
	if err != nil {
		t.Fatal(err)
	}
	if out.Bounds() != image.Rect(0, 0, 400, 300) {
		t.Fatalf("bounds = %v", out.Bounds())
	}
	if out.RGBAAt(0, 0) != red || out.RGBAAt(399, 299) != blue {
		t.Fatal("crop origin misplaced")
	}

	if _, err := Crop(src, geom.Rect{Left: 5000, Top: 5000, Width: 10, Height: 10}, geom.Size{W: 1280, H: 800}); err == nil {
		t.Fatal("expected error for region outside raster")
	}
}

func TestCaptureFull_ScenarioA(t *testing.T) {
	page := newFakePage(640, 400, 1, &element{tag: "main", rect: image.Rect(20, 20, 300, 200), fill: green})
	var rec recorder
	o := newTestOrchestrator(page, &rec)

	if err := o.Open(); err != nil {
		t.Fatal(err)
	}
	if err := o.CaptureFull(context.Background()); err != nil {
		t.Fatal(err)
	}

	shots, closes, failures := rec.snapshot()
	if len(failures) != 0 {
		t.Fatalf("failures: %v", failures)
	}
	if len(shots) != 1 {
		t.Fatalf("emitted %d screenshots", len(shots))
	}
	s := shots[0]
	if s.mode != "full" || s.mime != screenshot.MIMEJPEG {
		t.Fatalf("mode=%s mime=%s", s.mode, s.mime)
	}
	if s.th > s.img {
		t.Fatalf("thumbnail %d bytes > image %d bytes", s.th, s.img)
	}
	if s.w != 640 || s.h != 400 {
		t.Fatalf("image %dx%d", s.w, s.h)
	}
	if closes != 1 || o.DialogOpen() {
		t.Fatalf("dialog: closes=%d open=%v", closes, o.DialogOpen())
	}
	if o.Phase() != Idle {
		t.Fatalf("phase = %v", o.Phase())
	}
	if page.cleared == 0 {
		t.Fatal("text selection not cleared")
	}

	opts := page.opts[0]
	if opts.Quality != 0.95 || !opts.CacheBust || opts.Exclude.IsZero() {
		t.Fatalf("raster options = %+v", opts)
	}
}

func TestCapture_ExcludedElementsAbsent(t *testing.T) {
	root := &element{tag: "body", rect: image.Rect(0, 0, 0, 0)}
	content := &element{tag: "main", rect: image.Rect(0, 0, 100, 100), fill: green, parent: root}
	widget := &element{tag: "div", attrs: map[string]bool{ExcludeAttr: true}, rect: image.Rect(150, 0, 200, 50), fill: red, parent: root}
	inner := &element{tag: "span", rect: image.Rect(150, 60, 200, 100), fill: blue, parent: widget}
	page := newFakePage(200, 100, 1, root, content, widget, inner)

	var got image.Image
	o := New(page, Config{Settle: time.Millisecond, Handlers: Handlers{
		OnCapture: func(s screenshot.Screenshot) {
			img, err := s.Image.Decode()
			if err != nil {
				t.Error(err)
			}
			got = img
		},
	}})
	o.CaptureFull(context.Background())
	if got == nil {
		t.Fatal("nothing captured")
	}

	near := func(c color.Color, want color.RGBA) bool {
		r, g, b, _ := c.RGBA()
		d := func(a uint32, w uint8) bool {
			x := int(a>>8) - int(w)
			return x > -40 && x < 40
		}
		return d(r, want.R) && d(g, want.G) && d(b, want.B)
	}
	if !near(got.At(50, 50), green) {
		t.Fatalf("content missing: %v", got.At(50, 50))
	}
	if !near(got.At(175, 25), background) {
		t.Fatalf("excluded element rendered: %v", got.At(175, 25))
	}
	if !near(got.At(175, 80), background) {
		t.Fatalf("descendant of excluded element rendered: %v", got.At(175, 80))
	}
}

func TestCaptureSnippet_ScenarioB(t *testing.T) {
	page := newFakePage(1280, 800, 2)
	var rec recorder
	o := newTestOrchestrator(page, &rec)

	src := selector.Script(selector.Drag(geom.Pt(100, 100), geom.Pt(300, 250)))
	if err := o.CaptureSnippet(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	shots, _, failures := rec.snapshot()
	if len(failures) != 0 || len(shots) != 1 {
		t.Fatalf("shots=%d failures=%v", len(shots), failures)
	}
	if s := shots[0]; s.mode != "snippet" || s.w != 400 || s.h != 300 {
		t.Fatalf("snippet %s %dx%d, want snippet 400x300", s.mode, s.w, s.h)
	}
}

func TestCaptureSnippet_InputDuringSettle(t *testing.T) {
	page := newFakePage(1280, 800, 1)
	var rec recorder
	const settle = 300 * time.Millisecond
	o := New(page, Config{Settle: settle, Handlers: rec.handlers()})

	feed := selector.NewFeed()
	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- o.CaptureSnippet(context.Background(), feed) }()

	for feed.Subscribers() == 0 {
		if time.Since(start) > 2*time.Second {
			t.Fatal("snippet capture never subscribed")
		}
		time.Sleep(time.Millisecond)
	}
	if d := time.Since(start); d >= settle {
		t.Fatalf("subscribed after %v, not during the settle delay", d)
	}
	for _, ev := range selector.Drag(geom.Pt(10, 10), geom.Pt(110, 60)) {
		if n := feed.Send(ev); n != 1 {
			t.Fatalf("event %v reached %d subscribers", ev.Kind, n)
		}
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("snippet capture did not finish")
	}
	shots, _, failures := rec.snapshot()
	if len(failures) != 0 || len(shots) != 1 {
		t.Fatalf("shots=%d failures=%v", len(shots), failures)
	}
	if s := shots[0]; s.w != 100 || s.h != 50 {
		t.Fatalf("snippet %dx%d, want 100x50", s.w, s.h)
	}
	if d := page.at[0].Sub(start); d < settle {
		t.Fatalf("rasterized after %v, before the settle delay", d)
	}
	if n := feed.Subscribers(); n != 0 {
		t.Fatalf("subscribers after capture = %d", n)
	}
}

func TestCaptureSnippet_RegionFloor(t *testing.T) {
	tests := []struct {
		name   string
		dx, dy float64
		emit   bool
	}{
		{"tiny", 4, 4, false},
		{"narrow", 9, 80, false},
		{"flat", 80, 9, false},
		{"floor", 10, 10, true},
		{"reverse", -60, -40, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newFakePage(400, 300, 1)
			var rec recorder
			o := newTestOrchestrator(page, &rec)
			start := geom.Pt(200, 150)
			src := selector.Script(selector.Drag(start, start.Add(geom.Pt(tt.dx, tt.dy))))
			o.CaptureSnippet(context.Background(), src)

			shots, _, _ := rec.snapshot()
			if tt.emit && (len(shots) != 1 || shots[0].mode != "snippet") {
				t.Fatalf("want one snippet, got %+v", shots)
			}
			if !tt.emit && len(shots) != 0 {
				t.Fatalf("degenerate selection emitted %+v", shots)
			}
			if !tt.emit && page.rasterCalls() != 0 {
				t.Fatal("degenerate selection triggered rasterization")
			}
		})
	}
}

func TestCaptureSnippet_EscapeMidDrag_ScenarioD(t *testing.T) {
	page := newFakePage(800, 600, 1)
	var rec recorder
	o := newTestOrchestrator(page, &rec)
	o.Open()

	src := selector.Script{
		{Kind: selector.PointerDown, Pos: geom.Pt(10, 10)},
		{Kind: selector.PointerMove, Pos: geom.Pt(300, 200)},
		{Kind: selector.KeyDown, Key: selector.KeyEscape},
	}
	if err := o.CaptureSnippet(context.Background(), src); err != nil {
		t.Fatal(err)
	}

	shots, closes, failures := rec.snapshot()
	if len(shots) != 0 || len(failures) != 0 {
		t.Fatalf("shots=%v failures=%v", shots, failures)
	}
	if o.Phase() != Idle {
		t.Fatalf("phase = %v", o.Phase())
	}
	if o.DialogOpen() || closes != 1 {
		t.Fatalf("dialog reopened or closed twice: open=%v closes=%d", o.DialogOpen(), closes)
	}
	if page.rasterCalls() != 0 {
		t.Fatal("cancelled selection rasterized the page")
	}
}

func TestCaptureSnippet_LivePreview(t *testing.T) {
	page := newFakePage(400, 300, 1)
	var previews []geom.Rect
	o := New(page, Config{Settle: time.Millisecond, Handlers: Handlers{
		OnSelection: func(r geom.Rect) { previews = append(previews, r) },
	}})
	o.CaptureSnippet(context.Background(), selector.Script(selector.Drag(geom.Pt(200, 200), geom.Pt(50, 80))))

	if len(previews) < 2 {
		t.Fatalf("previews = %v", previews)
	}
	for _, r := range previews {
		if r.Width < 0 || r.Height < 0 {
			t.Fatalf("negative preview %+v", r)
		}
	}
	if !previews[len(previews)-1].Empty() {
		t.Fatal("overlay not cleared at the end")
	}
}

func TestDraw_SaveEmitsAnnotated(t *testing.T) {
	page := newFakePage(1000, 800, 2)
	var rec recorder
	o := newTestOrchestrator(page, &rec)

	if err := o.StartDraw(context.Background()); err != nil {
		t.Fatal(err)
	}
	a := o.Annotation()
	if a == nil || o.Phase() != Annotating {
		t.Fatalf("annotation not started: phase=%v", o.Phase())
	}

	c := a.Canvas()
	// 2000x1600 raster within 850x600 display bounds.
	if m := c.Mapper(); math.Abs(m.Display().H-600) > 1e-9 || math.Abs(m.Scale()-2000.0/750.0) > 1e-9 {
		t.Fatalf("mapper display=%v scale=%v", m.Display(), m.Scale())
	}
	box := a.Box(geom.Pt(0, 0))
	c.PointerDown(geom.Pt(100, 100), box)
	c.PointerMove(geom.Pt(200, 150), box)
	c.PointerUp(geom.Pt(200, 150), box)
	c.SetTool(annotate.Arrow)
	c.PointerDown(geom.Pt(300, 300), box)
	c.PointerUp(geom.Pt(500, 320), box)

	if err := a.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	shots, _, failures := rec.snapshot()
	if len(failures) != 0 || len(shots) != 1 {
		t.Fatalf("shots=%d failures=%v", len(shots), failures)
	}
	s := shots[0]
	if s.mode != "draw" || s.note != screenshot.AnnotationNote || s.mime != screenshot.MIMEPNG {
		t.Fatalf("draw screenshot = %+v", s)
	}
	if s.w != 2000 || s.h != 1600 {
		t.Fatalf("annotated image %dx%d, want native 2000x1600", s.w, s.h)
	}
	if o.Phase() != Idle || o.Annotation() != nil {
		t.Fatal("session not reset after save")
	}
	if err := a.Save(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("second save: %v", err)
	}
}

func TestDraw_CancelEmitsNothing(t *testing.T) {
	page := newFakePage(400, 300, 1)
	var rec recorder
	o := newTestOrchestrator(page, &rec)
	o.StartDraw(context.Background())

	a := o.Annotation()
	box := a.Box(geom.Point{})
	a.Canvas().PointerDown(geom.Pt(10, 10), box)
	a.Canvas().PointerUp(geom.Pt(40, 40), box)
	a.Cancel()

	shots, _, _ := rec.snapshot()
	if len(shots) != 0 {
		t.Fatalf("cancel emitted %+v", shots)
	}
	if o.Phase() != Idle || a.Canvas().Ready() {
		t.Fatal("cancel left state behind")
	}
}

func TestFailures_NoEmit(t *testing.T) {
	tests := []struct {
		name string
		page *fakePage
		kind error
	}{
		{"rasterize", &fakePage{viewport: geom.Size{W: 100, H: 100}, err: errors.New("boom")}, ErrRasterize},
		{"decode", &fakePage{viewport: geom.Size{W: 100, H: 100}, garbage: true}, ErrDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec recorder
			o := newTestOrchestrator(tt.page, &rec)

			o.CaptureFull(context.Background())
			o.CaptureSnippet(context.Background(), selector.Script(selector.Drag(geom.Pt(0, 0), geom.Pt(50, 50))))
			o.StartDraw(context.Background())

			shots, _, failures := rec.snapshot()
			if len(shots) != 0 {
				t.Fatalf("emitted on failure: %+v", shots)
			}
			if len(failures) != 3 {
				t.Fatalf("failures = %v", failures)
			}
			for _, err := range failures {
				var cerr *Error
				if !errors.As(err, &cerr) || !errors.Is(err, tt.kind) {
					t.Fatalf("failure %v is not %v", err, tt.kind)
				}
			}
			if o.Phase() != Idle || o.Annotation() != nil {
				t.Fatal("session not reset after failure")
			}
		})
	}
}

func TestBusy(t *testing.T) {
	page := newFakePage(200, 200, 1)
	page.block = make(chan struct{})
	var rec recorder
	o := newTestOrchestrator(page, &rec)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.CaptureFull(context.Background())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for page.rasterCalls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("rasterizer never called")
		}
		time.Sleep(time.Millisecond)
	}

	if err := o.CaptureFull(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("CaptureFull while busy: %v", err)
	}
	if err := o.StartDraw(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("StartDraw while busy: %v", err)
	}
	if err := o.Open(); !errors.Is(err, ErrBusy) {
		t.Fatalf("Open while busy: %v", err)
	}

	close(page.block)
	wg.Wait()

	shots, _, _ := rec.snapshot()
	if len(shots) != 1 {
		t.Fatalf("shots = %d", len(shots))
	}
	if err := o.Open(); err != nil {
		t.Fatalf("Open after capture: %v", err)
	}
}

func TestSettleDelay(t *testing.T) {
	page := newFakePage(100, 100, 1)
	o := New(page, Config{Settle: 30 * time.Millisecond})
	start := time.Now()
	o.CaptureFull(context.Background())
	if len(page.at) != 1 {
		t.Fatalf("raster calls = %d", len(page.at))
	}
	if d := page.at[0].Sub(start); d < 30*time.Millisecond {
		t.Fatalf("rasterized after %v, before the settle delay", d)
	}
}

func TestSettle_ContextCancelled(t *testing.T) {
	page := newFakePage(100, 100, 1)
	var rec recorder
	o := New(page, Config{Settle: time.Hour, Handlers: rec.handlers()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o.CaptureFull(ctx)

	shots, _, failures := rec.snapshot()
	if len(shots) != 0 || len(failures) != 0 || page.rasterCalls() != 0 {
		t.Fatalf("shots=%v failures=%v calls=%d", shots, failures, page.rasterCalls())
	}
	if o.Phase() != Idle {
		t.Fatalf("phase = %v", o.Phase())
	}
}

func TestDismiss(t *testing.T) {
	var rec recorder
	o := newTestOrchestrator(newFakePage(10, 10, 1), &rec)
	o.Dismiss()
	if _, closes, _ := rec.snapshot(); closes != 0 {
		t.Fatal("OnClose fired for a dialog that was not open")
	}
	o.Open()
	o.Dismiss()
	if _, closes, _ := rec.snapshot(); closes != 1 {
		t.Fatalf("closes = %d", closes)
	}
}

func TestMetricsRecorded(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := observability.Init(db); err != nil {
		t.Fatal(err)
	}
	mm := observability.NewMetricsManager(db, 100, time.Hour)

	page := newFakePage(100, 100, 1)
	o := New(page, Config{Settle: time.Millisecond, Metrics: mm})
	o.CaptureFull(context.Background())
	o.CaptureSnippet(context.Background(), selector.Script{{Kind: selector.Cancel}})
	mm.Close()

	got, err := mm.Query(context.Background(), observability.MetricQuery{Name: observability.MetricCaptureTotal})
	if err != nil {
		t.Fatal(err)
	}
	outcomes := map[string]int{}
	for _, m := range got {
		outcomes[m.Labels["mode"]+"/"+m.Labels["outcome"]]++
	}
	want := map[string]int{"full/emitted": 1, "snippet/cancelled": 1}
	if diff := cmp.Diff(want, outcomes); diff != "" {
		t.Fatalf("outcomes mismatch (-want +got):\n%s", diff)
	}
}
