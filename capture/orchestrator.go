package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"time"

	"github.com/hazyhaar/feedshot/annotate"
	"github.com/hazyhaar/feedshot/geom"
	"github.com/hazyhaar/feedshot/observability"
	"github.com/hazyhaar/feedshot/screenshot"
	"github.com/hazyhaar/feedshot/selector"
)

// Orchestrator runs capture sessions against one Page. Only one session is
// active at a time; starting another returns ErrBusy.
type Orchestrator struct {
	page Page
	cfg  Config

	mu         sync.Mutex
	phase      Phase
	mode       screenshot.Mode
	dialogOpen bool
	pending    image.Image
	annot      *Annotation
}

// New returns an Orchestrator for page.
func New(page Page, cfg Config) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{page: page, cfg: cfg}
}

// Phase returns the current session phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// DialogOpen reports whether the capture-choice dialog is showing.
func (o *Orchestrator) DialogOpen() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dialogOpen
}

// Open shows the capture-choice dialog. It fails with ErrBusy while a
// capture is in flight.
func (o *Orchestrator) Open() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != Idle {
		return ErrBusy
	}
	o.dialogOpen = true
	return nil
}

// Dismiss closes the capture-choice dialog without capturing.
func (o *Orchestrator) Dismiss() {
	o.closeDialog()
}

func (o *Orchestrator) closeDialog() {
	o.mu.Lock()
	wasOpen := o.dialogOpen
	o.dialogOpen = false
	o.mu.Unlock()
	if wasOpen && o.cfg.Handlers.OnClose != nil {
		o.cfg.Handlers.OnClose()
	}
}

// begin claims the session for mode.
func (o *Orchestrator) begin(mode screenshot.Mode, phase Phase) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != Idle {
		return ErrBusy
	}
	o.phase = phase
	o.mode = mode
	return nil
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
}

// reset returns the session to idle and drops every transient resource.
func (o *Orchestrator) reset() {
	o.mu.Lock()
	a := o.annot
	o.phase = Idle
	o.mode = ""
	o.pending = nil
	o.annot = nil
	o.mu.Unlock()
	if a != nil {
		a.canvas.Discard()
	}
}

func (o *Orchestrator) settle(ctx context.Context) error {
	t := time.NewTimer(o.cfg.Settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *Orchestrator) clearSelection(ctx context.Context) {
	if err := o.page.ClearSelection(ctx); err != nil {
		o.cfg.Logger.Debug("capture: clear selection failed", "error", err)
	}
}

// CaptureFull rasterizes the whole page and emits a full-mode screenshot.
// The only error returned is ErrBusy; capture failures go to OnFailure.
func (o *Orchestrator) CaptureFull(ctx context.Context) error {
	if err := o.begin(screenshot.Full, Rasterizing); err != nil {
		return err
	}
	defer o.reset()
	start := time.Now()

	o.closeDialog()
	o.clearSelection(ctx)
	if err := o.settle(ctx); err != nil {
		o.abort(screenshot.Full, err)
		return nil
	}

	img, err := o.rasterize(ctx, screenshot.Full)
	if err != nil {
		return nil
	}
	blob, err := screenshot.EncodeJPEG(img, o.cfg.jpegQuality())
	if err != nil {
		o.fail(screenshot.Full, ErrCanvas, err)
		return nil
	}
	o.emit(screenshot.Full, img, blob, start)
	return nil
}

// CaptureSnippet subscribes to src, waits out the settle delay, runs region
// selection, then rasterizes and crops to the chosen region. A cancelled selection emits nothing. The only error
// returned is ErrBusy.
func (o *Orchestrator) CaptureSnippet(ctx context.Context, src selector.Source) error {
	if err := o.begin(screenshot.Snippet, Rasterizing); err != nil {
		return err
	}
	defer o.reset()
	start := time.Now()

	// Input during the settle delay belongs to the selection.
	held := selector.Hold(src)
	defer held.Release()

	o.closeDialog()
	o.clearSelection(ctx)
	if err := o.settle(ctx); err != nil {
		o.abort(screenshot.Snippet, err)
		return nil
	}

	o.setPhase(Selecting)
	region, err := selector.Select(ctx, held, selector.Config{
		ClearSelection: func() { o.clearSelection(ctx) },
		OnChange:       o.cfg.Handlers.OnSelection,
		Logger:         o.cfg.Logger,
	})
	if err != nil {
		o.abort(screenshot.Snippet, err)
		return nil
	}

	o.setPhase(Rasterizing)
	viewport, err := o.page.Viewport(ctx)
	if err != nil {
		o.fail(screenshot.Snippet, ErrRasterize, fmt.Errorf("viewport: %w", err))
		return nil
	}
	img, err := o.rasterize(ctx, screenshot.Snippet)
	if err != nil {
		return nil
	}
	cropped, err := Crop(img, region, viewport)
	if err != nil {
		o.fail(screenshot.Snippet, ErrCanvas, err)
		return nil
	}
	blob, err := screenshot.EncodeJPEG(cropped, o.cfg.jpegQuality())
	if err != nil {
		o.fail(screenshot.Snippet, ErrCanvas, err)
		return nil
	}
	o.emit(screenshot.Snippet, cropped, blob, start)
	return nil
}

// StartDraw rasterizes the page and opens an annotation session on it. The
// session is reachable through Annotation until it is saved or cancelled.
// The only error returned is ErrBusy.
func (o *Orchestrator) StartDraw(ctx context.Context) error {
	if err := o.begin(screenshot.Draw, Rasterizing); err != nil {
		return err
	}

	o.closeDialog()
	if err := o.settle(ctx); err != nil {
		o.abort(screenshot.Draw, err)
		o.reset()
		return nil
	}

	img, err := o.rasterize(ctx, screenshot.Draw)
	if err != nil {
		o.reset()
		return nil
	}
	viewport, err := o.page.Viewport(ctx)
	if err != nil {
		o.fail(screenshot.Draw, ErrRasterize, fmt.Errorf("viewport: %w", err))
		o.reset()
		return nil
	}

	o.mu.Lock()
	o.pending = img
	o.mu.Unlock()

	canvas := annotate.New(o.cfg.Annotate)
	canvas.Load(img, geom.DisplayBounds(viewport))

	a := &Annotation{o: o, canvas: canvas, started: time.Now()}
	o.mu.Lock()
	o.pending = nil
	o.annot = a
	o.phase = Annotating
	o.mu.Unlock()

	o.cfg.Logger.Info("capture: annotating",
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy(), "scale", canvas.Mapper().Scale())
	return nil
}

// Annotation returns the active draw session, or nil.
func (o *Orchestrator) Annotation() *Annotation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.annot
}

// Cancel aborts an annotation session and closes the dialog. Selections are
// cancelled through their event source or context.
func (o *Orchestrator) Cancel() {
	o.closeDialog()
	o.mu.Lock()
	annotating := o.phase == Annotating
	o.mu.Unlock()
	if annotating {
		o.cfg.Logger.Info("capture: annotation cancelled")
		o.record(screenshot.Draw, "cancelled", 0)
		o.reset()
	}
}

func (o *Orchestrator) rasterize(ctx context.Context, mode screenshot.Mode) (image.Image, error) {
	data, err := o.page.Rasterize(ctx, o.cfg.rasterOptions())
	if err != nil {
		o.fail(mode, ErrRasterize, err)
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		o.fail(mode, ErrDecode, err)
		return nil, err
	}
	if img.Bounds().Empty() {
		err := errors.New("empty raster")
		o.fail(mode, ErrDecode, err)
		return nil, err
	}
	return img, nil
}

func (o *Orchestrator) emit(mode screenshot.Mode, img image.Image, blob screenshot.Blob, start time.Time) {
	thumb, err := o.cfg.Thumbnails.Make(img)
	if err != nil {
		o.cfg.Logger.Warn("capture: thumbnail failed, using image", "mode", mode, "error", err)
		thumb = screenshot.Blob{}
	}
	shot, err := screenshot.New(o.cfg.NewID(), mode, blob, thumb, o.cfg.Now())
	if err != nil {
		o.fail(mode, ErrCanvas, err)
		return
	}
	o.cfg.Logger.Info("capture: screenshot emitted",
		"id", shot.ID, "mode", mode, "bytes", shot.Image.Len(), "thumbnail_bytes", shot.Thumbnail.Len())
	o.record(mode, "emitted", time.Since(start))
	o.reset()
	if o.cfg.Handlers.OnCapture != nil {
		o.cfg.Handlers.OnCapture(shot)
	}
}

// fail reports a capture failure. The caller resets the session.
func (o *Orchestrator) fail(mode screenshot.Mode, kind, err error) {
	cerr := &Error{Mode: mode, Kind: kind, Err: err}
	o.cfg.Logger.Error("capture: failed", "mode", mode, "error", cerr)
	o.record(mode, "failed", 0)
	if o.cfg.Handlers.OnFailure != nil {
		o.cfg.Handlers.OnFailure(cerr)
	}
}

// abort records a user or context cancellation.
func (o *Orchestrator) abort(mode screenshot.Mode, err error) {
	o.cfg.Logger.Info("capture: cancelled", "mode", mode, "reason", err)
	o.record(mode, "cancelled", 0)
}

func (o *Orchestrator) record(mode screenshot.Mode, outcome string, d time.Duration) {
	if o.cfg.Metrics == nil {
		return
	}
	now := time.Now()
	labels := map[string]string{"mode": string(mode), "outcome": outcome}
	o.cfg.Metrics.Record(&observability.Metric{
		Name: observability.MetricCaptureTotal, Timestamp: now, Value: 1, Labels: labels, Unit: "count",
	})
	if d > 0 {
		o.cfg.Metrics.Record(&observability.Metric{
			Name: observability.MetricCaptureDurationMs, Timestamp: now, Value: float64(d.Milliseconds()), Labels: labels, Unit: "milliseconds",
		})
	}
}
