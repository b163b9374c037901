// Package capture drives the three capture modes end to end.
//
// Full rasterizes the page. Snippet lets the user drag a region over the
// live page, then rasterizes and crops. Draw rasterizes and hands the image
// to an annotation canvas until the user saves or cancels. Every successful
// path emits exactly one screenshot.Screenshot through Handlers.OnCapture;
// failures are logged, counted and reported to Handlers.OnFailure, never
// emitted.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/hazyhaar/feedshot/annotate"
	"github.com/hazyhaar/feedshot/geom"
	"github.com/hazyhaar/feedshot/idgen"
	"github.com/hazyhaar/feedshot/observability"
	"github.com/hazyhaar/feedshot/screenshot"
	"github.com/hazyhaar/feedshot/thumbnail"
)

// Page is the live document being captured.
type Page interface {
	// Rasterize renders the whole visible page to an encoded image.
	Rasterize(ctx context.Context, opts RasterOptions) ([]byte, error)
	// Viewport returns the viewport size in CSS pixels.
	Viewport(ctx context.Context) (geom.Size, error)
	// ClearSelection drops any text selection on the page.
	ClearSelection(ctx context.Context) error
}

// RasterOptions are passed to every Rasterize call.
type RasterOptions struct {
	Quality    float64 // encoder quality in (0,1]
	PixelRatio float64 // device pixel ratio; 0 lets the page decide
	CacheBust  bool    // bypass cached subresources
	Exclude    Exclusion
}

// Thumbnailer makes the gallery preview of a captured image.
type Thumbnailer interface {
	Make(img image.Image) (screenshot.Blob, error)
}

// Handlers are the callbacks exposed to the consuming form. All are optional.
type Handlers struct {
	// OnCapture receives each finalized screenshot, exactly once.
	OnCapture func(screenshot.Screenshot)
	// OnClose fires when the capture-choice dialog closes, whether dismissed
	// or closed to start a capture.
	OnClose func()
	// OnFailure observes capture failures. The error is a *Error.
	OnFailure func(error)
	// OnSelection receives the live selection rectangle during snippet mode,
	// and the zero Rect when the overlay should be cleared.
	OnSelection func(geom.Rect)
}

// Phase is the capture session state.
type Phase int

const (
	Idle Phase = iota
	Rasterizing
	Selecting
	Annotating
)

func (p Phase) String() string {
	switch p {
	case Rasterizing:
		return "rasterizing"
	case Selecting:
		return "selecting"
	case Annotating:
		return "annotating"
	}
	return "idle"
}

var (
	// ErrBusy is returned when a capture is started while another one is
	// in flight.
	ErrBusy = errors.New("capture: another capture is in progress")

	// ErrRasterize, ErrDecode and ErrCanvas classify failures wrapped in *Error.
	ErrRasterize = errors.New("capture: rasterization failed")
	ErrDecode    = errors.New("capture: image decode failed")
	ErrCanvas    = errors.New("capture: canvas unavailable")
)

// Error describes a failed capture.
type Error struct {
	Mode screenshot.Mode
	Kind error // ErrRasterize, ErrDecode or ErrCanvas
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Mode, e.Err)
}

// Unwrap exposes both the classification and the cause to errors.Is.
func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

// Config tunes the Orchestrator.
type Config struct {
	// Settle is the pause between closing transient UI and rasterizing.
	// Default: 100ms.
	Settle time.Duration

	// Quality is the rasterizer and JPEG quality in (0,1]. Default: 0.95.
	Quality float64

	// PixelRatio is forwarded to the rasterizer. 0 keeps the page's own.
	PixelRatio float64

	// NoCacheBust disables cache busting on rasterization.
	NoCacheBust bool

	// Exclude lists what must not appear in captures. Zero value: DefaultExclusion.
	Exclude Exclusion

	Thumbnails Thumbnailer         // default: thumbnail.New(thumbnail.Config{})
	NewID      idgen.Generator     // default: idgen.Feedback()
	Now        func() time.Time    // default: time.Now
	Annotate   annotate.Config     // initial toolbar state for draw mode
	Metrics    *observability.MetricsManager
	Handlers   Handlers
	Logger     *slog.Logger
}

func (c *Config) defaults() {
	if c.Settle <= 0 {
		c.Settle = 100 * time.Millisecond
	}
	if c.Quality <= 0 || c.Quality > 1 {
		c.Quality = 0.95
	}
	if c.Exclude.IsZero() {
		c.Exclude = DefaultExclusion()
	}
	if c.Thumbnails == nil {
		c.Thumbnails = thumbnail.New(thumbnail.Config{})
	}
	if c.NewID == nil {
		c.NewID = idgen.Feedback()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Annotate.Logger == nil {
		c.Annotate.Logger = c.Logger
	}
}

func (c *Config) rasterOptions() RasterOptions {
	return RasterOptions{
		Quality:    c.Quality,
		PixelRatio: c.PixelRatio,
		CacheBust:  !c.NoCacheBust,
		Exclude:    c.Exclude,
	}
}

func (c *Config) jpegQuality() int {
	return int(c.Quality*100 + 0.5)
}
