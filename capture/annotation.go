package capture

import (
	"context"
	"errors"
	"time"

	"github.com/hazyhaar/feedshot/annotate"
	"github.com/hazyhaar/feedshot/geom"
	"github.com/hazyhaar/feedshot/screenshot"
)

// ErrSessionClosed is returned by Annotation methods once the session has
// been saved or cancelled.
var ErrSessionClosed = errors.New("capture: annotation session closed")

// Annotation is an active draw-mode session. Drive the canvas from one
// goroutine, then call Save or Cancel.
type Annotation struct {
	o       *Orchestrator
	canvas  *annotate.Canvas
	started time.Time
}

// Canvas returns the drawing surface.
func (a *Annotation) Canvas() *annotate.Canvas { return a.canvas }

// Box returns the bounding box of the displayed canvas placed at origin,
// for converting pointer positions.
func (a *Annotation) Box(origin geom.Point) geom.Rect {
	return a.canvas.Mapper().Box(origin)
}

func (a *Annotation) active() bool {
	a.o.mu.Lock()
	defer a.o.mu.Unlock()
	return a.o.annot == a
}

// Save encodes the annotated raster losslessly, emits a draw-mode
// screenshot and ends the session. A canvas that cannot be read is
// reported as ErrCanvas and leaves the session open.
func (a *Annotation) Save(ctx context.Context) error {
	if !a.active() {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.canvas.Drawing() {
		a.canvas.PointerLeave()
	}
	img := a.canvas.Image()
	if img == nil {
		a.o.fail(screenshot.Draw, ErrCanvas, errors.New("no surface"))
		return nil
	}
	blob, err := screenshot.EncodePNG(img)
	if err != nil {
		a.o.fail(screenshot.Draw, ErrCanvas, err)
		return nil
	}
	a.o.emit(screenshot.Draw, img, blob, a.started)
	a.o.reset()
	return nil
}

// Cancel discards every mark and ends the session without emitting.
func (a *Annotation) Cancel() {
	if !a.active() {
		return
	}
	a.o.Cancel()
}
