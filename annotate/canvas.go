// Package annotate is the drawing engine behind the draw capture mode: a
// native-resolution raster, a set of tools (pen, rectangle, circle, arrow)
// driven by pointer gestures in display coordinates, and a linear undo log.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"

	"github.com/hazyhaar/feedshot/geom"
)

// Config sets the initial toolbar state.
type Config struct {
	Tool   Tool
	Color  color.RGBA
	Width  float64
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Tool == "" {
		c.Tool = Pen
	}
	if !InPalette(c.Color) {
		c.Color = DefaultColor
	}
	if c.Width == 0 {
		c.Width = DefaultWidth
	}
	c.Width = ClampWidth(c.Width)
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Canvas holds one annotation session. It is driven from a single goroutine.
// Until Load succeeds every drawing call is a no-op.
type Canvas struct {
	log     *slog.Logger
	surf    *Surface
	hist    History
	tool    Tool
	color   color.RGBA
	width   float64
	drawing bool
	start   geom.Point
	last    geom.Point
	stroke  []geom.Point
}

// New returns an empty Canvas.
func New(cfg Config) *Canvas {
	cfg.defaults()
	return &Canvas{
		log:   cfg.Logger,
		tool:  cfg.Tool,
		color: cfg.Color,
		width: cfg.Width,
	}
}

// Load places img on a fresh surface at native resolution, fitted into the
// display bounds, and records it as the pristine history entry.
func (c *Canvas) Load(img image.Image, bounds geom.Size) {
	c.surf = NewSurface(img, bounds)
	c.hist = newHistory(c.surf.snapshot())
	c.drawing = false
	c.stroke = nil
	c.log.Debug("annotate: loaded",
		"width", c.surf.img.Rect.Dx(), "height", c.surf.img.Rect.Dy(), "scale", c.surf.Scale())
}

// Discard drops the surface and history.
func (c *Canvas) Discard() {
	c.surf = nil
	c.hist = History{}
	c.drawing = false
	c.stroke = nil
}

// Ready reports whether a surface is loaded.
func (c *Canvas) Ready() bool { return c.surf != nil }

// Tool returns the active tool.
func (c *Canvas) Tool() Tool { return c.tool }

// SetTool switches tools. An in-progress gesture is committed first.
func (c *Canvas) SetTool(t Tool) {
	if c.drawing {
		c.finish(c.last)
	}
	c.tool = t
}

// Color returns the active color.
func (c *Canvas) Color() color.RGBA { return c.color }

// SetColor changes the stroke color for subsequent marks. Only palette
// swatches are accepted; anything else leaves the color unchanged.
func (c *Canvas) SetColor(col color.RGBA) error {
	if !InPalette(col) {
		return fmt.Errorf("%w: %s", ErrColor, HexColor(col))
	}
	c.color = col
	return nil
}

// Width returns the stroke width in display pixels.
func (c *Canvas) Width() float64 { return c.width }

// SetWidth sets the stroke width, clamped to [MinWidth, MaxWidth].
func (c *Canvas) SetWidth(w float64) { c.width = ClampWidth(w) }

// Drawing reports whether a gesture is in progress.
func (c *Canvas) Drawing() bool { return c.drawing }

// Mapper returns the current display-to-native mapping; the zero Mapper
// when nothing is loaded.
func (c *Canvas) Mapper() geom.Mapper {
	if c.surf == nil {
		return geom.Mapper{}
	}
	return c.surf.Mapper()
}

// HistoryLen returns the number of undo states, pristine included, or 0
// when nothing is loaded.
func (c *Canvas) HistoryLen() int { return c.hist.Len() }

// Ops returns the committed marks, oldest first.
func (c *Canvas) Ops() []Op { return c.hist.Ops() }

// Image returns a copy of the visible raster, or nil when nothing is loaded.
func (c *Canvas) Image() *image.RGBA {
	if c.surf == nil {
		return nil
	}
	return c.surf.snapshot()
}

// Pristine returns a copy of the raster as loaded.
func (c *Canvas) Pristine() *image.RGBA {
	if c.hist.base == nil {
		return nil
	}
	p := image.NewRGBA(c.hist.base.Rect)
	copy(p.Pix, c.hist.base.Pix)
	return p
}

func (c *Canvas) nativeWidth() float64 {
	return c.width * c.surf.Scale()
}

// PointerDown starts a gesture at a pointer position. box is the bounding
// box of the displayed canvas in the pointer's coordinate space.
func (c *Canvas) PointerDown(pointer geom.Point, box geom.Rect) {
	if c.surf == nil {
		return
	}
	p := c.surf.mapper.ToNative(pointer, box)
	c.drawing = true
	c.start = p
	c.last = p
	if c.tool == Pen {
		c.stroke = []geom.Point{p}
		c.surf.dot(p, c.nativeWidth()/2, c.color)
	}
}

// PointerMove extends a pen stroke; for shapes it only tracks the position.
// Moves without a preceding PointerDown are ignored.
func (c *Canvas) PointerMove(pointer geom.Point, box geom.Rect) {
	if c.surf == nil || !c.drawing {
		return
	}
	p := c.surf.mapper.ToNative(pointer, box)
	if c.tool == Pen {
		c.surf.segment(c.last, p, c.nativeWidth(), c.color)
		c.stroke = append(c.stroke, p)
	}
	c.last = p
}

// PointerUp ends the gesture and commits the mark. Without a preceding
// PointerDown it does nothing.
func (c *Canvas) PointerUp(pointer geom.Point, box geom.Rect) {
	if c.surf == nil || !c.drawing {
		return
	}
	c.finish(c.surf.mapper.ToNative(pointer, box))
}

// PointerLeave ends the gesture at the last known position.
func (c *Canvas) PointerLeave() {
	if c.surf == nil || !c.drawing {
		return
	}
	c.finish(c.last)
}

func (c *Canvas) finish(end geom.Point) {
	c.drawing = false
	op := Op{Tool: c.tool, Color: c.color, Width: c.nativeWidth()}
	switch c.tool {
	case Pen:
		op.Points = c.stroke
		c.stroke = nil
	case Arrow:
		op.HeadLen = ArrowHeadLength * c.surf.Scale()
		op.Points = []geom.Point{c.start, end}
		c.surf.render(op)
	default:
		op.Points = []geom.Point{c.start, end}
		c.surf.render(op)
	}
	c.hist.push(op)
}

// Undo removes the latest mark and repaints. At the pristine state it
// does nothing and returns false.
func (c *Canvas) Undo() bool {
	if c.surf == nil || c.drawing {
		return false
	}
	if !c.hist.pop() {
		return false
	}
	c.hist.replay(c.surf)
	return true
}

// Clear jumps straight back to the pristine raster and drops every mark.
func (c *Canvas) Clear() {
	if c.surf == nil {
		return
	}
	c.drawing = false
	c.stroke = nil
	c.hist.truncate()
	c.hist.replay(c.surf)
}
