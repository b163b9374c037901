package annotate

import (
	"image"
	"image/color"

	"github.com/hazyhaar/feedshot/geom"
)

// Op is one committed mark in native coordinates. Pen ops keep every point
// of the stroke; shape ops keep the gesture start and end.
type Op struct {
	Tool    Tool
	Color   color.RGBA
	Width   float64 // native pixels
	HeadLen float64 // arrowhead length, native pixels
	Points  []geom.Point
}

func (op Op) ends() (geom.Point, geom.Point) {
	return op.Points[0], op.Points[len(op.Points)-1]
}

// History is the undo log: the pristine raster plus the marks committed on
// top of it. Entry 0 is the pristine state; entry i is the state after the
// first i marks.
type History struct {
	base *image.RGBA
	ops  []Op
}

func newHistory(base *image.RGBA) History {
	return History{base: base}
}

// Len returns the number of states, pristine included.
func (h *History) Len() int {
	if h.base == nil {
		return 0
	}
	return 1 + len(h.ops)
}

// Ops returns a copy of the committed marks, oldest first.
func (h *History) Ops() []Op {
	out := make([]Op, len(h.ops))
	copy(out, h.ops)
	return out
}

func (h *History) push(op Op) {
	h.ops = append(h.ops, op)
}

// pop drops the latest mark. It refuses to go below the pristine entry.
func (h *History) pop() bool {
	if len(h.ops) == 0 {
		return false
	}
	h.ops[len(h.ops)-1] = Op{}
	h.ops = h.ops[:len(h.ops)-1]
	return true
}

func (h *History) truncate() {
	h.ops = nil
}

// replay repaints s from the pristine raster and every remaining mark.
func (h *History) replay(s *Surface) {
	s.restore(h.base)
	for _, op := range h.ops {
		s.render(op)
	}
}
