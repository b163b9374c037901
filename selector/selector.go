// Package selector implements drag-to-select over a live page: a pointer-down
// anchors a rectangle, moves stretch it, and pointer-up finalizes it when it
// clears the minimum size. Escape or an explicit cancel abort at any time.
package selector

import (
	"github.com/hazyhaar/feedshot/geom"
)

// MinSize is the default floor, in viewport pixels, for both sides of a
// selection. Smaller drags are treated as accidental clicks.
const MinSize = 10

// KeyEscape is the key name that aborts a selection.
const KeyEscape = "Escape"

// Kind identifies an input event.
type Kind int

const (
	PointerDown Kind = iota + 1
	PointerMove
	PointerUp
	KeyDown
	Cancel // explicit cancel control
)

func (k Kind) String() string {
	switch k {
	case PointerDown:
		return "pointerdown"
	case PointerMove:
		return "pointermove"
	case PointerUp:
		return "pointerup"
	case KeyDown:
		return "keydown"
	case Cancel:
		return "cancel"
	}
	return "unknown"
}

// ParseKind maps DOM-style event names back to a Kind. Unknown names map to 0.
func ParseKind(s string) Kind {
	switch s {
	case "pointerdown", "mousedown":
		return PointerDown
	case "pointermove", "mousemove":
		return PointerMove
	case "pointerup", "mouseup":
		return PointerUp
	case "keydown":
		return KeyDown
	case "cancel":
		return Cancel
	}
	return 0
}

// Event is one input event in viewport coordinates.
type Event struct {
	Kind Kind
	Pos  geom.Point
	Key  string

	// Exempt marks a pointer-down on a control that must never start a
	// selection, such as the overlay's cancel button.
	Exempt bool
}

// State is the selector state.
type State int

const (
	Idle State = iota
	Selecting
)

func (s State) String() string {
	if s == Selecting {
		return "selecting"
	}
	return "idle"
}

// Outcome is what a single event did to the selection.
type Outcome int

const (
	None      Outcome = iota
	Selected          // valid rectangle finalized
	Discarded         // released below the size floor
	Cancelled         // Escape or cancel control
)

// Selector is the drag state machine. It is not safe for concurrent use;
// feed it events from one goroutine.
type Selector struct {
	minSize float64
	state   State
	anchor  geom.Point
	cursor  geom.Point
}

// New returns an idle Selector. A minSize <= 0 selects MinSize.
func New(minSize float64) *Selector {
	if minSize <= 0 {
		minSize = MinSize
	}
	return &Selector{minSize: minSize}
}

// State returns the current state.
func (s *Selector) State() State { return s.state }

// Rect returns the live selection rectangle, or the zero Rect when idle.
func (s *Selector) Rect() geom.Rect {
	if s.state != Selecting {
		return geom.Rect{}
	}
	return geom.Normalize(s.anchor, s.cursor)
}

// Reset drops any in-progress drag.
func (s *Selector) Reset() {
	s.state = Idle
	s.anchor = geom.Point{}
	s.cursor = geom.Point{}
}

// Handle applies one event. The returned Rect is only meaningful when the
// outcome is Selected.
func (s *Selector) Handle(ev Event) (Outcome, geom.Rect) {
	switch ev.Kind {
	case Cancel:
		s.Reset()
		return Cancelled, geom.Rect{}

	case KeyDown:
		if ev.Key == KeyEscape {
			s.Reset()
			return Cancelled, geom.Rect{}
		}

	case PointerDown:
		if ev.Exempt || s.state == Selecting {
			return None, geom.Rect{}
		}
		s.state = Selecting
		s.anchor = ev.Pos
		s.cursor = ev.Pos

	case PointerMove:
		if s.state == Selecting {
			s.cursor = ev.Pos
		}

	case PointerUp:
		if s.state != Selecting {
			return None, geom.Rect{}
		}
		s.cursor = ev.Pos
		r := geom.Normalize(s.anchor, s.cursor)
		s.Reset()
		if r.Width < s.minSize || r.Height < s.minSize {
			return Discarded, geom.Rect{}
		}
		return Selected, r
	}
	return None, geom.Rect{}
}
