package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/feedshot/geom"
)

var (
	// ErrCancelled is returned when the user aborts with Escape or the
	// cancel control.
	ErrCancelled = errors.New("selector: cancelled")

	// ErrClosed is returned when the event source stops before a selection
	// was made.
	ErrClosed = errors.New("selector: source closed")
)

// Source delivers input events. Subscribe starts delivery; the returned
// release func stops it and must be safe to call more than once.
type Source interface {
	Subscribe() (<-chan Event, func())
}

// Config tunes Select.
type Config struct {
	// MinSize is the minimum width and height in viewport pixels. Default: 10.
	MinSize float64

	// ClearSelection is called once on entry to drop any text selection on
	// the page.
	ClearSelection func()

	// OnChange receives the live rectangle after every event while a drag
	// is in progress, and the zero Rect once the drag ends.
	OnChange func(geom.Rect)

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MinSize <= 0 {
		c.MinSize = MinSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Select subscribes to src and runs the drag state machine until a rectangle
// at least MinSize on both sides is released. Degenerate drags are discarded
// and selection continues. The subscription is released on every return path.
func Select(ctx context.Context, src Source, cfg Config) (geom.Rect, error) {
	cfg.defaults()

	events, release := src.Subscribe()
	defer release()

	if cfg.ClearSelection != nil {
		cfg.ClearSelection()
	}

	sel := New(cfg.MinSize)
	for {
		select {
		case <-ctx.Done():
			return geom.Rect{}, fmt.Errorf("selector: %w", ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return geom.Rect{}, ErrClosed
			}
			wasSelecting := sel.State() == Selecting
			out, r := sel.Handle(ev)
			switch out {
			case Selected:
				cfg.notify(geom.Rect{})
				return r, nil
			case Cancelled:
				if wasSelecting {
					cfg.notify(geom.Rect{})
				}
				return geom.Rect{}, ErrCancelled
			case Discarded:
				cfg.Logger.Debug("selector: selection below minimum, discarded", "min", cfg.MinSize)
				cfg.notify(geom.Rect{})
				continue
			}
			if sel.State() == Selecting {
				cfg.notify(sel.Rect())
			}
		}
	}
}

func (c *Config) notify(r geom.Rect) {
	if c.OnChange != nil {
		c.OnChange(r)
	}
}
