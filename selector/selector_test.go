package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/feedshot/geom"
)

func TestSelector_RegionFloor(t *testing.T) {
	tests := []struct {
		name   string
		dx, dy float64
		want   Outcome
	}{
		{"both small", 5, 5, Discarded},
		{"narrow", 9, 200, Discarded},
		{"flat", 200, 9.5, Discarded},
		{"exact floor", 10, 10, Selected},
		{"large", 300, 120, Selected},
		{"negative large", -300, -120, Selected},
		{"negative narrow", -9, -300, Discarded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(0)
			start := geom.Pt(400, 400)
			s.Handle(Event{Kind: PointerDown, Pos: start})
			s.Handle(Event{Kind: PointerMove, Pos: start.Add(geom.Pt(tt.dx, tt.dy))})
			got, _ := s.Handle(Event{Kind: PointerUp, Pos: start.Add(geom.Pt(tt.dx, tt.dy))})
			if got != tt.want {
				t.Fatalf("outcome = %v, want %v", got, tt.want)
			}
			if s.State() != Idle {
				t.Fatalf("state after release = %v", s.State())
			}
		})
	}
}

func TestSelector_LivePreviewNormalized(t *testing.T) {
	s := New(0)
	s.Handle(Event{Kind: PointerDown, Pos: geom.Pt(200, 200)})
	s.Handle(Event{Kind: PointerMove, Pos: geom.Pt(50, 80)})

	want := geom.Rect{Left: 50, Top: 80, Width: 150, Height: 120}
	if diff := cmp.Diff(want, s.Rect()); diff != "" {
		t.Fatalf("preview mismatch (-want +got):\n%s", diff)
	}

	out, r := s.Handle(Event{Kind: PointerUp, Pos: geom.Pt(50, 80)})
	if out != Selected {
		t.Fatalf("outcome = %v", out)
	}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Fatalf("final mismatch (-want +got):\n%s", diff)
	}
}

func TestSelector_EscapeMidDrag(t *testing.T) {
	s := New(0)
	s.Handle(Event{Kind: PointerDown, Pos: geom.Pt(10, 10)})
	s.Handle(Event{Kind: PointerMove, Pos: geom.Pt(300, 300)})
	out, _ := s.Handle(Event{Kind: KeyDown, Key: KeyEscape})
	if out != Cancelled {
		t.Fatalf("outcome = %v, want Cancelled", out)
	}
	if s.State() != Idle || !s.Rect().Empty() {
		t.Fatalf("selector not reset: state=%v rect=%v", s.State(), s.Rect())
	}
	// A late pointer-up must not resurrect the drag.
	if out, _ := s.Handle(Event{Kind: PointerUp, Pos: geom.Pt(300, 300)}); out != None {
		t.Fatalf("pointer-up after cancel = %v", out)
	}
}

func TestSelector_OtherKeysIgnored(t *testing.T) {
	s := New(0)
	s.Handle(Event{Kind: PointerDown, Pos: geom.Pt(10, 10)})
	if out, _ := s.Handle(Event{Kind: KeyDown, Key: "Shift"}); out != None {
		t.Fatalf("outcome = %v", out)
	}
	if s.State() != Selecting {
		t.Fatal("non-escape key ended the drag")
	}
}

func TestSelector_ExemptClick(t *testing.T) {
	s := New(0)
	if out, _ := s.Handle(Event{Kind: PointerDown, Pos: geom.Pt(5, 5), Exempt: true}); out != None {
		t.Fatalf("outcome = %v", out)
	}
	if s.State() != Idle {
		t.Fatal("exempt pointer-down started a selection")
	}
}

func TestSelect_DiscardThenSelect(t *testing.T) {
	events := append(Drag(geom.Pt(10, 10), geom.Pt(15, 15)), Drag(geom.Pt(100, 100), geom.Pt(300, 250))...)

	var previews []geom.Rect
	cleared := 0
	r, err := Select(context.Background(), Script(events), Config{
		ClearSelection: func() { cleared++ },
		OnChange:       func(r geom.Rect) { previews = append(previews, r) },
	})
	if err != nil {
		t.Fatal(err)
	}
	want := geom.Rect{Left: 100, Top: 100, Width: 200, Height: 150}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Fatalf("rect mismatch (-want +got):\n%s", diff)
	}
	if cleared != 1 {
		t.Fatalf("ClearSelection called %d times", cleared)
	}
	if len(previews) == 0 || !previews[len(previews)-1].Empty() {
		t.Fatalf("last preview should clear the overlay: %v", previews)
	}
}

func TestSelect_Escape(t *testing.T) {
	events := []Event{
		{Kind: PointerDown, Pos: geom.Pt(10, 10)},
		{Kind: PointerMove, Pos: geom.Pt(200, 200)},
		{Kind: KeyDown, Key: KeyEscape},
		{Kind: PointerUp, Pos: geom.Pt(200, 200)},
	}
	_, err := Select(context.Background(), Script(events), Config{})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestSelect_SourceClosed(t *testing.T) {
	_, err := Select(context.Background(), Script(Drag(geom.Pt(0, 0), geom.Pt(3, 3))), Config{})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestSelect_ReleasesSubscription(t *testing.T) {
	feed := NewFeed()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Select(ctx, feed, Config{})
		done <- err
	}()

	waitFor(t, func() bool { return feed.Subscribers() == 1 })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Select did not return after cancel")
	}
	if n := feed.Subscribers(); n != 0 {
		t.Fatalf("subscribers after return = %d", n)
	}
}

func TestSelect_FeedSuccess(t *testing.T) {
	feed := NewFeed()
	done := make(chan geom.Rect, 1)
	go func() {
		r, err := Select(context.Background(), feed, Config{})
		if err != nil {
			t.Error(err)
		}
		done <- r
	}()

	waitFor(t, func() bool { return feed.Subscribers() == 1 })
	for _, ev := range Drag(geom.Pt(20, 30), geom.Pt(120, 90)) {
		feed.Send(ev)
	}

	select {
	case r := <-done:
		if r != (geom.Rect{Left: 20, Top: 30, Width: 100, Height: 60}) {
			t.Fatalf("rect = %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Select did not return")
	}
	if feed.Subscribers() != 0 {
		t.Fatal("subscription leaked")
	}
	if n := feed.Send(Event{Kind: PointerMove}); n != 0 {
		t.Fatalf("event delivered after release to %d subscribers", n)
	}
}

func TestHold_KeepsEarlyEvents(t *testing.T) {
	feed := NewFeed()
	held := Hold(feed)
	defer held.Release()
	if feed.Subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1 before Select", feed.Subscribers())
	}
	for _, ev := range Drag(geom.Pt(0, 0), geom.Pt(40, 30)) {
		if n := feed.Send(ev); n != 1 {
			t.Fatalf("early event reached %d subscribers", n)
		}
	}

	r, err := Select(context.Background(), held, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if r != (geom.Rect{Width: 40, Height: 30}) {
		t.Fatalf("rect = %+v", r)
	}
	if feed.Subscribers() != 0 {
		t.Fatal("subscription leaked")
	}
	held.Release()
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{PointerDown, PointerMove, PointerUp, KeyDown, Cancel} {
		if got := ParseKind(k.String()); got != k {
			t.Errorf("ParseKind(%q) = %v", k.String(), got)
		}
	}
	if ParseKind("wheel") != 0 {
		t.Error("unknown kind should map to 0")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}
