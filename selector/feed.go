package selector

import (
	"sync"

	"github.com/hazyhaar/feedshot/geom"
)

const feedBuffer = 64

// Feed is a live broadcast Source. Events sent while nobody is subscribed
// are dropped, as are events to a subscriber whose buffer is full.
type Feed struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

// NewFeed returns an empty Feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan Event)}
}

// Subscribe implements Source.
func (f *Feed) Subscribe() (<-chan Event, func()) {
	f.mu.Lock()
	id := f.next
	f.next++
	ch := make(chan Event, feedBuffer)
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			close(ch)
			f.mu.Unlock()
		})
	}
}

// Send delivers ev to every subscriber and returns how many received it.
func (f *Feed) Send(ev Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ch := range f.subs {
		select {
		case ch <- ev:
			n++
		default:
		}
	}
	return n
}

// Subscribers returns the number of active subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Held is a subscription opened ahead of Select. Events that arrive
// between Hold and Select are buffered rather than lost.
type Held struct {
	events  <-chan Event
	release func()
}

// Hold subscribes to src immediately.
func Hold(src Source) *Held {
	events, release := src.Subscribe()
	return &Held{events: events, release: release}
}

// Subscribe implements Source by handing out the held stream.
func (h *Held) Subscribe() (<-chan Event, func()) { return h.events, h.release }

// Release ends the subscription. Safe to call after Select returned.
func (h *Held) Release() { h.release() }

// Script is a Source that replays a fixed event list to each subscriber and
// then closes the channel.
type Script []Event

// Subscribe implements Source.
func (s Script) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, len(s))
	for _, ev := range s {
		ch <- ev
	}
	close(ch)
	return ch, func() {}
}

// Drag returns the events of a straight drag from a to b with one
// intermediate move.
func Drag(a, b geom.Point) []Event {
	mid := geom.Pt((a.X+b.X)/2, (a.Y+b.Y)/2)
	return []Event{
		{Kind: PointerDown, Pos: a},
		{Kind: PointerMove, Pos: mid},
		{Kind: PointerMove, Pos: b},
		{Kind: PointerUp, Pos: b},
	}
}
