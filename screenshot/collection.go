package screenshot

import "sync"

// Collection is an insertion-ordered set of screenshots keyed by ID.
// It only grows by Append and shrinks by RemoveByID.
type Collection struct {
	mu    sync.RWMutex
	items []Screenshot
}

// Append adds s at the end. IDs are never reused.
func (c *Collection) Append(s Screenshot) error {
	if s.ID == "" {
		return ErrNoID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range c.items {
		if it.ID == s.ID {
			return ErrDuplicate
		}
	}
	c.items = append(c.items, s)
	return nil
}

// RemoveByID deletes the screenshot with the given id and reports whether
// it was present. Order of the remaining items is preserved.
func (c *Collection) RemoveByID(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, it := range c.items {
		if it.ID == id {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the screenshot with the given id.
func (c *Collection) Get(id string) (Screenshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, it := range c.items {
		if it.ID == id {
			return it, true
		}
	}
	return Screenshot{}, false
}

// List returns a snapshot of the screenshots in insertion order.
func (c *Collection) List() []Screenshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Screenshot, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of screenshots.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
