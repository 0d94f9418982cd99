package detectors

import (
	"sync"
	"time"
)

// debouncer drops events that arrive within a window after the last
// processed event for the same source-native id. The window resets on
// every processed event, not on every arriving event, so a burst collapses
// to its first member.
type debouncer struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
	now    func() time.Time
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window: window,
		last:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// allow reports whether an event for id should be processed, recording
// the processing time when it is. A zero window admits everything.
func (d *debouncer) allow(id string) bool {
	if d.window <= 0 {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.last[id]; ok && now.Sub(last) < d.window {
		return false
	}
	d.last[id] = now
	return true
}

// forget clears the window for an id, typically on DELETE
func (d *debouncer) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, id)
}
