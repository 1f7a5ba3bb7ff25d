package watcher

import (
	"sync"
	"time"
)

// Gate is a leading-edge debounce: the first trigger passes and arms a
// timer, and every trigger until the timer fires is dropped. A burst is
// guaranteed one refresh at its start, not one after its last event.
type Gate struct {
	mu      sync.Mutex
	pending *time.Timer
}

// Trigger arms the gate for window and returns true, or returns false if
// the gate is already armed.
func (g *Gate) Trigger(window time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending != nil {
		return false
	}
	var t *time.Timer
	t = time.AfterFunc(window, func() {
		g.mu.Lock()
		if g.pending == t {
			g.pending = nil
		}
		g.mu.Unlock()
	})
	g.pending = t
	return true
}

// Pending reports whether the gate is currently armed.
func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil
}

// Stop disarms the gate.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending != nil {
		g.pending.Stop()
		g.pending = nil
	}
}
