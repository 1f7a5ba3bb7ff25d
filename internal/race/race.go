// Package race serializes file operations that target the same path.
//
// A Coordinator is owned by whoever wires the server and injected into every
// component that moves, copies or writes workspace files.
package race

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// ErrClaimTimeout is returned when a path stays held past the claim wait.
var ErrClaimTimeout = errors.New("race: path still claimed")

// Coordinator tracks the set of claimed paths. Waiters queue on the
// current holder's release channel.
type Coordinator struct {
	wait time.Duration

	mu    sync.Mutex
	held  map[string]chan struct{}
	stats Stats
}

// Stats counts claim outcomes since the coordinator was created.
type Stats struct {
	Claims   int64
	Waits    int64
	Timeouts int64
}

// New creates a coordinator. A claim blocks at most wait before failing with
// ErrClaimTimeout; a zero wait blocks until the context ends.
func New(wait time.Duration) *Coordinator {
	return &Coordinator{
		wait: wait,
		held: make(map[string]chan struct{}),
	}
}

func key(path string) string {
	return filepath.Clean(path)
}

// TryClaim claims path if nobody holds it.
func (c *Coordinator) TryClaim(path string) bool {
	k := key(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.held[k]; ok {
		return false
	}
	c.held[k] = make(chan struct{})
	c.stats.Claims++
	return true
}

// Claim blocks until path is free, then claims it.
func (c *Coordinator) Claim(ctx context.Context, path string) error {
	k := key(path)

	if c.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.wait)
		defer cancel()
	}

	waited := false
	for {
		c.mu.Lock()
		done, ok := c.held[k]
		if !ok {
			c.held[k] = make(chan struct{})
			c.stats.Claims++
			if waited {
				c.stats.Waits++
			}
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		waited = true
		select {
		case <-done:
		case <-ctx.Done():
			c.mu.Lock()
			c.stats.Timeouts++
			c.mu.Unlock()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s", ErrClaimTimeout, k)
			}
			return ctx.Err()
		}
	}
}

// Release frees path and wakes its waiters. Releasing an unclaimed path is a no-op.
func (c *Coordinator) Release(path string) {
	k := key(path)
	c.mu.Lock()
	done, ok := c.held[k]
	if ok {
		delete(c.held, k)
	}
	c.mu.Unlock()
	if ok {
		close(done)
	}
}

// Held reports whether path is currently claimed.
func (c *Coordinator) Held(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.held[key(path)]
	return ok
}

// Stats returns a snapshot of the claim counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Guard runs fn while holding path. The claim is released even if fn panics.
func (c *Coordinator) Guard(ctx context.Context, path string, fn func() error) error {
	if err := c.Claim(ctx, path); err != nil {
		return err
	}
	defer c.Release(path)
	return fn()
}
