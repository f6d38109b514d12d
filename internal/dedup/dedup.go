// Package dedup suppresses re-delivery of recently seen message ids.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Cache is a set of message ids with a fixed retention window. Each entry
// carries an explicit remove-at timestamp and is dropped by the scheduler in
// Run, never lazily on read, so memory stays bounded regardless of the read
// pattern. The clock is injectable for tests.
type Cache struct {
	mu      sync.Mutex
	window  time.Duration
	clock   func() time.Time
	entries map[string]time.Time // id -> remove-at
	wake    chan struct{}
}

// New creates a cache with the given retention window. A nil clock means
// time.Now.
func New(window time.Duration, clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		window:  window,
		clock:   clock,
		entries: make(map[string]time.Time),
		wake:    make(chan struct{}, 1),
	}
}

// Seen reports whether id is already in the cache and, if not, inserts it.
// The check and the insert happen under one lock acquisition so two
// concurrent deliveries of the same id cannot both pass.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; ok {
		return true
	}
	c.entries[id] = c.clock().Add(c.window)
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return false
}

// Len returns the number of ids currently retained.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RemoveExpired drops every entry whose remove-at time is not after now and
// returns how many were dropped.
func (c *Cache) RemoveExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, at := range c.entries {
		if !at.After(now) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// nextDeadline returns the earliest remove-at time, if any entry exists.
func (c *Cache) nextDeadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var earliest time.Time
	found := false
	for _, at := range c.entries {
		if !found || at.Before(earliest) {
			earliest = at
			found = true
		}
	}
	return earliest, found
}

// Run drives scheduled removal until the context is cancelled. It sleeps
// until the earliest remove-at time, expires due entries, and repeats.
func (c *Cache) Run(ctx context.Context) {
	for {
		deadline, ok := c.nextDeadline()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
				continue
			}
		}

		wait := deadline.Sub(c.clock())
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-c.wake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		if n := c.RemoveExpired(c.clock()); n > 0 {
			log.Debug().Int("removed", n).Msg("Dedup entries expired")
		}
	}
}
