// Package cache provides a small, thread-safe, generic TTL cache used for
// in-process caching of published flow definitions. Entries expire after a
// fixed TTL and are reaped by a background goroutine; expired entries are
// also filtered lazily on Get so reaper latency never serves stale data.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds cumulative hit/miss counters for observability.
type Stats struct {
	Hits   uint64
	Misses uint64
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a thread-safe cache whose entries expire after a fixed duration.
type TTL[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
	ttl   time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
}

// NewTTL creates a TTL cache. ctx bounds the background reaper; cancelling
// it (or calling Close) stops the reaper. cleanupInterval <= 0 defaults to
// the TTL itself.
func NewTTL[V any](ctx context.Context, ttl, cleanupInterval time.Duration) *TTL[V] {
	if cleanupInterval <= 0 {
		cleanupInterval = ttl
	}
	c := &TTL[V]{
		items: make(map[string]entry[V]),
		ttl:   ttl,
		stop:  make(chan struct{}),
	}
	go c.reap(ctx, cleanupInterval)
	return c
}

// Get retrieves a value by key. Expired entries are treated as absent.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		var zero V
		c.misses.Add(1)
		return zero, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Set stores a value with the cache's TTL.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Delete removes an entry by key, reporting whether it existed.
func (c *TTL[V]) Delete(key string) bool {
	c.mu.Lock()
	_, ok := c.items[key]
	delete(c.items, key)
	c.mu.Unlock()
	return ok
}

// Len returns the number of entries, including not-yet-reaped expired ones.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns a snapshot of hit/miss counters.
func (c *TTL[V]) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Close stops the background reaper. Safe to call more than once.
func (c *TTL[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *TTL[V]) reap(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for k, e := range c.items {
				if now.After(e.expiresAt) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
