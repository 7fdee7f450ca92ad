package rfb

import (
	"context"
	"sync"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

// GeometryCache memoises successful probes per target for the life of the
// process. Concurrent lookups of one uncached target share a single probe.
// Desktops that are resized keep their first-seen geometry.
type GeometryCache struct {
	prober *Prober

	mu      sync.Mutex
	entries map[target.Target]*cacheEntry
}

type cacheEntry struct {
	done chan struct{}
	res  Result
	err  error
}

// NewGeometryCache creates a cache backed by prober.
func NewGeometryCache(prober *Prober) *GeometryCache {
	return &GeometryCache{prober: prober, entries: make(map[target.Target]*cacheEntry)}
}

// Get returns the cached result for t, probing it if needed. Failed
// probes are not cached.
func (c *GeometryCache) Get(ctx context.Context, t target.Target) (Result, error) {
	c.mu.Lock()
	e, ok := c.entries[t]
	if !ok {
		e = &cacheEntry{done: make(chan struct{})}
		c.entries[t] = e
		c.mu.Unlock()

		e.res, e.err = c.prober.Probe(context.WithoutCancel(ctx), t)
		if e.err != nil {
			c.mu.Lock()
			// A Forget during the lookup may have let a newer entry in.
			if c.entries[t] == e {
				delete(c.entries, t)
			}
			c.mu.Unlock()
		}
		close(e.done)
		return e.res, e.err
	}
	c.mu.Unlock()

	select {
	case <-e.done:
		return e.res, e.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Peek returns the cached result for t without probing.
func (c *GeometryCache) Peek(t target.Target) (Result, bool) {
	c.mu.Lock()
	e, ok := c.entries[t]
	c.mu.Unlock()
	if !ok {
		return Result{}, false
	}
	select {
	case <-e.done:
		return e.res, e.err == nil
	default:
		return Result{}, false
	}
}

// Forget drops the cached result for t.
func (c *GeometryCache) Forget(t target.Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, t)
}

// Len returns the number of cached or in-flight entries.
func (c *GeometryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
