// Package cache provides tag-addressable, time-boxed memoization for
// read-mostly data fetched from external services.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Backend stores serialized entries under keys and invalidation tags.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error
	InvalidateTags(ctx context.Context, tags ...string) (int, error)
}

// Observer receives hit/miss notifications, e.g. for Prometheus counters.
type Observer interface {
	CacheHit(key string)
	CacheMiss(key string)
}

// Options bind a fetch to its expiry and invalidation tags.
type Options struct {
	TTL  time.Duration
	Tags []string
}

type keyStats struct {
	hits   int64
	misses int64
}

// Cache wraps a backend with per-key hit/miss accounting.
type Cache struct {
	backend  Backend
	observer Observer

	mu    sync.Mutex
	stats map[string]*keyStats
}

// New creates a cache over the given backend. observer may be nil.
func New(backend Backend, observer Observer) *Cache {
	return &Cache{
		backend:  backend,
		observer: observer,
		stats:    make(map[string]*keyStats),
	}
}

// Invalidate purges every entry associated with any of the tags.
func (c *Cache) Invalidate(ctx context.Context, tags ...string) (int, error) {
	return c.backend.InvalidateTags(ctx, tags...)
}

// HitRatio returns hits/(hits+misses) for a key, 0 with no observations.
func (c *Cache) HitRatio(key string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.stats[key]
	if !ok || s.hits+s.misses == 0 {
		return 0
	}
	return float64(s.hits) / float64(s.hits+s.misses)
}

func (c *Cache) recordHit(key string) {
	c.mu.Lock()
	c.statsFor(key).hits++
	c.mu.Unlock()
	if c.observer != nil {
		c.observer.CacheHit(key)
	}
}

func (c *Cache) recordMiss(key string) {
	c.mu.Lock()
	c.statsFor(key).misses++
	c.mu.Unlock()
	if c.observer != nil {
		c.observer.CacheMiss(key)
	}
}

func (c *Cache) statsFor(key string) *keyStats {
	s, ok := c.stats[key]
	if !ok {
		s = &keyStats{}
		c.stats[key] = s
	}
	return s
}

// Fetch returns the memoized value for key, or invokes fn, stores the result
// under the key and tags, and returns it. Backend read failures degrade to a
// miss; the fetched value is still returned even if the store-back fails.
func Fetch[T any](ctx context.Context, c *Cache, key string, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T

	raw, ok, err := c.backend.Get(ctx, key)
	if err == nil && ok {
		if err := json.Unmarshal(raw, &out); err == nil {
			c.recordHit(key)
			return out, nil
		}
	}
	c.recordMiss(key)

	out, err = fn(ctx)
	if err != nil {
		return out, err
	}

	if raw, err := json.Marshal(out); err == nil {
		_ = c.backend.Set(ctx, key, raw, opts.TTL, opts.Tags)
	}
	return out, nil
}
