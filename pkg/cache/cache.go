// Package cache provides a small pull-through cache for values that are
// expensive to fetch and may be briefly stale.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Loader fetches the value for key on a miss.
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Config configures a PullThrough cache
type Config struct {
	// MaxEntries bounds the number of cached keys
	MaxEntries int
	// TTL is how long a loaded value is served before it is fetched again
	TTL time.Duration
}

// DefaultConfig returns 16 entries with a one minute TTL.
func DefaultConfig() Config {
	return Config{MaxEntries: 16, TTL: time.Minute}
}

// PullThrough serves cached values and loads missing ones through a Loader.
// Concurrent misses for the same key share one load. Failed loads are not
// cached.
type PullThrough[K comparable, V any] struct {
	cache  *lru.LRU[K, V]
	load   Loader[K, V]
	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// NewPullThrough creates a cache around load.
func NewPullThrough[K comparable, V any](config Config, load Loader[K, V]) *PullThrough[K, V] {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultConfig().MaxEntries
	}
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}

	return &PullThrough[K, V]{
		cache: lru.NewLRU[K, V](config.MaxEntries, nil, config.TTL),
		load:  load,
	}
}

// Get returns the cached value for key, loading it on a miss.
func (c *PullThrough[K, V]) Get(ctx context.Context, key K) (V, error) {
	if v, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	res, err, _ := c.group.Do(fmt.Sprint(key), func() (interface{}, error) {
		// Another caller may have filled the entry while we waited
		if v, ok := c.cache.Peek(key); ok {
			return v, nil
		}
		v, err := c.load(ctx, key)
		if err != nil {
			return v, err
		}
		c.cache.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Invalidate drops key so the next Get loads it again.
func (c *PullThrough[K, V]) Invalidate(key K) {
	c.cache.Remove(key)
}

// Purge drops every entry.
func (c *PullThrough[K, V]) Purge() {
	c.cache.Purge()
}

// Stats reports cache effectiveness
type Stats struct {
	Hits      int64
	Misses    int64
	ItemCount int
	HitRate   float64
}

// Stats returns hit and miss counters.
func (c *PullThrough[K, V]) Stats() Stats {
	s := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		ItemCount: c.cache.Len(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
