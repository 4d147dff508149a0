// Package cache provides a small in-process cache with per-entry TTL and LRU
// eviction. It fronts document reads (credential lookups on every request)
// so the hot path does not hit the filesystem each time.
//
// Cached values are treated as immutable snapshots; callers must not mutate
// what Get returns.
package cache

import (
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an entry stays valid after insertion.
	DefaultTTL = 5 * time.Minute
	// DefaultMaxSize is the entry-count capacity before LRU eviction kicks in.
	DefaultMaxSize = 100
)

type entry[V any] struct {
	value      V
	insertedAt time.Time
	lastAccess time.Time
	accesses   int
	size       int
}

// Cache is a TTL + LRU bounded key/value store. A Get never fails hard: an
// expired, evicted, or missing entry is simply a miss, pushing the caller to
// the authoritative read.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	ttl     time.Duration
	maxSize int

	// Cumulative counters survive invalidation and eviction so the hit
	// rate reflects the cache's whole lifetime.
	loads int
	hits  int

	sizeOf func(V) int
	now    func() time.Time
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithTTL overrides the default entry TTL.
func WithTTL[V any](ttl time.Duration) Option[V] {
	return func(c *Cache[V]) { c.ttl = ttl }
}

// WithMaxSize overrides the default capacity.
func WithMaxSize[V any](n int) Option[V] {
	return func(c *Cache[V]) { c.maxSize = n }
}

// WithSizer supplies a per-value byte estimate for Stats().MemoryUsage.
func WithSizer[V any](fn func(V) int) Option[V] {
	return func(c *Cache[V]) { c.sizeOf = fn }
}

// withClock replaces the time source. Test hook.
func withClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// New creates a cache with the default TTL and capacity.
func New[V any](opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		entries: make(map[string]*entry[V]),
		ttl:     DefaultTTL,
		maxSize: DefaultMaxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key if it exists and is younger than the
// TTL. Expired entries are removed and reported as misses.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.insertedAt) >= c.ttl {
		delete(c.entries, key)
		return zero, false
	}
	if e.accesses == 0 {
		c.loads++
	} else {
		c.hits++
	}
	e.accesses++
	e.lastAccess = c.now()
	return e.value, true
}

// Set inserts or refreshes an entry. At capacity the least-recently-accessed
// entry is evicted first; exactly one, never more.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictLRU()
	}
	size := 0
	if c.sizeOf != nil {
		size = c.sizeOf(value)
	}
	now := c.now()
	c.entries[key] = &entry[V]{
		value:      value,
		insertedAt: now,
		lastAccess: now,
		size:       size,
	}
}

// evictLRU removes the entry with the oldest last-access time. Ties break by
// map iteration order. Caller holds the lock.
func (c *Cache[V]) evictLRU() {
	var (
		victim string
		oldest time.Time
		found  bool
	)
	for key, e := range c.entries {
		if !found || e.lastAccess.Before(oldest) {
			victim = key
			oldest = e.lastAccess
			found = true
		}
	}
	if found {
		delete(c.entries, victim)
	}
}

// Invalidate removes an entry before its TTL elapses. Writers of the
// underlying resource must call this right after a successful write.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops every entry. Counters are kept.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry[V])
	c.mu.Unlock()
}

// Stats describes the cache's current shape and lifetime hit rate.
type Stats struct {
	Size        int     `json:"size"`
	MaxSize     int     `json:"maxSize"`
	HitRate     float64 `json:"hitRate"` // percentage; 0 when never accessed
	MemoryUsage int     `json:"memoryUsage"`
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	mem := 0
	for _, e := range c.entries {
		mem += e.size
	}
	s := Stats{
		Size:        len(c.entries),
		MaxSize:     c.maxSize,
		MemoryUsage: mem,
	}
	if total := c.loads + c.hits; total > 0 {
		s.HitRate = float64(c.hits) / float64(total) * 100
	}
	return s
}
