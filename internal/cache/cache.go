// Package cache is an in-process TTL cache for read-heavy derived data such
// as computed reports. Nothing in it is durable; expired entries are removed
// lazily on read and by a periodic sweep.
package cache

import (
	"context"
	"path"
	"sync"
	"time"
)

const (
	// DefaultTTL applies when Set is called without an explicit TTL.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxSize bounds growth; inserting a new key at capacity evicts
	// the oldest entry by insertion time.
	DefaultMaxSize = 1000
)

type entry struct {
	value      any
	insertedAt time.Time
	expiresAt  time.Time
}

// Cache is a TTL-bounded key/value cache, safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	maxSize int
	clock   func() time.Time
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithTTL overrides the default entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithMaxSize overrides the default capacity bound.
func WithMaxSize(n int) Option {
	return func(c *Cache) { c.maxSize = n }
}

// withClock substitutes the time source, for tests.
func withClock(clock func() time.Time) Option {
	return func(c *Cache) { c.clock = clock }
}

// New creates a cache with the given options.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		ttl:     DefaultTTL,
		maxSize: DefaultMaxSize,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key, or (nil, false) when absent or expired.
// An expired entry is removed on the way out.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.clock().After(e.expiresAt) {
		c.mu.Lock()
		// re-check under the write lock; Set may have replaced the entry
		if cur, ok := c.entries[key]; ok && c.clock().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value under key. An optional ttl overrides the cache default.
func (c *Cache) Set(key string, value any, ttl ...time.Duration) {
	d := c.ttl
	if len(ttl) > 0 && ttl[0] > 0 {
		d = ttl[0]
	}
	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = entry{value: value, insertedAt: now, expiresAt: now.Add(d)}
}

// Has reports whether key holds an unexpired entry.
func (c *Cache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// DeletePattern removes every key matching a glob pattern (path.Match
// syntax, e.g. "reports:orders:*"). Returns the number removed.
func (c *Cache) DeletePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key := range c.entries {
		if ok, err := path.Match(pattern, key); err == nil && ok {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Cleanup sweeps expired entries. Idempotent and safe to call concurrently
// with reads and writes.
func (c *Cache) Cleanup() int {
	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of physically present entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartSweeper runs Cleanup on a fixed interval until ctx is done.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Cleanup()
			}
		}
	}()
}

// evictOldestLocked removes the entry with the earliest insertion time.
// Linear scan; the capacity bound keeps it cheap.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for key, e := range c.entries {
		if first || e.insertedAt.Before(oldest) {
			oldestKey = key
			oldest = e.insertedAt
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
