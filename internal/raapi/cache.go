package raapi

import (
	"sync"
	"time"
)

// Cache is a TTL-keyed response cache. Expired entries are purged lazily on
// read, so no background sweep is needed; staleness is bounded by the TTL the
// caller chose at Put time.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry

	now func() time.Time
}

type cacheEntry struct {
	data      any
	expiresAt time.Time
}

func NewCache() *Cache {
	return &Cache{
		entries: map[string]cacheEntry{},
		now:     time.Now,
	}
}

// Get returns the cached value for key, or (nil, false) when the key was never
// stored or has expired. Expired entries are removed on access.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.data, true
}

// Put stores data under key for ttl. A non-positive ttl stores nothing, which
// lets callers disable caching per data class from config.
func (c *Cache) Put(key string, data any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{data: data, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Len reports the number of entries currently held, including any that have
// expired but were not read since.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
