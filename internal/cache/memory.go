package cache

import (
	"context"
	"sync"
	"time"

	"pocketllm/internal/core"
)

// entry is one cached generation with its creation time. Entries are never
// mutated; Set replaces them wholesale.
type entry struct {
	text      string
	createdAt time.Time
}

// MemoryCache implements core.ResponseCache with an in-process map and lazy
// TTL expiry: a read past TTL behaves as a miss and evicts the entry.
// Suitable for single-instance deployments.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates an in-memory response cache with the given entry
// lifetime.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached text for the key, treating expired entries as
// absent.
func (c *MemoryCache) Get(_ context.Context, key core.CacheKey) (string, bool) {
	k := Fingerprint(key)

	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}

	if c.now().Sub(e.createdAt) > c.ttl {
		// Lazy expiry: evict on read past TTL.
		c.mu.Lock()
		if cur, still := c.entries[k]; still && cur.createdAt.Equal(e.createdAt) {
			delete(c.entries, k)
		}
		c.mu.Unlock()
		return "", false
	}

	return e.text, true
}

// Set stores text for the key. Last writer wins; concurrent generations for
// the same key waste work but are not incorrect.
func (c *MemoryCache) Set(_ context.Context, key core.CacheKey, text string) {
	k := Fingerprint(key)
	c.mu.Lock()
	c.entries[k] = entry{text: text, createdAt: c.now()}
	c.mu.Unlock()
}

// TTL returns the configured entry lifetime.
func (c *MemoryCache) TTL() time.Duration {
	return c.ttl
}

// Close is a no-op for the in-memory cache.
func (c *MemoryCache) Close() error {
	return nil
}
