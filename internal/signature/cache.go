// Package signature caches thought signatures between requests.
//
// The upstream attaches a thoughtSignature to its reasoning output and
// expects it back on the next turn. Clients speaking the Messages API
// don't always echo it, so we remember signatures here keyed by tool_use
// id, plus the most recent one under the reserved key "latest".
package signature

import (
	"sync"
	"time"
)

// Latest is the reserved key for the most recently seen signature.
const Latest = "latest"

// DefaultTTL is how long a cached signature stays valid.
const DefaultTTL = time.Hour

type entry struct {
	signature string
	createdAt time.Time
}

// Cache is a TTL map of signature keys to signatures. Safe for
// concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration

	// now is swapped out by tests to control expiry.
	now func() time.Time
}

// NewCache creates a cache with the given TTL. A non-positive ttl falls
// back to DefaultTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Store saves a signature under the given key, resetting its TTL.
func (c *Cache) Store(key, signature string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{signature: signature, createdAt: c.now()}
}

// Get returns the signature for key, or "" if it is absent or expired.
// Expired entries are evicted on read.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.expired(e) {
		delete(c.entries, key)
		return "", false
	}
	return e.signature, true
}

// GetLatest returns the most recently stored signature, if still valid.
func (c *Cache) GetLatest() (string, bool) {
	return c.Get(Latest)
}

// CleanupExpired removes every expired entry and returns how many were
// dropped. The background refresher calls this on each tick.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expired(e entry) bool {
	return c.now().Sub(e.createdAt) > c.ttl
}
