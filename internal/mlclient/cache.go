package mlclient

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/ternarybob/nuntius/internal/metrics"
)

// responseCache is an in-process cache for ML responses. A zero TTL
// means entries never expire. Expired entries are evicted lazily on
// read. op names the operation for the cache hit/miss counters.
type responseCache struct {
	mu      sync.RWMutex
	op      string
	ttl     time.Duration
	clock   func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time // zero when the entry never expires
}

func newResponseCache(op string, ttl time.Duration, clock func() time.Time) *responseCache {
	return &responseCache{
		op:      op,
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]cacheEntry),
	}
}

func (c *responseCache) get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		metrics.MLCacheRequests.WithLabelValues(c.op, "miss").Inc()
		return nil, false
	}
	if !entry.expiresAt.IsZero() && c.clock().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		metrics.MLCacheRequests.WithLabelValues(c.op, "miss").Inc()
		return nil, false
	}

	metrics.MLCacheRequests.WithLabelValues(c.op, "hit").Inc()
	return entry.value, true
}

func (c *responseCache) set(key string, value interface{}) {
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.clock().Add(c.ttl)
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, expiresAt: expiresAt}
	c.mu.Unlock()
}

func (c *responseCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cacheKey builds the cache key for a text under a model version.
// Keys carry the version so a model upgrade invalidates by miss.
func cacheKey(modelVersion, text string) string {
	sum := sha256.Sum256([]byte(text))
	return modelVersion + ":" + hex.EncodeToString(sum[:])
}
