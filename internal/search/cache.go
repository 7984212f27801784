package search

import (
	"sync"
	"time"

	"github.com/Veraticus/fitcheck/internal/model"
)

// DefaultCacheTTL is how long search results are reused for an identical query.
const DefaultCacheTTL = 15 * time.Minute

// cacheEntry represents cached results for one query.
type cacheEntry struct {
	expiry  time.Time
	results []model.SearchResult
}

// resultCache provides thread-safe caching of image search results.
type resultCache struct {
	entries map[string]cacheEntry
	stopCh  chan struct{}
	ttl     time.Duration
	mu      sync.RWMutex
	once    sync.Once
}

// newResultCache creates a new cache with the specified TTL.
func newResultCache(ttl time.Duration) *resultCache {
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}

	cache := &resultCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

// get returns a copy of the cached results if present and not expired.
func (c *resultCache) get(key string) ([]model.SearchResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.expiry) {
		return nil, false
	}

	return append([]model.SearchResult(nil), entry.results...), true
}

// set stores a copy of results under key.
func (c *resultCache) set(key string, results []model.SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		results: append([]model.SearchResult(nil), results...),
		expiry:  time.Now().Add(c.ttl),
	}
}

// cleanup periodically removes expired entries.
func (c *resultCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.expiry) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// size returns the number of entries in the cache.
func (c *resultCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine.
func (c *resultCache) Close() {
	c.once.Do(func() { close(c.stopCh) })
}
