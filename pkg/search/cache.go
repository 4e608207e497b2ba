package search

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// cacheTTL is how long a query's results stay fresh.
const cacheTTL = time.Hour

type cacheEntry struct {
	results []Result
	expires time.Time
}

// resultCache is a process-wide query cache keyed by a hash of the
// lowercased query text. Expired entries are evicted lazily on read.
type resultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func cacheKey(query string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:])
}

func (c *resultCache) get(query string) ([]Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[cacheKey(query)]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expires) {
		delete(c.entries, cacheKey(query))
		return nil, false
	}
	return entry.results, true
}

func (c *resultCache) put(query string, results []Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(query)] = cacheEntry{
		results: results,
		expires: c.now().Add(c.ttl),
	}
}
