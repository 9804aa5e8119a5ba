// Package cache bounds repeated resolutions with an LRU + TTL result cache.
package cache

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/locallens/resolve-cli/internal/model"
)

// ResultCache is a concurrent-safe LRU cache for pipeline results with TTL
// expiration. Stored results are treated as read-only by all callers.
type ResultCache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	order    []string // LRU order: front=oldest, back=newest
	capacity int
	ttl      time.Duration
	hits     atomic.Int64
	misses   atomic.Int64
}

type cacheEntry struct {
	result    *model.PipelineResult
	createdAt time.Time
}

// Stats contains cache performance counters.
type Stats struct {
	Entries  int     `json:"entries"`
	Capacity int     `json:"capacity"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
}

// New creates a ResultCache with the given capacity and TTL.
func New(capacity int, ttl time.Duration) *ResultCache {
	if capacity <= 0 {
		capacity = 1000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResultCache{
		entries:  make(map[string]*cacheEntry),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Key builds the cache key: normalized address text plus the sorted addon
// set, so the same address with different addons caches separately. NUL
// separates the parts; unlike printable punctuation it does not occur in
// address text, so distinct inputs map to distinct keys.
func Key(address string, addons []string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(address), " "))

	if len(addons) == 0 {
		return norm
	}
	sorted := make([]string, len(addons))
	copy(sorted, addons)
	sort.Strings(sorted)
	return norm + "\x00" + strings.Join(sorted, "\x00")
}

// Get retrieves a cached result. Returns nil on miss; an expired entry is
// deleted and counted as a miss.
func (c *ResultCache) Get(key string) *model.PipelineResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil
	}

	if time.Since(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses.Add(1)
		return nil
	}

	// Move to back (most recently used).
	c.removeFromOrder(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	return entry.result
}

// Put stores a result, evicting the least recently used entry at capacity.
func (c *ResultCache) Put(key string, result *model.PipelineResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = &cacheEntry{result: result, createdAt: time.Now()}
		c.removeFromOrder(key)
		c.order = append(c.order, key)
		return
	}

	for len(c.entries) >= c.capacity && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = &cacheEntry{result: result, createdAt: time.Now()}
	c.order = append(c.order, key)
}

// Purge drops every entry. Counters are kept.
func (c *ResultCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.order = nil
}

// Stats returns the cache counters.
func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	capacity := c.capacity
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Entries:  entries,
		Capacity: capacity,
		Hits:     hits,
		Misses:   misses,
		HitRate:  hitRate,
	}
}

// removeFromOrder removes a key from the LRU order slice.
func (c *ResultCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
