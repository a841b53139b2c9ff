package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wbrown/janus-factdb/datalog/edn"
	"github.com/wbrown/janus-factdb/datalog/query"
)

// QueryCache caches parsed queries by the sha256 of their text so a query
// string is parsed once
type QueryCache struct {
	cache map[string]*cachedQuery
	mu    sync.RWMutex

	// Statistics
	hits   int64
	misses int64

	// Configuration
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cachedQuery struct {
	query     *query.Query
	timestamp time.Time
}

// NewQueryCache creates a new query cache
func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &QueryCache{
		cache:   make(map[string]*cachedQuery),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Key derives the cache key of a query given as text or as data
func Key(q interface{}) (string, bool) {
	var text string
	switch v := q.(type) {
	case string:
		text = v
	default:
		n, err := edn.FromValue(v)
		if err != nil {
			return "", false
		}
		text = n.String()
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:]), true
}

// Get retrieves a cached query if it exists and is not expired
func (c *QueryCache) Get(key string) (*query.Query, bool) {
	if c == nil {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.cache[key]
	if !ok || c.now().Sub(cached.timestamp) > c.ttl {
		// expired entries are dropped lazily by Set
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&c.hits, 1)
	return cached.query, true
}

// Set stores a parsed query
func (c *QueryCache) Set(key string, q *query.Query) {
	if c == nil || q == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.cache[key]; !ok && len(c.cache) >= c.maxSize {
		c.evictExpired()
		if len(c.cache) >= c.maxSize {
			c.evictOldest()
		}
	}
	c.cache[key] = &cachedQuery{query: q, timestamp: c.now()}
}

// Clear removes all cached queries
func (c *QueryCache) Clear() {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[string]*cachedQuery)
	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
}

// Stats returns cache statistics
func (c *QueryCache) Stats() (hits, misses int64, size int) {
	if c == nil {
		return 0, 0, 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses), len(c.cache)
}

// evictExpired removes expired entries from the cache
func (c *QueryCache) evictExpired() {
	now := c.now()
	for key, cached := range c.cache {
		if now.Sub(cached.timestamp) > c.ttl {
			delete(c.cache, key)
		}
	}
}

// evictOldest removes the oldest entry from the cache
func (c *QueryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, cached := range c.cache {
		if oldestKey == "" || cached.timestamp.Before(oldestTime) {
			oldestKey = key
			oldestTime = cached.timestamp
		}
	}

	if oldestKey != "" {
		delete(c.cache, oldestKey)
	}
}
