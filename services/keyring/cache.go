package keyring

import (
	"container/list"
	"sync"
	"time"

	"github.com/arcturusdc/orbit/models"
)

// CacheKey identifies a cached signing key. An empty KeyID addresses the org's active key.
type CacheKey struct {
	OrgID string
	KeyID string
}

// String returns a string representation of the cache key
func (k CacheKey) String() string {
	if k.KeyID == "" {
		return k.OrgID + ":active"
	}
	return k.OrgID + ":" + k.KeyID
}

// cacheEntry represents a single cache entry with TTL
type cacheEntry struct {
	key        CacheKey
	signingKey *models.SigningKey
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired
func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return time.Since(e.insertedAt) > ttl
}

// KeyCache is an in-memory LRU cache with TTL for signing keys
// Thread-safe implementation using sync.Mutex
type KeyCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry // Key: CacheKey.String()
	lruList *list.List             // Doubly linked list for LRU tracking
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewKeyCache creates a new KeyCache with specified max size and TTL
func NewKeyCache(maxSize int, ttl time.Duration) *KeyCache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &KeyCache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves a key from cache
// Returns nil if not found or expired
func (c *KeyCache) Get(key CacheKey) *models.SigningKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := key.String()
	entry, exists := c.entries[keyStr]

	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(keyStr)
		}
		return nil
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++

	clone := *entry.signingKey
	return &clone
}

// Set stores a key in cache
func (c *KeyCache) Set(key CacheKey, signingKey *models.SigningKey) {
	if signingKey == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := key.String()
	stored := *signingKey

	if entry, exists := c.entries[keyStr]; exists {
		entry.signingKey = &stored
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		key:        key,
		signingKey: &stored,
		insertedAt: time.Now(),
	}
	entry.element = c.lruList.PushFront(keyStr)
	c.entries[keyStr] = entry
}

// InvalidateOrg removes all cache entries for an organization
func (c *KeyCache) InvalidateOrg(orgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for keyStr, entry := range c.entries {
		if entry.key.OrgID == orgID {
			c.removeEntry(keyStr)
		}
	}
}

// Clear removes all entries from the cache
func (c *KeyCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// Stats returns cache statistics
func (c *KeyCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: c.calculateHitRate(),
	}
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"maxSize"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

func (c *KeyCache) calculateHitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *KeyCache) removeEntry(keyStr string) {
	if entry, exists := c.entries[keyStr]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, keyStr)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *KeyCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	keyStr := back.Value.(string)
	c.lruList.Remove(back)
	delete(c.entries, keyStr)
}
