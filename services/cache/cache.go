package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/upb/llm-gateway/services/providers"
)

// ResponseCache stores completed chat responses keyed by request fingerprint
type ResponseCache interface {
	Get(fingerprint string) *providers.ChatResponse
	Set(fingerprint string, resp *providers.ChatResponse)
	Invalidate(fingerprint string)
}

// cacheEntry represents a single cache entry with TTL
type cacheEntry struct {
	response   *providers.ChatResponse
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired
func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return time.Since(e.insertedAt) > ttl
}

// MemoryCache is an in-memory LRU cache with TTL for chat responses
// Thread-safe implementation using sync.Mutex
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	lruList *list.List // Doubly linked list for LRU tracking
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewMemoryCache creates a new MemoryCache with specified max size and TTL
func NewMemoryCache(maxSize int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves a cached response
// Returns nil if not found or expired
func (c *MemoryCache) Get(fingerprint string) *providers.ChatResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[fingerprint]
	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(fingerprint)
		}
		return nil
	}

	// Move to front (most recently used)
	c.lruList.MoveToFront(entry.element)
	c.hits++

	return entry.response
}

// Set stores a response in the cache
func (c *MemoryCache) Set(fingerprint string, resp *providers.ChatResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[fingerprint]; exists {
		entry.response = resp
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	// Evict least recently used entry if cache is full
	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		response:   resp,
		insertedAt: time.Now(),
	}
	entry.element = c.lruList.PushFront(fingerprint)
	c.entries[fingerprint] = entry
}

// Invalidate removes a specific cache entry
func (c *MemoryCache) Invalidate(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntry(fingerprint)
}

// Clear removes all entries from the cache
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: c.calculateHitRate(),
	}
}

// Stats represents cache statistics
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// calculateHitRate calculates the cache hit rate (lock held)
func (c *MemoryCache) calculateHitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *MemoryCache) removeEntry(fingerprint string) {
	if entry, exists := c.entries[fingerprint]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, fingerprint)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *MemoryCache) evictLRU() {
	backElement := c.lruList.Back()
	if backElement != nil {
		fingerprint := backElement.Value.(string)
		c.lruList.Remove(backElement)
		delete(c.entries, fingerprint)
	}
}

// CleanupExpired removes all expired entries and reports how many were dropped
func (c *MemoryCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := make([]string, 0)
	for fingerprint, entry := range c.entries {
		if entry.isExpired(c.ttl) {
			expired = append(expired, fingerprint)
		}
	}
	for _, fingerprint := range expired {
		c.removeEntry(fingerprint)
	}
	return len(expired)
}

// StartCleanupWorker starts a background worker to periodically clean up expired entries
func (c *MemoryCache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}
