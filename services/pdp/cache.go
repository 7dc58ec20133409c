package pdp

import (
	"container/list"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/alparn/agentxsuite-sub000/models"
	"github.com/alparn/agentxsuite-sub000/repositories"
)

// cacheKeyForScopes builds a deterministic cache key from a scope ref set
func cacheKeyForScopes(refs []repositories.ScopeRef) string {
	parts := make([]string, 0, len(refs))
	for _, ref := range refs {
		parts = append(parts, string(ref.Type)+"="+ref.ID)
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// bindingCacheEntry represents a single cache entry with TTL
type bindingCacheEntry struct {
	bindings   []*models.PolicyBinding
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired
func (e *bindingCacheEntry) isExpired(ttl time.Duration) bool {
	return time.Since(e.insertedAt) > ttl
}

// BindingCache is an in-memory LRU cache with TTL for resolved binding sets.
// Entries are keyed by the scope refs of an authorization request so the
// decision path avoids a bindings query per check. Thread-safe.
type BindingCache struct {
	mu      sync.RWMutex
	entries map[string]*bindingCacheEntry
	lruList *list.List    // Doubly linked list for LRU tracking
	maxSize int           // Maximum number of entries
	ttl     time.Duration // Time-to-live for entries
	hits    uint64        // Cache hit counter
	misses  uint64        // Cache miss counter
}

// NewBindingCache creates a new BindingCache with specified max size and TTL
func NewBindingCache(maxSize int, ttl time.Duration) *BindingCache {
	return &BindingCache{
		entries: make(map[string]*bindingCacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves the binding set cached for the scope refs.
// Returns nil, false if not found or expired.
func (c *BindingCache) Get(refs []repositories.ScopeRef) ([]*models.PolicyBinding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := cacheKeyForScopes(refs)
	entry, exists := c.entries[keyStr]

	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(keyStr)
		}
		return nil, false
	}

	// Move to front (most recently used)
	c.lruList.MoveToFront(entry.element)
	c.hits++

	return entry.bindings, true
}

// Set stores a binding set for the scope refs
func (c *BindingCache) Set(refs []repositories.ScopeRef, bindings []*models.PolicyBinding) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := cacheKeyForScopes(refs)

	if entry, exists := c.entries[keyStr]; exists {
		entry.bindings = bindings
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	// Evict least recently used entry if cache is full
	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &bindingCacheEntry{
		bindings:   bindings,
		insertedAt: time.Now(),
	}

	entry.element = c.lruList.PushFront(keyStr)
	c.entries[keyStr] = entry
}

// InvalidatePolicy removes every cached binding set that references the
// policy. Called after policy, rule, or binding writes so decisions never
// serve bindings past the cache TTL after a management change.
func (c *BindingCache) InvalidatePolicy(policyID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for keyStr, entry := range c.entries {
		for _, binding := range entry.bindings {
			if binding.PolicyID == policyID {
				c.removeEntry(keyStr)
				break
			}
		}
	}
}

// Clear removes all entries from the cache
func (c *BindingCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*bindingCacheEntry)
	c.lruList.Init()
}

// Stats returns cache statistics
func (c *BindingCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

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
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// calculateHitRate calculates the cache hit rate
func (c *BindingCache) calculateHitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *BindingCache) removeEntry(keyStr string) {
	if entry, exists := c.entries[keyStr]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, keyStr)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *BindingCache) evictLRU() {
	if c.lruList.Len() == 0 {
		return
	}

	backElement := c.lruList.Back()
	if backElement != nil {
		keyStr := backElement.Value.(string)
		c.lruList.Remove(backElement)
		delete(c.entries, keyStr)
	}
}

// CleanupExpired removes all expired entries
// Should be called periodically in a background goroutine
func (c *BindingCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiredKeys := make([]string, 0)

	for keyStr, entry := range c.entries {
		if entry.isExpired(c.ttl) {
			expiredKeys = append(expiredKeys, keyStr)
		}
	}

	for _, keyStr := range expiredKeys {
		c.removeEntry(keyStr)
	}

	return len(expiredKeys)
}

// StartCleanupWorker starts a background worker to periodically clean up expired entries
func (c *BindingCache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
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
