package metadata

import (
	"encoding/json"
	"sync"
	"time"
)

// Cache is an in-memory TTL cache for raw metadata documents.
type Cache struct {
	mu       sync.RWMutex
	items    map[string]cacheItem
	ttl      time.Duration
	maxItems int
	now      func() time.Time
}

type cacheItem struct {
	value     json.RawMessage
	expiresAt time.Time
}

func NewCache(ttl time.Duration, maxItems int) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if maxItems <= 0 {
		maxItems = 1000
	}
	return &Cache{
		items:    make(map[string]cacheItem),
		ttl:      ttl,
		maxItems: maxItems,
		now:      time.Now,
	}
}

// Get returns a live entry; expired entries read as missing.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	if !ok || !c.now().Before(item.expiresAt) {
		return nil, false
	}
	return item.value, true
}

func (c *Cache) Set(key string, value json.RawMessage) {
	c.SetWithTTL(key, value, c.ttl)
}

func (c *Cache) SetWithTTL(key string, value json.RawMessage, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxItems {
		c.evict()
	}
	c.items[key] = cacheItem{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropExpired()
}

// Resize applies new limits; existing entries keep their expiry.
func (c *Cache) Resize(ttl time.Duration, maxItems int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl > 0 {
		c.ttl = ttl
	}
	if maxItems > 0 {
		c.maxItems = maxItems
	}
	for len(c.items) > c.maxItems {
		c.evict()
	}
}

func (c *Cache) dropExpired() int {
	now := c.now()
	removed := 0
	for key, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// evict frees room for one entry: expired entries first, then the one closest to expiry.
// Must be called with the lock held.
func (c *Cache) evict() {
	if c.dropExpired() > 0 && len(c.items) < c.maxItems {
		return
	}

	var oldestKey string
	var oldest time.Time
	for key, item := range c.items {
		if oldestKey == "" || item.expiresAt.Before(oldest) {
			oldestKey = key
			oldest = item.expiresAt
		}
	}
	delete(c.items, oldestKey)
}
