package tenant

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process TTL cache for resolved tenants.
type MemoryCache struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	items map[string]cacheItem
}

type cacheItem struct {
	tenant    Tenant
	expiresAt time.Time
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache returns a cache whose entries live for ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, items: make(map[string]cacheItem)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Tenant, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return Tenant{}, false
	}
	if now := c.now(); now.After(item.expiresAt) {
		c.mu.Lock()
		// a concurrent Set may have refreshed the entry
		if cur, ok := c.items[key]; ok && now.After(cur.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return Tenant{}, false
	}
	return item.tenant, true
}

// Set stores t under key and drops every expired entry, so keys that are never read
// again do not pile up.
func (c *MemoryCache) Set(_ context.Context, key string, t Tenant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, k)
		}
	}
	c.items[key] = cacheItem{tenant: t, expiresAt: now.Add(c.ttl)}
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.items, key)
	}
}
