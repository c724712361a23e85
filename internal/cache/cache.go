// Package cache keeps a short-lived in-process memory of feed fingerprints
// already checked against the store, so repeated harvests skip the lookup.
package cache

import (
	"context"
	"sync"
	"time"
)

type Cache struct {
	mu    sync.RWMutex
	items map[string]time.Time
	ttl   time.Duration
	now   func() time.Time
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		items: make(map[string]time.Time),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Mark records keys as seen for the cache TTL.
func (c *Cache) Mark(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	for _, k := range keys {
		c.items[k] = expires
	}
}

func (c *Cache) Seen(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	expires, ok := c.items[key]
	return ok && c.now().Before(expires)
}

// Unseen returns the keys not currently marked, preserving order.
func (c *Cache) Unseen(keys []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if expires, ok := c.items[k]; ok && now.Before(expires) {
			continue
		}
		out = append(out, k)
	}
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Run evicts expired entries every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *Cache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, expires := range c.items {
		if !now.Before(expires) {
			delete(c.items, key)
		}
	}
}
