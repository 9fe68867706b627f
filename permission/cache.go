package permission

import (
	"context"
	"sync"
)

// Resolver loads the current mask of a user from the host.
type Resolver func(ctx context.Context, userID string) (Mask64, error)

// Cache memoizes resolved masks per user until invalidated.
type Cache struct {
	resolve Resolver

	mu      sync.RWMutex
	entries map[string]Mask64
	// generation guards against a resolve that started before an
	// invalidation writing its stale result back.
	generation uint64
}

func NewCache(resolve Resolver) *Cache {
	return &Cache{
		resolve: resolve,
		entries: make(map[string]Mask64),
	}
}

// Mask returns the cached mask of userID, resolving it on a miss. Resolve
// errors are not cached.
func (c *Cache) Mask(ctx context.Context, userID string) (Mask64, error) {
	c.mu.RLock()
	mask, ok := c.entries[userID]
	gen := c.generation
	c.mu.RUnlock()
	if ok {
		return mask, nil
	}

	mask, err := c.resolve(ctx, userID)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	if c.generation == gen {
		c.entries[userID] = mask
	}
	c.mu.Unlock()
	return mask, nil
}

// Invalidate drops the entry of userID.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.generation++
	c.mu.Unlock()
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]Mask64)
	c.generation++
	c.mu.Unlock()
}

// Len returns the number of cached users.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
