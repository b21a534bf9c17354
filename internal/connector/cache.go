package connector

import (
	"context"
	"sync"
)

// Cache remembers the last chosen provider so later connects can skip the
// picker.
type Cache interface {
	Load(ctx context.Context) (string, error)
	Store(ctx context.Context, name string) error
	Clear(ctx context.Context) error
}

// MemoryCache keeps the choice for the life of the process.
type MemoryCache struct {
	mu   sync.RWMutex
	name string
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

// Load implements Cache.
func (c *MemoryCache) Load(context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name, nil
}

// Store implements Cache.
func (c *MemoryCache) Store(_ context.Context, name string) error {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
	return nil
}

// Clear implements Cache.
func (c *MemoryCache) Clear(context.Context) error {
	c.mu.Lock()
	c.name = ""
	c.mu.Unlock()
	return nil
}
