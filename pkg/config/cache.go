package config

import (
	"sync"
)

// Cache provides thread-safe caching of resolved configurations
type Cache struct {
	mu    sync.RWMutex
	items map[string]*Config
}

// NewCache creates a new cache instance
func NewCache() *Cache {
	return &Cache{
		items: make(map[string]*Config),
	}
}

// Get retrieves a configuration from the cache
func (c *Cache) Get(key string) (*Config, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, found := c.items[key]
	return value, found
}

// Set stores a configuration in the cache
func (c *Cache) Set(key string, value *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = value
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*Config)
}

// Size returns the number of entries in the cache
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}
