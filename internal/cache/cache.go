package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/placemark-weather/internal/models"
)

// Cache stores raw upstream weather responses by key.
// Get returns cached data if present and not expired, Set stores data with TTL.
// Cached responses are shared between callers and must not be mutated.
type Cache interface {
	Get(ctx context.Context, key string) (*models.WeatherResponse, bool, error)
	Set(ctx context.Context, key string, value *models.WeatherResponse, ttl time.Duration) error
}

// InMemoryCache implements Cache using a mutex-guarded map with TTL-based expiration.
// Expired entries are removed on access.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     *models.WeatherResponse
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Get retrieves the cached response for key if present and not expired.
// Returns (resp, true, nil) on hit, (nil, false, nil) on miss or expiration.
func (c *InMemoryCache) Get(ctx context.Context, key string) (*models.WeatherResponse, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}

	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Set stores the response with the given TTL.
func (c *InMemoryCache) Set(ctx context.Context, key string, value *models.WeatherResponse, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
