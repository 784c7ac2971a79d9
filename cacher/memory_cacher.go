package cacher

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryCacher keeps entries in process with go-cache. Values are stored as
// given, so callers get back exactly the type they put in.
type MemoryCacher[T any] struct {
	cache *cache.Cache
}

// NewMemoryCacher creates an in-memory cache.
//
// Parameters:
//   - defaultExpiration: TTL used when Set is called with a zero TTL
//     (cache.NoExpiration keeps entries until deleted)
//   - cleanupInterval: Interval at which expired entries are purged
//
// Returns:
//   - The cacher
func NewMemoryCacher[T any](defaultExpiration, cleanupInterval time.Duration) Cacher[T] {
	return &MemoryCacher[T]{
		cache: cache.New(defaultExpiration, cleanupInterval),
	}
}

// Get returns the cached value for key. Entries stored with a different type
// are reported as misses.
func (c *MemoryCacher[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	val, found := c.cache.Get(key)
	if !found {
		return zero, false, nil
	}

	typed, ok := val.(T)
	if !ok {
		return zero, false, nil
	}

	return typed, true, nil
}

// Set stores value under key.
func (c *MemoryCacher[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl == 0 {
		ttl = cache.DefaultExpiration
	}

	c.cache.Set(key, value, ttl)
	return nil
}

// Delete removes a key.
func (c *MemoryCacher[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.cache.Delete(key)
	return nil
}

// DeleteByPrefix deletes every unexpired key starting with prefix.
func (c *MemoryCacher[T]) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	deleted := 0
	for key := range c.cache.Items() {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		if strings.HasPrefix(key, prefix) {
			c.cache.Delete(key)
			deleted++
		}
	}

	return deleted, nil
}

// Len returns the number of entries, including expired ones not yet purged.
func (c *MemoryCacher[T]) Len() int {
	return c.cache.ItemCount()
}
