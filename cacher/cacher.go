// Package cacher provides typed key/value caches with expiry, used as external
// stores for session scratch data. Keys from one owner share a prefix so the
// owner can drop all of them at once.
package cacher

import (
	"context"
	"time"
)

// Cacher is a typed cache safe for concurrent use.
type Cacher[T any] interface {
	// Get returns the cached value for key.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: The cache key to read
	//
	// Returns:
	//   - The cached value, or the zero value of T on a miss
	//   - true if the key was present
	//   - An error if the backend could not be read
	Get(ctx context.Context, key string) (T, bool, error)

	// Set stores value under key with the given TTL, replacing any existing value.
	// A zero TTL uses the backend's default expiration.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: The cache key to write
	//   - value: The value to store
	//   - ttl: Time-to-live for the entry
	//
	// Returns:
	//   - An error if the backend could not be written
	Set(ctx context.Context, key string, value T, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix deletes all keys with the given prefix.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - prefix: The prefix to match keys against
	//
	// Returns:
	//   - The number of keys deleted
	//   - An error if the operation fails
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}
