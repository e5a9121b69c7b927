// Package cache defines the key/value store used to share fetched
// credentials between processes.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values with an optional TTL.
type Cache interface {
	// Get retrieves a value by key.
	// Returns ErrCacheMiss if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value. If ttl is 0, the value doesn't expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value by key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Error represents a cache error type.
type Error string

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss Error = "cache miss"

	// ErrCacheUnavailable indicates the cache backend could not be reached.
	ErrCacheUnavailable Error = "cache unavailable"
)

func (e Error) Error() string {
	return string(e)
}

// Keys provides cache key generation.
var Keys = cacheKeys{}

type cacheKeys struct{}

// Credentials returns the cache key for credentials fetched under name.
func (cacheKeys) Credentials(name string) string {
	return "alexander:credentials:" + name
}
