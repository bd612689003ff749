package cache

import (
	"context"
	"time"
)

// Cache is the key-value surface the judge needs from a shared cache.
type Cache interface {
	BasicOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key.
	// A missing key yields an empty string and a nil error.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair with optional TTL
	// If ttl is 0, the key will not expire
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// LockOps defines token based distributed lock operations
type LockOps interface {
	// TryLock attempts to take key for ttl. The returned token must be passed to Unlock.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Unlock releases key only when it is still held with token
	Unlock(ctx context.Context, key, token string) error
}
