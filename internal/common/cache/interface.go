package cache

import (
	"context"
	"time"
)

// Cache defines the cache operations used by the judge pipeline.
// Implementations must be safe for concurrent use.
type Cache interface {
	BasicOps
	CounterOps

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
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CounterOps defines atomic counter operations.
type CounterOps interface {
	// IncrWithExpireAt increments a key and sets its absolute expiry in one transaction.
	IncrWithExpireAt(ctx context.Context, key string, expireAt time.Time) (int64, error)
}
