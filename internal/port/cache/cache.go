// Package cache defines the port interface for key-value caching.
//
// The memory subsystem uses it as a read-through cache of assembled
// observation lists: strong invalidation on writes, weak freshness
// between writes (bounded by the TTL).
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
