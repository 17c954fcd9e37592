// Package cache defines the key-value cache port used for unread counts and
// its Redis adapter.
package cache

import (
	"context"
	"time"
)

// Cache is the minimal contract for a concurrency-safe key-value cache.
type Cache interface {
	// Get returns ErrMiss when key is absent.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value with ttl; a non-positive ttl never expires.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// ErrMiss signals a cache miss.
var ErrMiss = errMiss{}

type errMiss struct{}

func (errMiss) Error() string { return "cache: miss" }

// UnreadKey is the cache key of a user's unread counter.
func UnreadKey(userID string) string {
	return "unread:" + userID
}
