package cache

import (
	"context"
	"time"
)

// Cache holds test case lists, encoded result bundles and grading locks.
type Cache interface {
	// Get returns "" and a nil error for a missing key.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key. A zero ttl never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	// TryLock takes key for ttl and returns the owner token, or "" when another owner holds it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Unlock releases key only while it is still held by token.
	Unlock(ctx context.Context, key, token string) error

	Close() error
}
