package cache

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// EmptyMarker is cached in place of an empty source result.
const EmptyMarker = "$NULL$"

// Aside reads values of T through a Cache, loading from the source of truth on a miss.
// Empty results are cached as EmptyMarker for EmptyTTL so repeated misses skip the source.
type Aside[T any] struct {
	TTL      time.Duration
	EmptyTTL time.Duration
	IsEmpty  func(T) bool
	Encode   func(T) string
	Decode   func(string) (T, error)
}

// Get returns the cached value of key, or calls load and caches its result.
// An entry that fails to decode is treated as a miss.
func (a Aside[T]) Get(ctx context.Context, c Cache, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if cached, err := c.Get(ctx, key); err == nil && cached != "" {
		if cached == EmptyMarker {
			return zero, nil
		}
		if v, err := a.Decode(cached); err == nil {
			return v, nil
		}
	}

	v, err := load(ctx)
	if err != nil {
		return zero, err
	}
	if a.IsEmpty(v) {
		_ = c.Set(ctx, key, EmptyMarker, JitterTTL(a.EmptyTTL))
		return zero, nil
	}
	_ = c.Set(ctx, key, a.Encode(v), JitterTTL(a.TTL))
	return v, nil
}

// WriteThrough runs write and drops key once it succeeds.
func WriteThrough(ctx context.Context, c Cache, key string, write func(context.Context) error) error {
	if err := write(ctx); err != nil {
		return err
	}
	_ = c.Del(ctx, key)
	return nil
}

// JitterTTL shortens ttl by up to 10% so keys written together do not expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	maxJitter := int64(ttl / 10)
	if maxJitter <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}
