package cachemanager

import (
	"context"
	"time"
)

// Loader is a read-through cache: on a miss it calls fn and stores the
// result. Errors are returned to the caller and never cached.
type Loader[K ~string, V any, I any] struct {
	cache CacheManager[K, V]
	fn    func(ctx context.Context, input I) (V, error)
	ttl   time.Duration
}

// NewLoader wires fn behind cache. A nil cache disables caching.
func NewLoader[K ~string, V any, I any](
	cache CacheManager[K, V],
	fn func(ctx context.Context, input I) (V, error),
	ttl time.Duration,
) *Loader[K, V, I] {
	return &Loader[K, V, I]{cache: cache, fn: fn, ttl: ttl}
}

// Get returns the cached value for key or loads it from input.
func (l *Loader[K, V, I]) Get(ctx context.Context, key K, input I) (V, error) {
	if l.cache == nil {
		return l.fn(ctx, input)
	}

	if value, ok := l.cache.Get(ctx, key); ok {
		return value, nil
	}

	value, err := l.fn(ctx, input)
	if err != nil {
		return value, err
	}

	l.cache.Set(ctx, key, value, l.ttl)
	return value, nil
}
