// Package cachemanager provides typed, TTL-bound in-memory caches.
// The scheduler uses it to keep compiled execution graphs keyed by registry
// fingerprint so repeated runs of an unchanged registry skip validation.
package cachemanager

import (
	"context"
	"time"
)

type CacheManager[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K) error
	Flush(ctx context.Context) error
	Len() int
}
