// Package cachemanager provides keyed in-memory caches. Controllers keep
// their named-value caches here.
package cachemanager

import (
	"context"
	"time"
)

// CacheManager is a keyed cache with per-entry expiration.
type CacheManager[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Items(ctx context.Context) map[K]V
	Flush(ctx context.Context) error
}
