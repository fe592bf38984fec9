// Package cache provides the key/value backends behind the availability and
// rule caches: a per-instance MemoryStore and a shared RedisStore.
package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented TTL cache. A miss is reported as (nil, false, nil);
// a non-nil error means the backend itself failed.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}
