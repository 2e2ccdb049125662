package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMiss is returned when a key is absent. Callers fall through to the
	// source of truth.
	ErrMiss = errors.New("cache: key not found")
	// ErrUnavailable is returned when the cache backend cannot be reached.
	// The cache is advisory: callers must degrade to the store, never fail.
	ErrUnavailable = errors.New("cache: backend unavailable")
)

// Cache is the narrow client surface the engine needs from its cache
// collaborator. Lifecycle (connect/close) is owned by the caller.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern removes every key matching the glob pattern. Used for
	// namespace invalidation of tenant list/aggregate views.
	DeletePattern(ctx context.Context, pattern string) error
}
