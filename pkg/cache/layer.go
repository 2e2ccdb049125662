package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Layer is the read-through front for a Cache. Reads coalesce concurrent
// misses for the same key into a single loader call; any cache failure
// downgrades the read to the loader instead of failing it.
type Layer struct {
	cache Cache
	group singleflight.Group
	log   *logrus.Logger
}

func NewLayer(cache Cache, log *logrus.Logger) *Layer {
	return &Layer{cache: cache, log: log}
}

// GetOrSet returns the cached value for key, loading and populating it on
// miss. Concurrent callers missing on the same key share one loader call.
func (l *Layer) GetOrSet(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) ([]byte, error)) ([]byte, error) {
	cached, err := l.cache.Get(ctx, key)
	if err == nil {
		hitCounter.WithLabelValues().Inc()
		return cached, nil
	}
	if !errors.Is(err, ErrMiss) {
		degradedCounter.WithLabelValues().Inc()
		l.warn(err, "cache read degraded to source of truth", key)
		return loader(ctx)
	}

	missCounter.WithLabelValues().Inc()
	val, err, _ := l.group.Do(key, func() (interface{}, error) {
		// Another flight may have populated the key while we queued.
		if cached, err := l.cache.Get(ctx, key); err == nil {
			return cached, nil
		}
		loaded, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if err := l.cache.Set(ctx, key, loaded, ttl); err != nil {
			l.warn(err, "cache populate failed", key)
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]byte), nil
}

// Invalidate removes the given point keys and purges the given patterns.
// Failures are logged and swallowed: a stale-entry risk on an unreachable
// cache is bounded by TTL, and correctness never depends on the cache.
func (l *Layer) Invalidate(ctx context.Context, keys []string, patterns ...string) {
	invalidationCounter.WithLabelValues().Inc()
	if err := l.cache.Delete(ctx, keys...); err != nil {
		// One retry covers transient hiccups around commit time.
		if err := l.cache.Delete(ctx, keys...); err != nil {
			l.warn(err, "cache point invalidation failed", keys...)
		}
	}
	for _, pattern := range patterns {
		if err := l.cache.DeletePattern(ctx, pattern); err != nil {
			if err := l.cache.DeletePattern(ctx, pattern); err != nil {
				l.warn(err, "cache pattern invalidation failed", pattern)
			}
		}
	}
}

func (l *Layer) warn(err error, msg string, keys ...string) {
	if l.log == nil {
		return
	}
	l.log.WithError(err).WithField("keys", keys).Warn(msg)
}

// GetOrSetJSON is the typed convenience wrapper services use: values round-trip
// through JSON.
func GetOrSetJSON[T any](ctx context.Context, l *Layer, key string, ttl time.Duration, loader func(context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := l.GetOrSet(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, err
	}
	return out, nil
}
