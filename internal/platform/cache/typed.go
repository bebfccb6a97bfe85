package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Typed is a typed view over a Cache. The memory tier hands back the stored
// value as-is; tiers that serialize (Redis) hand back JSON, which is decoded.
type Typed[T any] struct {
	cache Cache
	ttl   time.Duration
}

// NewTyped wraps c. ttl is used for every Set; zero defers to the cache default.
func NewTyped[T any](c Cache, ttl time.Duration) *Typed[T] {
	return &Typed[T]{cache: c, ttl: ttl}
}

// Get returns the cached value, or ErrNotFound.
// Undecodable entries are dropped and reported as ErrInvalidValue.
func (t *Typed[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T

	raw, err := t.cache.Get(ctx, key)
	if err != nil {
		return zero, err
	}

	switch v := raw.(type) {
	case T:
		return v, nil
	case []byte:
		var out T
		if err := json.Unmarshal(v, &out); err != nil {
			_ = t.cache.Delete(ctx, key)
			return zero, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return out, nil
	default:
		_ = t.cache.Delete(ctx, key)
		return zero, fmt.Errorf("%w: unexpected %T", ErrInvalidValue, raw)
	}
}

// Lookup is Get folded into a hit flag; any error counts as a miss.
func (t *Typed[T]) Lookup(ctx context.Context, key string) (T, bool) {
	v, err := t.Get(ctx, key)
	return v, err == nil
}

// Set stores value under key.
func (t *Typed[T]) Set(ctx context.Context, key string, value T) error {
	return t.cache.Set(ctx, key, value, t.ttl)
}

// Clear drops every entry of the underlying cache.
func (t *Typed[T]) Clear(ctx context.Context) error {
	return t.cache.Clear(ctx)
}

// Stats reports the underlying cache if it keeps statistics.
func (t *Typed[T]) Stats() Stats {
	if r, ok := t.cache.(StatsReporter); ok {
		return r.Stats()
	}
	return Stats{TTL: t.ttl}
}

// IsMiss reports whether err means "nothing usable cached".
func IsMiss(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidValue)
}
