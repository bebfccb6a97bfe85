package cache

import (
	"context"
	"errors"
	"time"
)

// DefaultL1MaxTTL bounds how long the memory tier keeps a backfilled entry.
const DefaultL1MaxTTL = 1 * time.Minute

// ttlReader is implemented by tiers that can report remaining lifetime.
type ttlReader interface {
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// LayeredCache implements a two-tier cache (L1: memory, L2: Redis)
type LayeredCache struct {
	l1       Cache
	l2       Cache
	l1MaxTTL time.Duration
}

// LayeredCacheConfig configures a LayeredCache.
type LayeredCacheConfig struct {
	L1 Cache
	L2 Cache
	// L1MaxTTL caps the TTL written to L1. Negative disables the cap.
	L1MaxTTL time.Duration
}

// NewLayeredCache creates a new layered cache
func NewLayeredCache(l1, l2 Cache) *LayeredCache {
	return NewLayeredCacheWithConfig(LayeredCacheConfig{L1: l1, L2: l2})
}

// NewLayeredCacheWithConfig creates a layered cache with explicit settings.
func NewLayeredCacheWithConfig(cfg LayeredCacheConfig) *LayeredCache {
	if cfg.L1MaxTTL == 0 {
		cfg.L1MaxTTL = DefaultL1MaxTTL
	}
	return &LayeredCache{l1: cfg.L1, l2: cfg.L2, l1MaxTTL: cfg.L1MaxTTL}
}

func (lc *LayeredCache) capL1(ttl time.Duration) time.Duration {
	if lc.l1MaxTTL > 0 && (ttl <= 0 || ttl > lc.l1MaxTTL) {
		return lc.l1MaxTTL
	}
	return ttl
}

// Get retrieves a value from cache (L1 → L2 → miss)
func (lc *LayeredCache) Get(ctx context.Context, key string) (any, error) {
	if lc.l1 != nil {
		if val, err := lc.l1.Get(ctx, key); err == nil {
			return val, nil
		}
	}

	if lc.l2 == nil {
		return nil, ErrNotFound
	}

	val, err := lc.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if lc.l1 != nil {
		backfill := lc.capL1(0)
		// never let L1 outlive the L2 entry
		if r, ok := lc.l2.(ttlReader); ok {
			if remaining, err := r.TTL(ctx, key); err == nil && (backfill <= 0 || remaining < backfill) {
				backfill = remaining
			}
		}
		if backfill > 0 {
			_ = lc.l1.Set(ctx, key, val, backfill)
		}
	}
	return val, nil
}

// Set stores a value in both cache layers
func (lc *LayeredCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1Err = lc.l1.Set(ctx, key, value, lc.capL1(ttl))
	}
	if lc.l2 != nil {
		l2Err = lc.l2.Set(ctx, key, value, ttl)
	}

	// Return error only if both failed
	if l1Err != nil && l2Err != nil {
		return l2Err
	}
	if lc.l1 == nil {
		return l2Err
	}
	if lc.l2 == nil {
		return l1Err
	}
	return nil
}

// Delete removes a key from both cache layers
func (lc *LayeredCache) Delete(ctx context.Context, key string) error {
	return lc.each(func(c Cache) error { return c.Delete(ctx, key) })
}

// Clear drops both tiers
func (lc *LayeredCache) Clear(ctx context.Context) error {
	return lc.each(func(c Cache) error { return c.Clear(ctx) })
}

// Close closes both cache layers
func (lc *LayeredCache) Close() error {
	return lc.each(func(c Cache) error { return c.Close() })
}

func (lc *LayeredCache) each(fn func(Cache) error) error {
	var errs []error
	for _, c := range []Cache{lc.l1, lc.l2} {
		if c == nil {
			continue
		}
		if err := fn(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InvalidateL1 invalidates only L1 cache for a key
func (lc *LayeredCache) InvalidateL1(ctx context.Context, key string) error {
	if lc.l1 != nil {
		return lc.l1.Delete(ctx, key)
	}
	return nil
}

// Stats reports the memory tier.
func (lc *LayeredCache) Stats() Stats {
	if r, ok := lc.l1.(StatsReporter); ok {
		return r.Stats()
	}
	return Stats{}
}
