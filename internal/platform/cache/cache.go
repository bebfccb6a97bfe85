// Package cache holds the result caches shared by the orchestration layer:
// a bounded in-memory TTL cache, an optional Redis tier and a typed view.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or expired
	ErrNotFound = errors.New("cache: key not found")

	// ErrInvalidValue is returned when a cached value cannot be decoded
	ErrInvalidValue = errors.New("cache: invalid value")
)

// Cache defines the interface for cache operations
type Cache interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) (any, error)

	// Set stores a value in cache. A zero ttl uses the cache default.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes a key from cache
	Delete(ctx context.Context, key string) error

	// Clear drops every entry
	Clear(ctx context.Context) error

	// Close releases background resources
	Close() error
}

// Stats is a point-in-time view of a cache.
type Stats struct {
	Size      int           `json:"size"`
	Capacity  int           `json:"capacity"`
	TTL       time.Duration `json:"ttl"`
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Evictions int64         `json:"evictions"`
	Expired   int64         `json:"expired"`
}

// StatsReporter is implemented by caches that can describe themselves.
type StatsReporter interface {
	Stats() Stats
}
