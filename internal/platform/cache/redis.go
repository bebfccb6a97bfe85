package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the shared result tier.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // namespaces keys so Clear only touches ours
	TTL       time.Duration
}

// RedisCache implements a Redis-backed cache. Values are stored as JSON and
// returned as raw bytes; decoding is left to Typed.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects and pings before returning.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCacheFromClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "answers:"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// WithPrefix returns a cache sharing r's connection under the nested
// namespace prefix+sub. Clear on it leaves r's other namespaces alone.
func (r *RedisCache) WithPrefix(sub string) *RedisCache {
	return &RedisCache{client: r.client, prefix: r.prefix + sub, ttl: r.ttl}
}

func (r *RedisCache) key(k string) string {
	return r.prefix + k
}

// Get returns the stored JSON document as []byte.
func (r *RedisCache) Get(ctx context.Context, key string) (any, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	return val, nil
}

// Set stores a value in Redis cache with TTL
func (r *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.ttl
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := r.client.Set(ctx, r.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// TTL returns the remaining lifetime of key.
func (r *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.client.PTTL(ctx, r.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis pttl error: %w", err)
	}
	if d < 0 {
		return 0, ErrNotFound
	}
	return d, nil
}

// Delete removes a key from Redis cache
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// Clear removes every key under the prefix.
func (r *RedisCache) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 200).Iterator()

	batch := make([]string, 0, 200)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis clear error: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan error: %w", err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis clear error: %w", err)
		}
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
