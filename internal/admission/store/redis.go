package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gatekeeper/internal/models"
)

// Redis is a Redis-backed Store for multi-instance deployments, where every
// replica must share one set of counters. Atomicity comes from Redis itself:
// INCR is single-threaded per key, so concurrent callers always observe
// distinct counts.
type Redis struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// NewRedis creates a Redis counter store and verifies connectivity.
func NewRedis(cfg models.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Millisecond
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "gatekeeper:"
	}

	return &Redis{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		now:     time.Now,
	}, nil
}

// Increment advances the counter in a single pipeline round trip: INCR plus
// ExpireNX so only the first request of a window arms the TTL. The call is
// bounded by the configured timeout; on expiry the error wraps ErrUnavailable
// and the caller falls back to the tier's failure policy.
func (r *Redis) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	fullKey := r.prefix + key

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, window)
	ttlCmd := pipe.PTTL(ctx, fullKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: redis increment: %v", ErrUnavailable, err)
	}

	// Derive the window start from the remaining TTL. A fresh key reports the
	// full window, so windowStart collapses to now.
	ttl := ttlCmd.Val()
	if ttl < 0 || ttl > window {
		ttl = window
	}
	windowStart := r.now().Add(ttl).Add(-window)

	return incr.Val(), windowStart, nil
}

func (r *Redis) Get(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	val, err := r.client.Get(ctx, r.prefix+key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: redis get: %v", ErrUnavailable, err)
	}
	return val, nil
}

func (r *Redis) Reset(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: redis reset: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
