package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter gates new websocket upgrades per client IP.
type Limiter interface {
	Allow(ctx context.Context, ip string) (bool, error)
}

// Compile-time check to ensure RedisLimiter implements Limiter
var _ Limiter = (*RedisLimiter)(nil)

// RedisLimiter is a fixed-window counter: INCR on a per-IP key, with
// the window TTL set when the key is first created. Shared across
// server instances pointing at the same Redis.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, ip string) (bool, error) {
	key := fmt.Sprintf("ratelimit:conn:%s", ip)

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return incr.Val() <= int64(l.limit), nil
}

// Noop admits everything; used when rate limiting is disabled.
type Noop struct{}

func (Noop) Allow(ctx context.Context, ip string) (bool, error) { return true, nil }
