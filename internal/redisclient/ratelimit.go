package redisclient

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter is a fixed-window counter shared by every API instance that
// talks to the same redis.
type RateLimiter struct {
	client *Client
	prefix string
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *Client, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		prefix: prefix,
		limit:  int64(limit),
		window: window,
	}
}

// Allow counts one hit for key. When the limit is exceeded it reports how
// long until the window resets.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := l.prefix + ":" + key

	n, err := l.client.redisdb.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit incr: %w", err)
	}

	// first hit opens the window
	if n == 1 {
		if err := l.client.redisdb.PExpire(ctx, k, l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("rate limit expire: %w", err)
		}
	}

	if n <= l.limit {
		return true, 0, nil
	}

	ttl, err := l.client.redisdb.PTTL(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit ttl: %w", err)
	}

	// a key without expiry would block forever; re-arm it
	if ttl < 0 {
		_ = l.client.redisdb.PExpire(ctx, k, l.window).Err()
		ttl = l.window
	}

	return false, ttl, nil
}
