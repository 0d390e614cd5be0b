package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter keeps fixed-window counters in Redis so the budget holds
// across service instances. One INCR per request; the window TTL is set
// atomically with the first increment.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

// incrScript increments the window counter and sets its expiry only on
// first use, returning the count and remaining TTL in milliseconds.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	res, err := incrScript.Run(ctx, l.client,
		[]string{fmt.Sprintf("%s:%s", l.prefix, key)},
		l.window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	if len(res) != 2 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script reply length %d", len(res))
	}

	count, ttlMillis := res[0], res[1]
	retryAfter := time.Duration(ttlMillis) * time.Millisecond
	if ttlMillis < 0 {
		retryAfter = l.window
	}

	if count > int64(l.limit) {
		return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}

	return Result{
		Allowed:    true,
		Remaining:  l.limit - int(count),
		RetryAfter: retryAfter,
	}, nil
}
