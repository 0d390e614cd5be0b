package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowCounter struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is an in-process fixed-window limiter for single-instance
// deployments and tests. Counters reset when their window elapses.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	counters map[string]*windowCounter
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		counters: make(map[string]*windowCounter),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.counters[key]
	if !ok || now.After(c.resetAt) {
		c = &windowCounter{resetAt: now.Add(l.window)}
		l.counters[key] = c
	}

	c.count++
	retryAfter := c.resetAt.Sub(now)

	if c.count > l.limit {
		return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}

	return Result{
		Allowed:    true,
		Remaining:  l.limit - c.count,
		RetryAfter: retryAfter,
	}, nil
}
