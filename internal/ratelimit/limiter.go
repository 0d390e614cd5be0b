// Package ratelimit guards the attacker-facing payment endpoints with a
// fixed-window request budget keyed by caller or IP. Counters live behind
// the Limiter interface so they can be shared across instances.
package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a single budget check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter checks and consumes one unit of a caller's request budget.
// Implementations must be safe for concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}
