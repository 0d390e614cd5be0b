package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryLimiter_Allow(t *testing.T) {
	t.Run("allows up to the limit", func(t *testing.T) {
		l := NewMemoryLimiter(3, time.Minute)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			res, err := l.Allow(ctx, "1.2.3.4")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.Allowed {
				t.Fatalf("request %d should be allowed", i+1)
			}
			if res.Remaining != 2-i {
				t.Errorf("request %d: expected remaining %d, got %d", i+1, 2-i, res.Remaining)
			}
		}

		res, err := l.Allow(ctx, "1.2.3.4")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Allowed {
			t.Error("request over the limit should be denied")
		}
		if res.RetryAfter <= 0 {
			t.Error("denied result should carry a positive retry-after")
		}
	})

	t.Run("keys are independent", func(t *testing.T) {
		l := NewMemoryLimiter(1, time.Minute)
		ctx := context.Background()

		if res, _ := l.Allow(ctx, "a"); !res.Allowed {
			t.Error("first request for key a should be allowed")
		}
		if res, _ := l.Allow(ctx, "b"); !res.Allowed {
			t.Error("first request for key b should be allowed")
		}
		if res, _ := l.Allow(ctx, "a"); res.Allowed {
			t.Error("second request for key a should be denied")
		}
	})

	t.Run("window reset restores the budget", func(t *testing.T) {
		l := NewMemoryLimiter(1, time.Minute)
		current := time.Now()
		l.now = func() time.Time { return current }
		ctx := context.Background()

		if res, _ := l.Allow(ctx, "a"); !res.Allowed {
			t.Fatal("first request should be allowed")
		}
		if res, _ := l.Allow(ctx, "a"); res.Allowed {
			t.Fatal("second request should be denied")
		}

		current = current.Add(time.Minute + time.Second)
		if res, _ := l.Allow(ctx, "a"); !res.Allowed {
			t.Error("request after window reset should be allowed")
		}
	})

	t.Run("safe under concurrent increments", func(t *testing.T) {
		l := NewMemoryLimiter(50, time.Minute)
		ctx := context.Background()

		var wg sync.WaitGroup
		var mu sync.Mutex
		allowed := 0

		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := l.Allow(ctx, "burst")
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if res.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if allowed != 50 {
			t.Errorf("expected exactly 50 allowed, got %d", allowed)
		}
	})
}
