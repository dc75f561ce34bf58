package meetup

import (
	"context"
	"sync"
	"time"
)

// RateLimiter admits at most limit calls in any trailing window. Callers over
// quota block in Wait until the oldest admission leaves the window.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  []time.Time // admission instants, oldest first

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 5000
	}
	if window <= 0 {
		window = time.Hour
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		calls:  make([]time.Time, 0, limit),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Wait blocks until a call is admitted and returns how long it waited.
// The only error is ctx ending first.
func (r *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	var waited time.Duration
	for {
		r.mu.Lock()
		now := r.now()
		r.evict(now)
		if len(r.calls) < r.limit {
			r.calls = append(r.calls, now)
			r.mu.Unlock()
			return waited, nil
		}
		d := r.calls[0].Add(r.window).Sub(now)
		r.mu.Unlock()

		if err := r.sleep(ctx, d); err != nil {
			return waited, err
		}
		waited += d
	}
}

// Remaining reports how many calls would be admitted right now without waiting.
func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evict(r.now())
	return r.limit - len(r.calls)
}

func (r *RateLimiter) evict(now time.Time) {
	i := 0
	for i < len(r.calls) && !r.calls[i].Add(r.window).After(now) {
		i++
	}
	if i > 0 {
		r.calls = append(r.calls[:0], r.calls[i:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
