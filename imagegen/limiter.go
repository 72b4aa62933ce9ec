package imagegen

import (
	"context"
	"time"
)

// RateLimiter enforces a minimum interval between the starts of consecutive
// provider dispatches across every job of an Orchestrator run.
//
// Waiters queue on a one-slot channel so that only one caller performs the
// check-and-set at a time, and a cancelled waiter leaves the queue at once.
type RateLimiter struct {
	interval time.Duration
	turn     chan struct{}
	last     time.Time // guarded by turn
	now      func() time.Time
}

// NewRateLimiter creates a limiter with the given minimum interval.
// A non-positive interval disables waiting but still records dispatch starts.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{
		interval: interval,
		turn:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Wait blocks until at least the interval has passed since the previous
// dispatch start, then records now as the new start.
func (l *RateLimiter) Wait(ctx context.Context) error {
	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return cancelled(ctx)
	}
	defer func() { <-l.turn }()

	if !l.last.IsZero() && l.interval > 0 {
		if wait := l.interval - l.now().Sub(l.last); wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	if ctx.Err() != nil {
		return cancelled(ctx)
	}

	l.last = l.now()
	return nil
}

// Interval returns the configured minimum spacing.
func (l *RateLimiter) Interval() time.Duration {
	return l.interval
}
