package imagegen

import (
	"context"
	"time"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMultiplier  = 2.0
)

// RetryPolicy runs a single provider call with bounded exponential backoff.
//
// Before retry k (k counted from 0) it sleeps BaseDelay * Multiplier^k, or the
// provider's retry-after hint when that is longer. Fatal errors abort at once,
// cancellation interrupts the sleep.
//
// The zero value is usable and applies the defaults above.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64

	// MaxDelay caps the computed backoff (not the provider hint). Zero means no cap.
	MaxDelay time.Duration

	// Classify overrides the package Classify function.
	Classify func(error) ErrorKind

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// NewRetryPolicy returns a policy with the given attempt budget and base delay.
func NewRetryPolicy(maxAttempts int, baseDelay time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p RetryPolicy) classify(err error) ErrorKind {
	if p.Classify != nil {
		return p.Classify(err)
	}
	return Classify(err)
}

// Delay returns the sleep before retry number attempt (0-based) after err.
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	mult := p.Multiplier
	if mult <= 1 {
		mult = DefaultMultiplier
	}

	delay := float64(base)
	for i := 0; i < attempt; i++ {
		delay *= mult
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			break
		}
	}
	d := time.Duration(delay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}

	if hint := RetryAfterHint(err); hint > d {
		return hint
	}
	return d
}

// Run calls fn until it succeeds, fails fatally, is cancelled or the attempt
// budget is spent. It returns the number of attempts made and fn's last error
// (or an ErrCancelled error).
//
// fn receives the 0-based attempt number.
func (p RetryPolicy) Run(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.maxAttempts()

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return attempt, cancelled(ctx)
		}

		err := fn(ctx, attempt)
		if err == nil {
			return attempt + 1, nil
		}

		switch p.classify(err) {
		case KindFatal:
			return attempt + 1, err
		case KindCancelled:
			if ctx.Err() != nil {
				return attempt + 1, cancelled(ctx)
			}
			return attempt + 1, err
		}

		if attempt+1 >= maxAttempts {
			return maxAttempts, err
		}

		delay := p.Delay(attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return attempt + 1, err
		}
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return cancelled(ctx)
	case <-timer.C:
		return nil
	}
}
