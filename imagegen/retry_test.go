package imagegen

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_SucceedsAfterRetryableFailures(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond)
	calls := 0
	attempts, err := policy.Run(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return RetryableError("p", "timeout", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Errorf("expected 3 attempts, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestRetryPolicy_FatalAbortsImmediately(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond)
	attempts, err := policy.Run(context.Background(), func(ctx context.Context, attempt int) error {
		return StatusError("p", 401, "bad key", 0)
	})
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
	if !errors.Is(err, ErrFatalProvider) {
		t.Errorf("expected fatal error, got %v", err)
	}
}

func TestRetryPolicy_Exhaustion(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond)
	var retries []int
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		retries = append(retries, attempt)
	}
	attempts, err := policy.Run(context.Background(), func(ctx context.Context, attempt int) error {
		return StatusError("p", 503, "unavailable", 0)
	})
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if Classify(err) != KindRetryable {
		t.Errorf("expected last retryable error, got %v", err)
	}
	if len(retries) != 2 {
		t.Errorf("expected 2 retry callbacks, got %v", retries)
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy := NewRetryPolicy(5, 100*time.Millisecond)

	tests := []struct {
		attempt int
		err     error
		want    time.Duration
	}{
		{0, nil, 100 * time.Millisecond},
		{1, nil, 200 * time.Millisecond},
		{2, nil, 400 * time.Millisecond},
		{0, StatusError("p", 429, "", 3*time.Second), 3 * time.Second},
		{2, StatusError("p", 429, "", 10*time.Millisecond), 400 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := policy.Delay(tt.attempt, tt.err); got != tt.want {
			t.Errorf("Delay(%d, %v): expected %s, got %s", tt.attempt, tt.err, tt.want, got)
		}
	}

	policy.MaxDelay = 150 * time.Millisecond
	if got := policy.Delay(3, nil); got != 150*time.Millisecond {
		t.Errorf("expected capped delay 150ms, got %s", got)
	}
}

func TestRetryPolicy_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := NewRetryPolicy(3, time.Hour)
	policy.OnRetry = func(int, time.Duration, error) { cancel() }

	start := time.Now()
	attempts, err := policy.Run(ctx, func(ctx context.Context, attempt int) error {
		return RetryableError("p", "flaky", nil)
	})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
	if time.Since(start) > time.Second {
		t.Errorf("backoff sleep was not interrupted")
	}
}

func TestRetryPolicy_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	attempts, err := NewRetryPolicy(3, time.Millisecond).Run(ctx, func(ctx context.Context, attempt int) error {
		called = true
		return nil
	})
	if called {
		t.Error("expected no attempt on a cancelled context")
	}
	if attempts != 0 || !errors.Is(err, context.Canceled) {
		t.Errorf("expected 0 attempts and context.Canceled, got %d, %v", attempts, err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"plain error", errors.New("connection reset"), KindRetryable},
		{"401", StatusError("p", 401, "", 0), KindFatal},
		{"400", StatusError("p", 400, "", 0), KindFatal},
		{"404", StatusError("p", 404, "", 0), KindFatal},
		{"408", StatusError("p", 408, "", 0), KindRetryable},
		{"429", StatusError("p", 429, "", 0), KindRetryable},
		{"502", StatusError("p", 502, "", 0), KindRetryable},
		{"not configured", ErrProviderNotConfigured, KindFatal},
		{"context canceled", context.Canceled, KindCancelled},
		{"deadline", context.DeadlineExceeded, KindRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
