package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Per-job errors surfaced in JobResult.Err. Use errors.Is to test for them.
var (
	// ErrProviderNotConfigured means the requested provider is unknown or has no credentials.
	ErrProviderNotConfigured = errors.New("imagegen: provider not configured")

	// ErrAllProvidersExhausted means every candidate provider failed.
	ErrAllProvidersExhausted = errors.New("imagegen: all providers exhausted")

	// ErrFatalProvider marks a failure that retrying cannot fix.
	ErrFatalProvider = errors.New("imagegen: fatal provider error")

	// ErrCancelled means the job was stopped by context cancellation.
	ErrCancelled = errors.New("imagegen: cancelled")
)

// Programmer errors returned by Submit and Fingerprint.
var (
	ErrInvalidBatch     = errors.New("imagegen: invalid batch")
	ErrUnsupportedParam = errors.New("imagegen: unsupported param value")
)

// ErrorKind classifies a provider failure for the retry loop.
type ErrorKind int

const (
	// KindRetryable covers timeouts, connection resets, 5xx and 429.
	KindRetryable ErrorKind = iota
	// KindFatal covers authentication, malformed requests and unknown providers.
	KindFatal
	// KindCancelled is produced only by context cancellation.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ProviderError is returned by provider adapters. Kind drives retry decisions
// and RetryAfter carries a server-supplied hint, if any.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString("imagegen: ")
	b.WriteString(e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is makes fatal provider errors match ErrFatalProvider.
func (e *ProviderError) Is(target error) bool {
	return target == ErrFatalProvider && e.Kind == KindFatal
}

// FatalError builds a non-retryable provider error.
func FatalError(provider, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindFatal, Message: message, Err: err}
}

// RetryableError builds a transient provider error.
func RetryableError(provider, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindRetryable, Message: message, Err: err}
}

// StatusError builds a provider error from an HTTP status code.
func StatusError(provider string, status int, message string, retryAfter time.Duration) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Kind:       ClassifyStatus(status),
		StatusCode: status,
		RetryAfter: retryAfter,
		Message:    message,
	}
}

// ClassifyStatus maps an HTTP status to an ErrorKind.
// 408, 425, 429 and 5xx are retryable; every other non-2xx status is fatal.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		return KindRetryable
	default:
		return KindFatal
	}
}

// Classify decides how the retry loop treats err.
//
// ProviderError carries its own kind. Cancellation is never retried.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindRetryable
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, ErrFatalProvider) || errors.Is(err, ErrProviderNotConfigured) {
		return KindFatal
	}
	// Timeouts, connection resets, unexpected EOFs and unclassified adapter
	// errors are all transient.
	return KindRetryable
}

// RetryAfterHint extracts a provider-supplied retry delay from err.
func RetryAfterHint(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// AttemptError wraps a provider's terminal failure with the provider name and
// the number of attempts made.
type AttemptError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("imagegen: provider %s failed after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// ExhaustedError lists each candidate provider's terminal failure.
type ExhaustedError struct {
	Failures []*AttemptError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%d attempt(s)): %v", f.Provider, f.Attempts, f.Err))
	}
	return "imagegen: all providers exhausted: " + strings.Join(parts, "; ")
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// cancelled wraps the context's error so callers can match both ErrCancelled
// and context.Canceled / context.DeadlineExceeded.
func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return ErrCancelled
}
