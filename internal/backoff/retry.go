package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAttemptsExhausted is returned when every attempt failed with a
// retryable error.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Result holds the outcome of Retry.
type Result[T any] struct {
	Value T
	// Attempts is the number of calls made (1-indexed).
	Attempts int
	// LastError is the last error seen, if any.
	LastError error
}

// Retries returns the number of calls beyond the first.
func (r Result[T]) Retries() int {
	if r.Attempts <= 1 {
		return 0
	}
	return r.Attempts - 1
}

// Options tune Retry.
type Options struct {
	// Retryable decides whether an error is worth another attempt. Nil
	// retries everything.
	Retryable func(error) bool

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)

	// Sleep replaces the context-aware sleep; tests use it to skip waits.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Retry calls fn up to maxAttempts times, waiting per policy between
// retryable failures. A non-retryable error is returned as is. Exhaustion
// returns an error wrapping both ErrAttemptsExhausted and the last failure.
func Retry[T any](ctx context.Context, policy Policy, maxAttempts int, opts Options, fn func(ctx context.Context, attempt int) (T, error)) (Result[T], error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var res Result[T]
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		if err := ctx.Err(); err != nil {
			return res, err
		}

		value, err := fn(ctx, attempt)
		if err == nil {
			res.Value = value
			res.LastError = nil
			return res, nil
		}
		res.LastError = err

		if opts.Retryable != nil && !opts.Retryable(err) {
			return res, err
		}
		if attempt == maxAttempts {
			break
		}

		wait := policy.Delay(attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return res, err
		}
	}
	return res, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, res.Attempts, res.LastError)
}
