package internal

import (
	"context"
	"errors"
	"time"

	"k8s.io/utils/clock"
)

// permanentError stops a retry loop at once.
type permanentError struct {
	err error
}

func (e permanentError) Error() string {
	return e.err.Error()
}

func (e permanentError) Unwrap() error {
	return e.err
}

// Permanent marks err as not worth another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// backoff returns the pause after the given failed attempt: 100ms, 200ms, 400ms, 800ms, ...
func backoff(attempt int) time.Duration {
	return time.Duration(100*(1<<attempt)) * time.Millisecond
}

// Retry calls fn up to attempts times, pausing with exponential backoff on clk between failures.
// It returns ctx.Err() if ctx is cancelled during a pause, the last error otherwise. An error
// wrapped with Permanent is returned unwrapped without further attempts.
func Retry(ctx context.Context, clk clock.Clock, attempts int, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		var permanent permanentError
		if errors.As(err, &permanent) {
			return permanent.err
		}

		if i < attempts-1 {
			if err := Pause(ctx, clk, backoff(i)); err != nil {
				return err
			}
		}
	}
	return err
}

// RetryResult is Retry for functions returning a value.
func RetryResult[T any](ctx context.Context, clk clock.Clock, attempts int, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Retry(ctx, clk, attempts, func(ctx context.Context) (err error) {
		result, err = fn(ctx)
		return
	})
	return result, err
}
