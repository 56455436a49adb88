package errors

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryPolicy decides how a store backend call is repeated after a
// transient failure. The delay before attempt n (n >= 1) is
// Base * 2^(n-1), capped at Cap and spread by ±Jitter.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
	Jitter   float64

	// Retryable overrides IsRetryable.
	Retryable func(error) bool
}

// LocalRetry suits in-process and file backends, where a locked SQLite
// database frees up within milliseconds.
var LocalRetry = RetryPolicy{
	Attempts: 5,
	Base:     10 * time.Millisecond,
	Cap:      500 * time.Millisecond,
	Jitter:   0.1,
}

// NetworkRetry suits Postgres and Redis.
var NetworkRetry = RetryPolicy{
	Attempts: 4,
	Base:     100 * time.Millisecond,
	Cap:      5 * time.Second,
	Jitter:   0.2,
}

// NoRetry makes a single attempt.
var NoRetry = RetryPolicy{Attempts: 1}

// ExhaustedError is returned when every attempt failed with a retryable
// error. It is itself transient, so a caller higher up may try again.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsRetryable(err)
}

// delay returns the pause before attempt n.
func (p RetryPolicy) delay(n int) time.Duration {
	d := p.Base << (n - 1)
	if d <= 0 || (p.Cap > 0 && d > p.Cap) {
		d = p.Cap
	}
	if p.Jitter > 0 {
		d += time.Duration(float64(d) * p.Jitter * (rand.Float64()*2 - 1))
	}
	return d
}

// Do calls fn until it succeeds, fails with an error that is not
// retryable, or runs out of attempts, and reports how many calls were
// made. Errors that are not retried come back unwrapped.
func Do[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, int, error) {
	var zero T
	attempts := max(p.Attempts, 1)

	for n := 0; ; n++ {
		if n > 0 {
			select {
			case <-ctx.Done():
				return zero, n, Permanent(ctx.Err(), "cancelled during backoff")
			case <-time.After(p.delay(n)):
			}
		} else if err := ctx.Err(); err != nil {
			return zero, 0, Permanent(err, "cancelled")
		}

		v, err := fn(ctx)
		switch {
		case err == nil:
			return v, n + 1, nil
		case !p.retryable(err):
			return zero, n + 1, err
		case n+1 == attempts:
			return zero, attempts, Transient(&ExhaustedError{Attempts: attempts, Err: err}, "")
		}
	}
}

// Retry is Do without a context or a result.
func Retry(p RetryPolicy, fn func() error) error {
	_, _, err := Do(context.Background(), p, func(context.Context) (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
