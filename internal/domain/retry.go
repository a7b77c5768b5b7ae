package domain

import (
	"context"
	"time"
)

// RetryPolicy is an explicit retry description applied at exchange call sites.
// Only errors reported retriable by IsRetriable are retried.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Backoff      float64
}

// DefaultRetryPolicy is 3 attempts, 1s initial delay, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, Backoff: 2}
}

// Delay returns the wait before the given retry (1-based: the wait before
// the second attempt is Delay(1)).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}
	d := float64(p.InitialDelay)
	for i := 1; i < retry; i++ {
		d *= p.Backoff
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, returns a non-retriable error, or attempts
// are exhausted. It returns the last error and the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-time.After(p.Delay(i)):
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return i + 1, nil
		}
		if !IsRetriable(lastErr) {
			return i + 1, lastErr
		}
	}
	return attempts, lastErr
}
