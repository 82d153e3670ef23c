package db

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// RetryPolicy bounds retries of shared.ErrResourceBusy failures.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy is used by jobs and CLI imports.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, Base: 50 * time.Millisecond, Max: 2 * time.Second}

// Retry runs fn until it succeeds, returns a non retryable error, or the
// attempts are exhausted. Waits grow exponentially with jitter. When ctx ends
// while waiting, the last failure of fn is returned.
func Retry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var last error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		last = fn(ctx)
		if last != nil && !shared.IsRetryable(last) {
			return struct{}{}, backoff.Permanent(last)
		}
		return struct{}{}, last
	},
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		return nil
	}
	if last != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && !errors.Is(last, err) {
		return last
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.Multiplier = 2
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	return b
}
