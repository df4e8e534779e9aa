// Package reliability classifies upstream failures and paces retries of model calls.
package reliability

import (
	"context"
	"errors"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableStatus classifies retryable gRPC-style status names reported by model APIs.
func IsRetryableStatus(status string) bool {
	switch status {
	case "RESOURCE_EXHAUSTED", "UNAVAILABLE", "DEADLINE_EXCEEDED", "INTERNAL":
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
	Retryable   func(error) bool
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts MaxAttempts,
// or ctx ends. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := time.NewTimer(ExponentialBackoff(attempt-1, p.Base, p.Cap))
			select {
			case <-ctx.Done():
				wait.Stop()
				return errors.Join(err, ctx.Err())
			case <-wait.C:
			}
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}
