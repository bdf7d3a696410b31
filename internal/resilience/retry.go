// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resilience

import (
	"context"
	"time"

	"github.com/mkoval/passage-engine/pkg/types"
)

// RetryPolicy is a reusable retry abstraction: attempt count, exponential
// backoff bounds, and a retryable-error predicate. The flow engine applies
// one policy uniformly around every stage's exec; HTTP clients use it for
// transient failures.
type RetryPolicy struct {
	// MaxAttempts is the total attempt count, first try included.
	MaxAttempts int

	// BaseDelay is the backoff before the second attempt; it doubles each
	// attempt after that.
	BaseDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth another attempt. Nil
	// uses types.IsRetryable.
	Retryable func(error) bool

	// Metrics, when set, counts re-attempts.
	Metrics *Metrics
}

/// DefaultRetryPolicy returns the standard policy for external calls:
// three attempts, exponential backoff from 1s capped at 60s, retrying
// only transient and timeout errors.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Retryable:   types.IsRetryable,
	}
}

// Do runs fn until it succeeds, exhausts the attempts, or fails with a
// non-retryable error. The last error is returned on exhaustion. A context
// cancellation during backoff returns ctx.Err().
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = types.IsRetryable
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff(attempt)):
			}
			if p.Metrics != nil {
				p.Metrics.IncRetries()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// backoff returns the delay before the given attempt (1-based for delays).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 60 * time.Second
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
