// Package retry is the single retry combinator used by every component that
// talks to an external system. Call sites compose a Policy with their own
// retryable-error predicate instead of writing sleep/loop logic inline.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/reelpipe/reelpipe/internal/faults"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total attempt budget including the first call.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; subsequent delays
	// double up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Retryable decides whether a failed attempt is worth repeating.
	// Nil means faults.Retryable.
	Retryable func(error) bool

	// Jitter adds 0-25% random spread to each delay to avoid thundering
	// herds. Disable for deterministic tests.
	Jitter bool
}

// DefaultPolicy matches the storage-upload behavior: 4 retries after the
// first attempt, 1s base, 30s cap, jittered.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// Delay returns the backoff before attempt n (1-based: Delay(1) is the wait
// after the first failure). Exponential with cap, optional jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d += d * 0.25 * rand.Float64()
	}
	return time.Duration(d)
}

// Do runs fn up to MaxAttempts times, sleeping with exponential backoff
// between attempts. A non-retryable error is returned immediately. When the
// budget is exhausted the last error is wrapped in faults.RetryExhaustedError.
func Do(ctx context.Context, p Policy, op string, fn func(context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = faults.Retryable
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s cancelled while backing off: %w", op, ctx.Err())
			case <-time.After(p.Delay(attempt - 1)):
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

	return &faults.RetryExhaustedError{Operation: op, Attempts: p.MaxAttempts, Err: lastErr}
}
