package ledger

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds the conflict retry loop of the write protocol.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first. Values below 1 mean 1.
	Attempts int

	// BaseDelay is the wait before the second attempt; it doubles after each conflict.
	BaseDelay time.Duration

	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  5,
		BaseDelay: 10 * time.Millisecond,
		MaxDelay:  500 * time.Millisecond,
	}
}

// Delay returns the wait before the given attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, fails with a non-conflict error, or the
// attempts run out. fn receives the 0-based attempt number.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if wait := p.Delay(attempt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = fn(attempt)
		if err == nil || !IsConflict(err) {
			return err
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}
