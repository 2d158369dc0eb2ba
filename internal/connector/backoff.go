// Package connector holds the cross-cutting behaviour shared by every ledger
// adapter: bounded exponential reconnect, call deadlines, error
// classification and structured logging. Adapters live in sub-packages and
// are wrapped with Wrap before they reach the registry.
package connector

import (
	"context"
	"math"
	"time"
)

// Backoff is a bounded exponential retry policy.
type Backoff struct {
	Attempts   int
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration // zero means uncapped
}

// DefaultBackoff is 3 attempts starting at 1s and doubling.
func DefaultBackoff() Backoff {
	return Backoff{Attempts: 3, BaseDelay: time.Second, Multiplier: 2}
}

// Delay returns the wait after the given failed attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := time.Duration(float64(b.BaseDelay) * math.Pow(mult, float64(attempt-1)))
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls fn until it succeeds or the attempts are used up, waiting
// Delay(n) between failures. It returns the last error.
func (b Backoff) Retry(ctx context.Context, sleep SleepFunc, fn func(ctx context.Context, attempt int) error) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	if sleep == nil {
		sleep = Sleep
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if serr := sleep(ctx, b.Delay(attempt)); serr != nil {
			return err
		}
	}
	return err
}
