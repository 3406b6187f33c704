package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
)

// RetryConfig tunes the exponential-backoff retry loop.
type RetryConfig struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
	// RetryIf decides whether a failure is worth another attempt.
	// Defaults to IsRetryable.
	RetryIf func(error) bool
}

// DefaultRetryConfig matches the provider-call defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2,
		Jitter:        true,
	}
}

// Delay returns the pre-jitter backoff delay before the attempt-th retry
// (attempt is 1-based): min(MaxDelay, BaseDelay * BackoffFactor^(attempt-1)).
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(attempt-1))
	if max := float64(c.MaxDelay); d > max {
		d = max
	}
	return time.Duration(d)
}

// Retry runs fn up to cfg.MaxAttempts times, sleeping with exponential
// backoff (and optional ±25% jitter) between attempts. Non-retryable errors
// are returned immediately. The sleep honors ctx cancellation.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = IsRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryIf(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.Delay(attempt)
		if cfg.Jitter {
			delay += time.Duration((rand.Float64()*0.5 - 0.25) * float64(delay))
			if delay < 0 {
				delay = 0
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return errors.Wrapf(lastErr, "after %d attempts", cfg.MaxAttempts)
}
