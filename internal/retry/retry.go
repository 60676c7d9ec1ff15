// Package retry runs transient-failure-prone operations with backoff.
// Errors marked operational are never retried.
package retry

import (
	"context"
	"time"

	"github.com/chainpulse/console/internal/apperr"
)

// Config controls attempt count and backoff shape.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff. Zero means no cap.
	MaxDelay time.Duration
	// Exponential selects base*2^(n-1) backoff; otherwise the delay is fixed.
	Exponential bool
}

// DefaultConfig retries three times with exponential backoff from 100ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Exponential: true,
	}
}

// Do invokes op until it succeeds, the attempts are exhausted, or the error
// is operational. On exhaustion the last error is returned to the caller.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(Backoff(cfg, attempt)):
			}
		}

		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		if apperr.IsOperational(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}

// Backoff returns the delay preceding the given attempt (attempt >= 2).
func Backoff(cfg Config, attempt int) time.Duration {
	delay := cfg.BaseDelay
	if cfg.Exponential {
		for i := 2; i < attempt; i++ {
			delay *= 2
		}
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}
