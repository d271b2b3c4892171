// Package retry provides exponential backoff for upstream API calls.
// Only failures classified as transient by apperr.IsRetryable are retried.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/atelier-ai/atelier/internal/apperr"
)

// Config holds the backoff policy.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultConfig returns sensible retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

// backoff returns the delay before the given retry, doubling per attempt,
// capped at MaxDelay, with up to 50% jitter shaved off when enabled.
func (c Config) backoff(attempt int) time.Duration {
	d := c.BaseDelay << attempt
	if d > c.MaxDelay || d <= 0 {
		d = c.MaxDelay
	}
	if c.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
	}
	return d
}

// Do runs fn, retrying transient failures up to cfg.MaxAttempts total
// attempts. Permanent failures and context cancellation return immediately.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	attempt := 0
	for {
		err := fn(ctx)
		if err == nil || !apperr.IsRetryable(err) {
			return err
		}
		attempt++
		if attempt >= cfg.MaxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.backoff(attempt - 1)):
		}
	}
}
