// Package retry runs an operation with exponential backoff and jitter.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Do executes fn until it succeeds, returns an error retryable rejects, or
// MaxAttempts is reached. A nil retryable retries every error.
func Do(ctx context.Context, cfg Config, logger *slog.Logger, retryable func(error) bool, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return err
		}

		if logger != nil {
			logger.Warn("attempt failed",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", cfg.MaxAttempts),
				slog.String("error", err.Error()),
			)
		}

		// Don't wait after the last attempt
		if attempt < cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(withJitter(delay)):
			}

			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", cfg.MaxAttempts, lastErr)
}

// withJitter adds up to a quarter of d to spread concurrent retries.
func withJitter(d time.Duration) time.Duration {
	if d/4 <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d/4)))
}
