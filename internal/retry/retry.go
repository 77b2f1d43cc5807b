package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/baechuer/real-time-ressys/services/push-service/internal/logger"
)

// Config holds retry parameters for one wrapped operation.
type Config struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// Do executes fn with exponential backoff. The first attempt runs
// immediately; each subsequent attempt waits the current delay with a uniform
// ±10% jitter, then the delay is multiplied and clamped to MaxDelay. The
// final error is returned after MaxAttempts. Every failure is retried at this
// layer; retryability policy belongs to callers.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Logger.Debug().
					Int("attempt", attempt).
					Int("max_attempts", cfg.MaxAttempts).
					Msg("retry succeeded")
			}
			return nil
		}

		if attempt >= cfg.MaxAttempts {
			logger.Logger.Debug().
				Int("attempts", cfg.MaxAttempts).
				Err(lastErr).
				Msg("retry attempts exhausted")
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Jitter(delay)):
		}

		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

// Jitter spreads d by a uniform factor in [0.9, 1.1].
func Jitter(d time.Duration) time.Duration {
	f := 1 + (rand.Float64()*0.2 - 0.1)
	return time.Duration(float64(d) * f)
}
