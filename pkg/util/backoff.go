package util

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Backoff retries an operation with exponentially growing delays, capped at
// MaxDelay. It is used when dialing the node at startup.
type Backoff struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     *zap.Logger
}

// NewBackoff creates a new Backoff instance
func NewBackoff(maxRetries int, baseDelay time.Duration) *Backoff {
	return &Backoff{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		MaxDelay:   30 * time.Second,
		Logger:     zap.NewNop(),
	}
}

// Delay returns the wait before retry number attempt (0-based)
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt > 30 {
		return b.MaxDelay
	}
	d := b.BaseDelay << attempt
	if d <= 0 || d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}

// Retry runs op until it succeeds, MaxRetries retries are spent or ctx ends.
// The last error is wrapped in the returned error.
func (b *Backoff) Retry(ctx context.Context, op func(context.Context) error) error {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var err error
	for attempt := 0; ; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt >= b.MaxRetries {
			return fmt.Errorf("gave up after %d retries: %w", b.MaxRetries, err)
		}

		wait := b.Delay(attempt)
		logger.Warn("operation failed, backing off",
			zap.Error(err),
			zap.Int("retry", attempt+1),
			zap.Int("max_retries", b.MaxRetries),
			zap.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
	}
}
