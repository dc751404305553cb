// File: internal/notify/notifier.go
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/buttonwatcher/wbw/api/schemas"
	"github.com/buttonwatcher/wbw/internal/config"
)

// RetryNotifier wraps another notifier with a per-minute rate limit and
// a small immediate-retry budget. A message that still fails after the
// budget is dropped; delivery problems never propagate as fatal.
type RetryNotifier struct {
	inner      schemas.Notifier
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
	logger     *zap.Logger
}

// NewRetryNotifier applies the notify configuration's retry and rate
// settings on top of inner.
func NewRetryNotifier(inner schemas.Notifier, cfg config.NotifyConfig, logger *zap.Logger) *RetryNotifier {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 20
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &RetryNotifier{
		inner:      inner,
		limiter:    rate.NewLimiter(rate.Limit(perMinute/60.0), 1),
		maxRetries: cfg.MaxRetries,
		retryDelay: 500 * time.Millisecond,
		timeout:    timeout,
		logger:     logger.Named("notify"),
	}
}

// Notify delivers the message, waiting for a rate-limit token first.
// Each attempt gets its own timeout.
func (r *RetryNotifier) Notify(ctx context.Context, message string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			r.logger.Warn("Retrying notification",
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.retryDelay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		lastErr = r.inner.Notify(attemptCtx, message)
		cancel()
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("notification dropped after %d attempts: %w", r.maxRetries+1, lastErr)
}
