package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/fitcheck/internal/service"
)

// ErrMaxRetries indicates that all retry attempts have been exhausted.
var ErrMaxRetries = errors.New("max retries exceeded")

// RetryableError marks an error as retryable or permanent regardless of its class.
// A positive After asks WithRetry to wait at least that long before the next attempt,
// as when a provider answers with Retry-After.
type RetryableError struct {
	Err       error
	After     time.Duration
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func withRetryDefaults(opts service.RetryOptions) service.RetryOptions {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2.0
	}
	return opts
}

// WithRetry runs operation until it succeeds, returns an error IsRetryable
// rejects, or opts.MaxAttempts is reached. Delays grow by opts.Multiplier
// up to opts.MaxDelay.
func WithRetry(ctx context.Context, operation func() error, opts service.RetryOptions) error {
	opts = withRetryDefaults(opts)
	delay := opts.InitialDelay

	for attempt := 1; ; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt >= opts.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, opts.MaxAttempts, err)
		}

		wait := delay
		var retryable *RetryableError
		if errors.As(err, &retryable) && retryable.After > wait {
			wait = min(retryable.After, opts.MaxDelay)
		}

		slog.Warn("operation failed, retrying",
			"attempt", attempt,
			"max_attempts", opts.MaxAttempts,
			"delay", wait,
			"error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = min(time.Duration(float64(delay)*opts.Multiplier), opts.MaxDelay)
	}
}
