package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter caps requests per minute with a token bucket.
type rateLimiter struct {
	limiter *rate.Limiter
}

// newRateLimiter creates a limiter allowing requestsPerMinute, bursting up to the same amount.
func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute),
	}
}

// wait blocks until a token is available or the context is done.
func (rl *rateLimiter) wait(ctx context.Context) error {
	if err := rl.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter canceled: %w", err)
	}
	return nil
}
