package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	t.Run("burst up to the per-minute budget", func(t *testing.T) {
		rl := newRateLimiter(10)
		ctx := context.Background()

		for i := 0; i < 10; i++ {
			require.NoError(t, rl.wait(ctx))
		}
	})

	t.Run("exhausted bucket respects the deadline", func(t *testing.T) {
		rl := newRateLimiter(1)
		require.NoError(t, rl.wait(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := rl.wait(ctx)
		require.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("zero means default", func(t *testing.T) {
		rl := newRateLimiter(0)
		assert.Equal(t, 60, rl.limiter.Burst())
	})
}
