package upstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitQuick reports whether a token is available within a few milliseconds.
func waitQuick(rl *RateLimiter) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	return rl.Wait(ctx) == nil
}

func TestNewRateLimiter(t *testing.T) {
	t.Run("allows burst then blocks", func(t *testing.T) {
		rl := NewRateLimiter(5, 5)

		for i := 0; i < 5; i++ {
			assert.True(t, waitQuick(rl), "should allow request %d within burst", i+1)
		}
		assert.False(t, waitQuick(rl))
	})

	t.Run("non-positive burst becomes one", func(t *testing.T) {
		rl := NewRateLimiter(1, 0)
		assert.True(t, waitQuick(rl))
		assert.False(t, waitQuick(rl))
	})
}

func TestRateLimiter_Wait(t *testing.T) {
	t.Run("waits for token after burst exhausted", func(t *testing.T) {
		rl := NewRateLimiter(20, 1)
		ctx := context.Background()

		require.NoError(t, rl.Wait(ctx))
		start := time.Now()
		require.NoError(t, rl.Wait(ctx))

		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		rl := NewRateLimiter(0.1, 1)
		require.NoError(t, rl.Wait(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.Error(t, rl.Wait(ctx))
	})
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 5)
	require.Nil(t, rl)

	for i := 0; i < 10; i++ {
		assert.True(t, waitQuick(rl))
	}
}
