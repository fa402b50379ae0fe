package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBurstThenExhaustion(t *testing.T) {
	l := New(Config{
		RequestsPerSecond: 100,
		BurstSize:         3,
		WaitTimeout:       time.Second,
	})

	// The bucket starts full, so the whole burst goes through.
	for i := 0; i < 3; i++ {
		assert.True(t, l.TryAllow(), "burst request %d", i)
	}
	assert.False(t, l.TryAllow(), "bucket is empty after the burst")
}

func TestTokensRefillOverTime(t *testing.T) {
	l := New(Config{
		RequestsPerSecond: 1000,
		BurstSize:         1,
		WaitTimeout:       time.Second,
	})

	require.True(t, l.TryAllow())
	require.False(t, l.TryAllow())

	time.Sleep(5 * time.Millisecond)
	assert.True(t, l.TryAllow(), "1000 tokens/s refills one within 5ms")
}

func TestMinIntervalSpacesRequests(t *testing.T) {
	l := New(Config{
		RequestsPerSecond: 1000,
		BurstSize:         10,
		MinInterval:       50 * time.Millisecond,
		WaitTimeout:       time.Second,
	})

	require.True(t, l.TryAllow())
	assert.False(t, l.TryAllow(), "tokens remain but the spacing floor blocks")

	time.Sleep(60 * time.Millisecond)
	assert.True(t, l.TryAllow())
}

func TestAllowBlocksUntilToken(t *testing.T) {
	l := New(Config{
		RequestsPerSecond: 100,
		BurstSize:         1,
		WaitTimeout:       time.Second,
	})

	require.True(t, l.TryAllow())

	start := time.Now()
	err := l.Allow(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond,
		"the second request waited for a refill")
}

func TestAllowFailsFastWhenWaitExceedsTimeout(t *testing.T) {
	l := New(Config{
		RequestsPerSecond: 0.1, // 10s per token
		BurstSize:         1,
		WaitTimeout:       50 * time.Millisecond,
	})

	require.True(t, l.TryAllow())

	start := time.Now()
	err := l.Allow(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLimitExceeded))
	assert.Less(t, time.Since(start), time.Second,
		"a hopeless wait is refused immediately, not slept through")

	var limitErr *LimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Greater(t, limitErr.RetryAfter, time.Duration(0))
}

func TestAllowHonorsContextCancellation(t *testing.T) {
	l := New(Config{
		RequestsPerSecond: 1,
		BurstSize:         1,
		WaitTimeout:       10 * time.Second,
	})
	require.True(t, l.TryAllow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Allow(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecordThrottleEmptiesBucket(t *testing.T) {
	l := New(Config{
		RequestsPerSecond: 1000,
		BurstSize:         10,
		WaitTimeout:       time.Second,
	})

	l.RecordThrottle(time.Minute)

	assert.False(t, l.TryAllow(), "a vendor 429 empties the bucket")
	status := l.Status()
	assert.Equal(t, 0.0, status.AvailableTokens,
		"Retry-After backdates the refill clock so tokens stay at zero")
}

func TestStatusSnapshot(t *testing.T) {
	l := New(Config{
		RequestsPerSecond: 10,
		BurstSize:         5,
		WaitTimeout:       time.Second,
	})
	require.True(t, l.TryAllow())

	status := l.Status()
	assert.Equal(t, 5.0, status.MaxTokens)
	assert.Equal(t, 10.0, status.RefillRate)
	assert.Less(t, status.AvailableTokens, 5.0)
}
