package ratelimit

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/intelliparse/internal/config"
)

func bucketLimiters(t *testing.T, capacity, rate float64, clock *fakeClock) map[string]Limiter {
	mem := NewBucketLimiter(capacity, rate)
	mem.nowFn = clock.Now
	sql := NewSQLBucketLimiter(newTestDB(t), capacity, rate)
	sql.nowFn = clock.Now
	limiters := map[string]Limiter{"memory": mem, "sql": sql}

	if url := os.Getenv("REDIS_URL"); url != "" && !testing.Short() {
		client, err := Connect(context.Background(), url)
		require.NoError(t, err)
		t.Cleanup(func() { client.Close() })
		r := NewRedisBucketLimiter(client, capacity, rate)
		r.nowFn = clock.Now
		limiters["redis"] = r
	}
	return limiters
}

func uniqueKey(t *testing.T, name string) string {
	return "test:" + t.Name() + ":" + name + ":" + time.Now().Format(time.RFC3339Nano)
}

func TestRefillTokens(t *testing.T) {
	assert.Equal(t, 10.0, refillTokens(8, 10, 1, 5))
	assert.Equal(t, 4.5, refillTokens(4, 10, 0.25, 2))
	assert.Equal(t, 4.0, refillTokens(4, 10, 1, -30), "negative elapsed adds nothing")

	// Applying the same interval twice from the same base is idempotent.
	a := refillTokens(1, 10, 0.5, 3)
	b := refillTokens(1, 10, 0.5, 3)
	assert.Equal(t, a, b)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 1, retryAfter(1, 1))
	assert.Equal(t, 4, retryAfter(1, 0.3))
	assert.Equal(t, 3, retryAfter(2.5, 1))
	assert.Equal(t, 1, retryAfter(0.0001, 1))
	assert.Equal(t, 60, retryAfter(5, 0))
	assert.Equal(t, 60, retryAfter(5, -1))
}

func TestBucket_FullBucketAdmitsAnyCostUpToCapacity(t *testing.T) {
	clock := newFakeClock()
	for name, l := range bucketLimiters(t, 10, 1, clock) {
		for _, cost := range []float64{0.5, 1, 7, 10} {
			key := fmt.Sprintf("%s:%v", uniqueKey(t, name), cost)
			d, err := l.Check(context.Background(), key, cost)
			require.NoError(t, err)
			assert.True(t, d.Allowed, "%s cost %v", name, cost)
			assert.InDelta(t, 10-cost, d.Detail.TokensRemaining, 1e-9)
			assert.Equal(t, 0, d.Detail.RetryAfterSeconds)
		}
	}
}

func TestBucket_DepleteThenWaitRetryAfter(t *testing.T) {
	clock := newFakeClock()
	for name, l := range bucketLimiters(t, 3, 0.5, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := uniqueKey(t, name)

			for i := 0; i < 3; i++ {
				d, err := l.Check(ctx, key, 1)
				require.NoError(t, err)
				require.True(t, d.Allowed)
			}

			d, err := l.Check(ctx, key, 1)
			require.NoError(t, err)
			require.False(t, d.Allowed)
			assert.Equal(t, 2, d.Detail.RetryAfterSeconds)
			assert.Equal(t, 3.0, d.Detail.Capacity)
			assert.Equal(t, 0.5, d.Detail.RefillRatePerSec)

			clock.Advance(time.Duration(d.Detail.RetryAfterSeconds) * time.Second)

			d, err = l.Check(ctx, key, 1)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.InDelta(t, 0, d.Detail.TokensRemaining, 1e-9)
		})
	}
}

func TestBucket_DenialDoesNotSpend(t *testing.T) {
	clock := newFakeClock()
	for name, l := range bucketLimiters(t, 2, 1, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := uniqueKey(t, name)

			d, err := l.Check(ctx, key, 2)
			require.NoError(t, err)
			require.True(t, d.Allowed)

			clock.Advance(500 * time.Millisecond)
			d, err = l.Check(ctx, key, 1)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.InDelta(t, 0.5, d.Detail.TokensRemaining, 1e-6)

			clock.Advance(500 * time.Millisecond)
			d, err = l.Check(ctx, key, 1)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		})
	}
}

func TestBucket_NeverExceedsCapacity(t *testing.T) {
	clock := newFakeClock()
	for name, l := range bucketLimiters(t, 5, 10, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := uniqueKey(t, name)

			_, err := l.Check(ctx, key, 1)
			require.NoError(t, err)
			clock.Advance(time.Hour)

			d, err := l.Check(ctx, key, 1)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.InDelta(t, 4, d.Detail.TokensRemaining, 1e-9)
		})
	}
}

func TestBucket_ZeroRefillFallsBackToSixtySeconds(t *testing.T) {
	clock := newFakeClock()
	l := NewBucketLimiter(1, 0)
	l.nowFn = clock.Now

	d, err := l.Check(context.Background(), "k", 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.Check(context.Background(), "k", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 60, d.Detail.RetryAfterSeconds)
}

func TestSQLBucket_ParametersAreSticky(t *testing.T) {
	clock := newFakeClock()
	db := newTestDB(t)
	ctx := context.Background()

	first := NewSQLBucketLimiter(db, 2, 1)
	first.nowFn = clock.Now
	d, err := first.Check(ctx, "sticky", 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	second := NewSQLBucketLimiter(db, 100, 50)
	second.nowFn = clock.Now
	d, err = second.Check(ctx, "sticky", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2.0, d.Detail.Capacity)
	assert.Equal(t, 1.0, d.Detail.RefillRatePerSec)

	d, err = second.Check(ctx, "sticky", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestBucket_ConcurrentChecksNeverOverspend(t *testing.T) {
	clock := newFakeClock()
	for name, l := range bucketLimiters(t, 15, 0, clock) {
		t.Run(name, func(t *testing.T) {
			key := uniqueKey(t, name)
			var admitted int64
			var wg sync.WaitGroup
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d, err := l.Check(context.Background(), key, 1)
					if assert.NoError(t, err) && d.Allowed {
						atomic.AddInt64(&admitted, 1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int64(15), admitted)
		})
	}
}

func TestNew(t *testing.T) {
	base := config.LimiterConfig{
		PerMinute: 60, PerDay: 5000, Capacity: 60, RefillRate: 1,
		DefaultCost: 1, VideoCost: 1,
	}
	db := newTestDB(t)

	cases := []struct {
		strategy, backend string
		want              interface{}
	}{
		{"window", "memory", &WindowLimiter{}},
		{"window", "sql", &SQLWindowLimiter{}},
		{"bucket", "memory", &BucketLimiter{}},
		{"bucket", "sql", &SQLBucketLimiter{}},
	}
	for _, tc := range cases {
		cfg := base
		cfg.Strategy, cfg.Backend = tc.strategy, tc.backend
		l, err := New(cfg, Backends{DB: db})
		require.NoError(t, err, "%s/%s", tc.strategy, tc.backend)
		assert.IsType(t, tc.want, l)
	}

	cfg := base
	cfg.Strategy, cfg.Backend = "bucket", "redis"
	_, err := New(cfg, Backends{})
	assert.Error(t, err)

	cfg.Strategy, cfg.Backend = "window", "redis"
	_, err = New(cfg, Backends{})
	assert.Error(t, err)

	cfg.Strategy, cfg.Backend = "window", "sql"
	_, err = New(cfg, Backends{})
	assert.Error(t, err)
}
