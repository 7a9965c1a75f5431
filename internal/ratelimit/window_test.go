package ratelimit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/intelliparse/internal/domain"
)

func windowLimiters(t *testing.T, perMinute, perDay int, clock *fakeClock) map[string]Limiter {
	mem := NewWindowLimiter(perMinute, perDay)
	mem.nowFn = clock.Now
	sql := NewSQLWindowLimiter(newTestDB(t), perMinute, perDay)
	sql.nowFn = clock.Now
	return map[string]Limiter{"memory": mem, "sql": sql}
}

func TestWindow_MinuteLimitAndReset(t *testing.T) {
	clock := newFakeClock()
	for name, l := range windowLimiters(t, 3, 100, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "key-" + name

			for i := 1; i <= 3; i++ {
				d, err := l.Check(ctx, key, 1)
				require.NoError(t, err)
				assert.True(t, d.Allowed, "request %d", i)
				assert.Equal(t, 0, d.Detail.RetryAfterSeconds)
				assert.Equal(t, i, d.Detail.UsedMinute)
			}

			d, err := l.Check(ctx, key, 1)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, 60, d.Detail.RetryAfterSeconds)
			assert.Equal(t, 3, d.Detail.UsedMinute)

			clock.Advance(61 * time.Second)

			d, err = l.Check(ctx, key, 1)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, 1, d.Detail.UsedMinute)
			assert.Equal(t, 4, d.Detail.UsedDay)
		})
	}
}

func TestWindow_EntryExactlySixtySecondsOldStillCounts(t *testing.T) {
	clock := newFakeClock()
	l := NewWindowLimiter(1, 100)
	l.nowFn = clock.Now
	ctx := context.Background()

	d, err := l.Check(ctx, "k", 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	clock.Advance(60 * time.Second)
	d, err = l.Check(ctx, "k", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	clock.Advance(time.Second)
	d, err = l.Check(ctx, "k", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestWindow_DayLimitRetriesAfterOneSecond(t *testing.T) {
	clock := newFakeClock()
	for name, l := range windowLimiters(t, 10, 2, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 2; i++ {
				d, err := l.Check(ctx, "day-"+name, 1)
				require.NoError(t, err)
				require.True(t, d.Allowed)
				clock.Advance(2 * time.Minute)
			}
			d, err := l.Check(ctx, "day-"+name, 1)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, 1, d.Detail.RetryAfterSeconds)
			assert.Equal(t, 0, d.Detail.UsedMinute)
			assert.Equal(t, 2, d.Detail.UsedDay)
		})
	}
}

func TestWindow_CostCountsAsHits(t *testing.T) {
	clock := newFakeClock()
	for name, l := range windowLimiters(t, 5, 100, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d, err := l.Check(ctx, "cost-"+name, 3)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, 3, d.Detail.UsedMinute)

			d, err = l.Check(ctx, "cost-"+name, 3)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, 60, d.Detail.RetryAfterSeconds)

			d, err = l.Check(ctx, "cost-"+name, 2)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		})
	}
}

func TestWindow_IdentitiesAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := NewWindowLimiter(1, 10)
	l.nowFn = clock.Now
	ctx := context.Background()

	d, _ := l.Check(ctx, "a", 1)
	assert.True(t, d.Allowed)
	d, _ = l.Check(ctx, "a", 1)
	assert.False(t, d.Allowed)
	d, _ = l.Check(ctx, "b", 1)
	assert.True(t, d.Allowed)
}

func TestWindow_ConcurrentChecksNeverExceedLimit(t *testing.T) {
	clock := newFakeClock()
	for name, l := range windowLimiters(t, 20, 1000, clock) {
		t.Run(name, func(t *testing.T) {
			var admitted int64
			var wg sync.WaitGroup
			for i := 0; i < 60; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d, err := l.Check(context.Background(), "burst-"+name, 1)
					if assert.NoError(t, err) && d.Allowed {
						atomic.AddInt64(&admitted, 1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int64(20), admitted)
		})
	}
}

func TestWindow_InvalidInput(t *testing.T) {
	l := NewWindowLimiter(1, 1)
	_, err := l.Check(context.Background(), " ", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)
	_, err = l.Check(context.Background(), "k", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidCost)
	_, err = l.Check(context.Background(), "k", -2)
	assert.ErrorIs(t, err, domain.ErrInvalidCost)
}

func TestDetail_JSONIsFlat(t *testing.T) {
	d := windowDecision(60, 5000, 60, 100, 1)
	data, err := json.Marshal(d.Detail)
	require.NoError(t, err)
	assert.JSONEq(t, `{"per_minute":60,"per_day":5000,"used_minute":60,"used_day":100,"retry_after_seconds":60}`, string(data))

	b := bucketDecision(0.5, 10, 2, 1)
	data, err = json.Marshal(b.Detail)
	require.NoError(t, err)
	assert.JSONEq(t, `{"capacity":10,"refill_rate_per_sec":2,"tokens_remaining":0.5,"retry_after_seconds":1}`, string(data))
}

func TestDetail_Limit(t *testing.T) {
	limit, remaining := windowDecision(60, 5000, 10, 4990, 1).Detail.Limit()
	assert.Equal(t, 60.0, limit)
	assert.Equal(t, 9.0, remaining)

	limit, remaining = bucketDecision(7.6, 10, 1, 1).Detail.Limit()
	assert.Equal(t, 10.0, limit)
	assert.Equal(t, 6.0, remaining)
}
