package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// bucketState is the persisted budget of one caller.
type bucketState struct {
	Tokens     float64
	Capacity   float64
	RefillRate float64 // tokens per second
	LastRefill time.Time
}

func newBucketState(capacity, rate float64, now time.Time) bucketState {
	return bucketState{Tokens: capacity, Capacity: capacity, RefillRate: rate, LastRefill: now}
}

// refilled returns the budget at now. Time going backwards adds nothing.
func (b bucketState) refilled(now time.Time) float64 {
	elapsed := now.Sub(b.LastRefill).Seconds()
	return refillTokens(b.Tokens, b.Capacity, b.RefillRate, elapsed)
}

func refillTokens(tokens, capacity, rate, elapsedSec float64) float64 {
	if elapsedSec < 0 {
		elapsedSec = 0
	}
	return math.Min(capacity, tokens+elapsedSec*rate)
}

// take spends cost from the bucket. On admission the returned state must be
// written back; on denial the stored state is left untouched.
func (b bucketState) take(cost float64, now time.Time) (bucketState, Decision) {
	available := b.refilled(now)
	d := bucketDecision(available, b.Capacity, b.RefillRate, cost)
	if d.Allowed {
		b.Tokens = available - cost
		b.LastRefill = now
	}
	return b, d
}

func bucketDecision(available, capacity, rate, cost float64) Decision {
	if available >= cost {
		return Decision{
			Allowed: true,
			Detail: Detail{BucketUsage: &BucketUsage{
				Capacity:         capacity,
				RefillRatePerSec: rate,
				TokensRemaining:  available - cost,
			}},
		}
	}
	return Decision{
		Detail: Detail{
			BucketUsage: &BucketUsage{
				Capacity:         capacity,
				RefillRatePerSec: rate,
				TokensRemaining:  available,
			},
			RetryAfterSeconds: retryAfter(cost-available, rate),
		},
	}
}

// retryAfter is the whole number of seconds until deficit tokens refill.
func retryAfter(deficit, rate float64) int {
	if rate <= 0 {
		return retryAfterNoRefill
	}
	secs := int(math.Ceil(deficit / rate))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// BucketLimiter is the in-memory token-bucket strategy.
type BucketLimiter struct {
	capacity float64
	rate     float64

	mu      sync.Mutex
	buckets map[string]bucketState
	nowFn   func() time.Time
}

// NewBucketLimiter creates an in-memory token-bucket limiter. New callers
// start with a full bucket; existing buckets keep their own parameters.
func NewBucketLimiter(capacity, refillRate float64) *BucketLimiter {
	return &BucketLimiter{
		capacity: capacity,
		rate:     refillRate,
		buckets:  make(map[string]bucketState),
		nowFn:    time.Now,
	}
}

// Check refills, decides, and spends under one lock.
func (l *BucketLimiter) Check(ctx context.Context, identity string, cost float64) (Decision, error) {
	if err := validate(identity, cost); err != nil {
		return Decision{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	b, ok := l.buckets[identity]
	if !ok {
		b = newBucketState(l.capacity, l.rate, now)
	}
	next, d := b.take(cost, now)
	if d.Allowed || !ok {
		l.buckets[identity] = next
	}
	return d, nil
}
