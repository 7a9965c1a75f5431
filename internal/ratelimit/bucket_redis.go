package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisBucketPrefix = "intelliparse:bucket:"

// takeScript refills and spends atomically inside Redis. Parameters of an
// existing bucket win over the ones passed in. Numbers are returned as
// strings because Redis truncates Lua floats to integers.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local cost = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill', 'capacity', 'refill_rate')
local tokens, last
if not state[1] then
  tokens = capacity
  last = now
  redis.call('HSET', key, 'tokens', tokens, 'last_refill', last, 'capacity', capacity, 'refill_rate', rate)
else
  tokens = tonumber(state[1])
  last = tonumber(state[2])
  capacity = tonumber(state[3])
  rate = tonumber(state[4])
end

local elapsed = now - last
if elapsed < 0 then elapsed = 0 end
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
  redis.call('HSET', key, 'tokens', tokens, 'last_refill', now)
end
if ttl > 0 then
  redis.call('EXPIRE', key, ttl)
end
return {allowed, tostring(tokens), tostring(capacity), tostring(rate)}
`)

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisBucketLimiter is the token-bucket strategy stored in Redis hashes.
type RedisBucketLimiter struct {
	client   redis.Scripter
	capacity float64
	rate     float64
	nowFn    func() time.Time
}

// NewRedisBucketLimiter creates a token-bucket limiter on client.
func NewRedisBucketLimiter(client redis.Scripter, capacity, refillRate float64) *RedisBucketLimiter {
	return &RedisBucketLimiter{client: client, capacity: capacity, rate: refillRate, nowFn: time.Now}
}

// Check runs the take script for identity.
func (l *RedisBucketLimiter) Check(ctx context.Context, identity string, cost float64) (Decision, error) {
	if err := validate(identity, cost); err != nil {
		return Decision{}, err
	}

	now := float64(l.nowFn().UnixMilli()) / 1000
	res, err := takeScript.Run(ctx, l.client, []string{redisBucketPrefix + identity},
		cost, l.capacity, l.rate, now, l.idleTTL()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to run bucket script: %w", err)
	}
	if len(res) != 4 {
		return Decision{}, fmt.Errorf("unexpected bucket script reply %v", res)
	}

	allowed, _ := res[0].(int64)
	nums := make([]float64, 3)
	for i := range nums {
		s, _ := res[i+1].(string)
		if nums[i], err = strconv.ParseFloat(s, 64); err != nil {
			return Decision{}, fmt.Errorf("unexpected bucket script reply %v", res)
		}
	}
	tokens, capacity, rate := nums[0], nums[1], nums[2]

	if allowed == 1 {
		return Decision{
			Allowed: true,
			Detail: Detail{BucketUsage: &BucketUsage{
				Capacity:         capacity,
				RefillRatePerSec: rate,
				TokensRemaining:  tokens,
			}},
		}, nil
	}
	return bucketDecision(tokens, capacity, rate, cost), nil
}

// idleTTL lets Redis drop buckets that have been full for a while. An
// expired bucket is recreated full, which is the state it would be in anyway.
func (l *RedisBucketLimiter) idleTTL() int {
	if l.rate <= 0 {
		return 0
	}
	return int(math.Ceil(l.capacity/l.rate)) + 60
}
