// Package ratelimit implements per-caller admission control. Two strategies
// share the Limiter contract: fixed minute/day windows and a token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/timmy/intelliparse/internal/domain"
)

const (
	minuteWindow = 60 * time.Second
	dayWindow    = 24 * time.Hour

	// retryAfterNoRefill is reported by buckets that never refill.
	retryAfterNoRefill = 60
)

// Limiter decides whether a caller may spend cost units now.
// Check and record happen as one atomic step per identity.
type Limiter interface {
	Check(ctx context.Context, identity string, cost float64) (Decision, error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	Detail  Detail
}

// WindowUsage describes fixed-window limits and usage after the decision.
type WindowUsage struct {
	PerMinute  int `json:"per_minute"`
	PerDay     int `json:"per_day"`
	UsedMinute int `json:"used_minute"`
	UsedDay    int `json:"used_day"`
}

// BucketUsage describes token-bucket parameters and the remaining budget.
type BucketUsage struct {
	Capacity         float64 `json:"capacity"`
	RefillRatePerSec float64 `json:"refill_rate_per_sec"`
	TokensRemaining  float64 `json:"tokens_remaining"`
}

// Detail is the response metadata. Exactly one of the embedded usage blocks
// is set, and its fields are flattened into the JSON object.
type Detail struct {
	*WindowUsage
	*BucketUsage
	RetryAfterSeconds int `json:"retry_after_seconds"`
}

// Limit returns the request ceiling and how much of it remains, for the
// X-RateLimit-* headers.
func (d Detail) Limit() (limit, remaining float64) {
	switch {
	case d.WindowUsage != nil:
		limit = float64(d.PerMinute)
		remaining = float64(d.PerMinute - d.UsedMinute)
		if dayLeft := float64(d.PerDay - d.UsedDay); dayLeft < remaining {
			remaining = dayLeft
		}
	case d.BucketUsage != nil:
		limit = d.Capacity
		remaining = math.Floor(d.TokensRemaining)
	}
	if remaining < 0 {
		remaining = 0
	}
	return limit, remaining
}

func validate(identity string, cost float64) error {
	if strings.TrimSpace(identity) == "" {
		return domain.ErrInvalidIdentity
	}
	if cost <= 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidCost, cost)
	}
	return nil
}

// hits converts a cost into the number of window events it consumes.
func hits(cost float64) int {
	return int(math.Ceil(cost))
}

// windowDecision applies the fixed-window admission rule to counts taken
// after pruning.
func windowDecision(perMinute, perDay, usedMinute, usedDay, n int) Decision {
	allowed := usedMinute+n <= perMinute && usedDay+n <= perDay

	retry := 0
	if allowed {
		usedMinute += n
		usedDay += n
	} else if usedMinute+n > perMinute {
		retry = int(minuteWindow / time.Second)
	} else {
		retry = 1
	}

	return Decision{
		Allowed: allowed,
		Detail: Detail{
			WindowUsage: &WindowUsage{
				PerMinute:  perMinute,
				PerDay:     perDay,
				UsedMinute: usedMinute,
				UsedDay:    usedDay,
			},
			RetryAfterSeconds: retry,
		},
	}
}
