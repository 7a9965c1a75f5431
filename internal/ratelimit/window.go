package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowEvents struct {
	minute []time.Time
	day    []time.Time
}

// WindowLimiter is the in-memory fixed-window strategy. Per identity it keeps
// the timestamps of admitted hits in the last minute and the last day.
type WindowLimiter struct {
	perMinute int
	perDay    int

	mu     sync.Mutex
	events map[string]*windowEvents
	nowFn  func() time.Time
}

// NewWindowLimiter creates an in-memory fixed-window limiter.
func NewWindowLimiter(perMinute, perDay int) *WindowLimiter {
	return &WindowLimiter{
		perMinute: perMinute,
		perDay:    perDay,
		events:    make(map[string]*windowEvents),
		nowFn:     time.Now,
	}
}

// Check prunes expired hits, decides, and records the hit under one lock.
func (l *WindowLimiter) Check(ctx context.Context, identity string, cost float64) (Decision, error) {
	if err := validate(identity, cost); err != nil {
		return Decision{}, err
	}
	n := hits(cost)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	ev := l.events[identity]
	if ev == nil {
		ev = &windowEvents{}
		l.events[identity] = ev
	}
	ev.minute = prune(ev.minute, now.Add(-minuteWindow))
	ev.day = prune(ev.day, now.Add(-dayWindow))

	d := windowDecision(l.perMinute, l.perDay, len(ev.minute), len(ev.day), n)
	if d.Allowed {
		for i := 0; i < n; i++ {
			ev.minute = append(ev.minute, now)
			ev.day = append(ev.day, now)
		}
	}
	if len(ev.day) == 0 {
		delete(l.events, identity)
	}
	return d, nil
}

// prune drops timestamps before cutoff. ts is in ascending order.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
