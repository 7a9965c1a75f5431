package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/intelliparse/internal/domain"
	"github.com/timmy/intelliparse/internal/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLBucketLimiter is the token-bucket strategy persisted in usage_buckets.
type SQLBucketLimiter struct {
	db       *gorm.DB
	capacity float64
	rate     float64
	nowFn    func() time.Time
}

// NewSQLBucketLimiter creates a token-bucket limiter on db.
func NewSQLBucketLimiter(db *gorm.DB, capacity, refillRate float64) *SQLBucketLimiter {
	return &SQLBucketLimiter{db: db, capacity: capacity, rate: refillRate, nowFn: time.Now}
}

// Check performs one locked read-modify-write of the caller's bucket row.
func (l *SQLBucketLimiter) Check(ctx context.Context, identity string, cost float64) (Decision, error) {
	if err := validate(identity, cost); err != nil {
		return Decision{}, err
	}

	var d Decision
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := l.nowFn().UTC()

		initial := newBucketState(l.capacity, l.rate, now)
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.UsageBucket{
			APIKey:     identity,
			Tokens:     initial.Tokens,
			LastRefill: initial.LastRefill,
			Capacity:   initial.Capacity,
			RefillRate: initial.RefillRate,
		}).Error; err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}

		q := tx
		if repository.IsPostgres(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var row domain.UsageBucket
		if err := q.Where("api_key = ?", identity).First(&row).Error; err != nil {
			return fmt.Errorf("failed to load bucket: %w", err)
		}

		state := bucketState{
			Tokens:     row.Tokens,
			Capacity:   row.Capacity,
			RefillRate: row.RefillRate,
			LastRefill: row.LastRefill,
		}
		var next bucketState
		next, d = state.take(cost, now)
		if !d.Allowed {
			return nil
		}

		if err := tx.Model(&domain.UsageBucket{}).
			Where("api_key = ?", identity).
			Updates(map[string]interface{}{
				"tokens":      next.Tokens,
				"last_refill": next.LastRefill,
			}).Error; err != nil {
			return fmt.Errorf("failed to update bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}
