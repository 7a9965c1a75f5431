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

// SQLWindowLimiter is the fixed-window strategy persisted in usage_events.
// Each check runs in one transaction that first locks the identity's
// usage_keys row, so concurrent checks for one caller are serialised.
type SQLWindowLimiter struct {
	db        *gorm.DB
	perMinute int
	perDay    int
	nowFn     func() time.Time
}

// NewSQLWindowLimiter creates a fixed-window limiter on db.
func NewSQLWindowLimiter(db *gorm.DB, perMinute, perDay int) *SQLWindowLimiter {
	return &SQLWindowLimiter{db: db, perMinute: perMinute, perDay: perDay, nowFn: time.Now}
}

// Check prunes, counts, decides, and records in a single transaction.
func (l *SQLWindowLimiter) Check(ctx context.Context, identity string, cost float64) (Decision, error) {
	if err := validate(identity, cost); err != nil {
		return Decision{}, err
	}
	n := hits(cost)

	var d Decision
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockIdentity(tx, identity); err != nil {
			return err
		}

		now := l.nowFn()
		nowMs := now.UnixMilli()
		minuteCutoff := now.Add(-minuteWindow).UnixMilli()
		dayCutoff := now.Add(-dayWindow).UnixMilli()

		if err := tx.Where("api_key = ? AND ts_ms < ?", identity, dayCutoff).
			Delete(&domain.UsageEvent{}).Error; err != nil {
			return fmt.Errorf("failed to prune usage events: %w", err)
		}

		var usedMinute, usedDay int64
		if err := tx.Model(&domain.UsageEvent{}).
			Where("api_key = ? AND ts_ms >= ?", identity, minuteCutoff).
			Count(&usedMinute).Error; err != nil {
			return fmt.Errorf("failed to count usage events: %w", err)
		}
		if err := tx.Model(&domain.UsageEvent{}).
			Where("api_key = ? AND ts_ms >= ?", identity, dayCutoff).
			Count(&usedDay).Error; err != nil {
			return fmt.Errorf("failed to count usage events: %w", err)
		}

		d = windowDecision(l.perMinute, l.perDay, int(usedMinute), int(usedDay), n)
		if !d.Allowed {
			return nil
		}

		events := make([]domain.UsageEvent, n)
		for i := range events {
			events[i] = domain.UsageEvent{APIKey: identity, TsMs: nowMs}
		}
		if err := tx.Create(&events).Error; err != nil {
			return fmt.Errorf("failed to record usage event: %w", err)
		}
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

// lockIdentity ensures the usage_keys row exists and takes a row lock on it
// where the database supports one. SQLite serialises through its single
// connection instead.
func lockIdentity(tx *gorm.DB, identity string) error {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.UsageKey{APIKey: identity}).Error; err != nil {
		return fmt.Errorf("failed to create usage key: %w", err)
	}
	q := tx
	if repository.IsPostgres(tx) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var key domain.UsageKey
	if err := q.Where("api_key = ?", identity).First(&key).Error; err != nil {
		return fmt.Errorf("failed to lock usage key: %w", err)
	}
	return nil
}
