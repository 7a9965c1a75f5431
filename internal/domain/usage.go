package domain

import "time"

// UsageBucket is the persisted token-bucket state for one API key.
type UsageBucket struct {
	APIKey     string    `gorm:"type:text;primaryKey" json:"api_key"`
	Tokens     float64   `gorm:"not null" json:"tokens"`
	LastRefill time.Time `gorm:"not null" json:"last_refill"`
	Capacity   float64   `gorm:"not null" json:"capacity"`
	RefillRate float64   `gorm:"not null" json:"refill_rate"`
}

// TableName returns the database table name for UsageBucket.
func (UsageBucket) TableName() string {
	return "usage_buckets"
}

// UsageEvent is one admitted hit recorded by the SQL fixed-window limiter.
type UsageEvent struct {
	ID     uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	APIKey string `gorm:"type:text;not null;index:idx_usage_events_key_ts" json:"api_key"`
	TsMs   int64  `gorm:"not null;index:idx_usage_events_key_ts" json:"ts_ms"`
}

// TableName returns the database table name for UsageEvent.
func (UsageEvent) TableName() string {
	return "usage_events"
}

// UsageKey is a per-identity lock row serialising fixed-window transactions.
type UsageKey struct {
	APIKey string `gorm:"type:text;primaryKey"`
}

// TableName returns the database table name for UsageKey.
func (UsageKey) TableName() string {
	return "usage_keys"
}

// JobRecord persists a serialized Job for the SQL job store.
type JobRecord struct {
	ID        string    `gorm:"type:text;primaryKey"`
	Status    JobStatus `gorm:"type:text;index:idx_job_records_status"`
	Modality  Modality  `gorm:"type:text"`
	Payload   string    `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the database table name for JobRecord.
func (JobRecord) TableName() string {
	return "job_records"
}
