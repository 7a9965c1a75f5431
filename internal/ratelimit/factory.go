package ratelimit

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/timmy/intelliparse/internal/config"
	"gorm.io/gorm"
)

// Backends carries the shared clients a limiter may be built on.
type Backends struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// New builds the limiter selected by cfg.
func New(cfg config.LimiterConfig, b Backends) (Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Strategy {
	case "window":
		switch cfg.Backend {
		case "memory":
			return NewWindowLimiter(cfg.PerMinute, cfg.PerDay), nil
		case "sql":
			if b.DB == nil {
				return nil, fmt.Errorf("limiter: sql backend requires a database")
			}
			return NewSQLWindowLimiter(b.DB, cfg.PerMinute, cfg.PerDay), nil
		}
	case "bucket":
		switch cfg.Backend {
		case "memory":
			return NewBucketLimiter(cfg.Capacity, cfg.RefillRate), nil
		case "sql":
			if b.DB == nil {
				return nil, fmt.Errorf("limiter: sql backend requires a database")
			}
			return NewSQLBucketLimiter(b.DB, cfg.Capacity, cfg.RefillRate), nil
		case "redis":
			if b.Redis == nil {
				return nil, fmt.Errorf("limiter: redis backend requires a redis client")
			}
			return NewRedisBucketLimiter(b.Redis, cfg.Capacity, cfg.RefillRate), nil
		}
	}
	return nil, fmt.Errorf("limiter: unsupported strategy %q with backend %q", cfg.Strategy, cfg.Backend)
}
