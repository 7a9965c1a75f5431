package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Watchlist WatchlistConfig `mapstructure:"watchlist"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Detectors DetectorsConfig `mapstructure:"detectors"`
	Limiter   LimiterConfig   `mapstructure:"limiter"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type QdrantConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Collection      string `mapstructure:"collection"`
	APIKey          string `mapstructure:"api_key"`
	UseTLS          bool   `mapstructure:"use_tls"`
	VectorDimension int    `mapstructure:"vector_dimension"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// JobsConfig selects the job record backend: "memory" or "sql".
type JobsConfig struct {
	Backend string `mapstructure:"backend"`
}

// WatchlistConfig selects the watchlist backend: "local" or "qdrant".
// The local backend persists to Path as JSON when Path is non-empty.
type WatchlistConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type PipelineConfig struct {
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
	SidecarSuffix string        `mapstructure:"sidecar_suffix"`
}

// DetectorsConfig selects "builtin" stand-in detectors or a "remote" detector service.
type DetectorsConfig struct {
	Mode    string        `mapstructure:"mode"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LimiterConfig selects the admission-control strategy ("window" or "bucket")
// and its backend ("memory", "sql" or, for buckets, "redis").
type LimiterConfig struct {
	Strategy    string  `mapstructure:"strategy"`
	Backend     string  `mapstructure:"backend"`
	PerMinute   int     `mapstructure:"per_minute"`
	PerDay      int     `mapstructure:"per_day"`
	Capacity    float64 `mapstructure:"capacity"`
	RefillRate  float64 `mapstructure:"refill_rate"`
	DefaultCost float64 `mapstructure:"default_cost"`
	VideoCost   float64 `mapstructure:"video_cost"`
}

type WebhookConfig struct {
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Variables inherited from earlier deployments and secrets
	v.BindEnv("webhook.secret", "IP_SECRET_KEY")
	v.BindEnv("storage.local_dir", "IP_STORAGE_DIR")
	v.BindEnv("database.path", "POWERAI_DB_PATH")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("redis.url", "REDIS_URL")
	v.BindEnv("detectors.api_key", "DETECTORS_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/powerai.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_dir", "data/uploads")
	v.SetDefault("storage.bucket", "intelliparse-uploads")

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "watchlist")
	v.SetDefault("qdrant.vector_dimension", 512)

	v.SetDefault("redis.url", "redis://localhost:6379/0")

	v.SetDefault("jobs.backend", "memory")
	v.SetDefault("watchlist.backend", "local")
	v.SetDefault("watchlist.path", "data/watchlist.json")

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 64)
	v.SetDefault("pipeline.job_timeout", 5*time.Minute)
	v.SetDefault("pipeline.sidecar_suffix", ".vector.json")

	v.SetDefault("detectors.mode", "builtin")
	v.SetDefault("detectors.timeout", 60*time.Second)

	v.SetDefault("limiter.strategy", "window")
	v.SetDefault("limiter.backend", "memory")
	v.SetDefault("limiter.per_minute", 60)
	v.SetDefault("limiter.per_day", 5000)
	v.SetDefault("limiter.capacity", 60)
	v.SetDefault("limiter.refill_rate", 1.0)
	v.SetDefault("limiter.default_cost", 1.0)
	v.SetDefault("limiter.video_cost", 1.0)

	v.SetDefault("webhook.secret", "dev_secret")
	v.SetDefault("webhook.timeout", 10*time.Second)
}

// Validate checks enumerated settings and numeric bounds.
func (c *Config) Validate() error {
	switch c.Jobs.Backend {
	case "memory", "sql":
	default:
		return fmt.Errorf("jobs.backend: unknown backend %q", c.Jobs.Backend)
	}
	switch c.Watchlist.Backend {
	case "local", "qdrant":
	default:
		return fmt.Errorf("watchlist.backend: unknown backend %q", c.Watchlist.Backend)
	}
	switch c.Detectors.Mode {
	case "builtin":
	case "remote":
		if c.Detectors.BaseURL == "" {
			return fmt.Errorf("detectors.base_url is required in remote mode")
		}
	default:
		return fmt.Errorf("detectors.mode: unknown mode %q", c.Detectors.Mode)
	}
	if err := c.Limiter.Validate(); err != nil {
		return err
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive")
	}
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("pipeline.queue_size must be positive")
	}
	return nil
}

// Validate checks the strategy/backend combination.
func (l *LimiterConfig) Validate() error {
	switch l.Strategy {
	case "window":
		switch l.Backend {
		case "memory", "sql":
		default:
			return fmt.Errorf("limiter: window strategy does not support backend %q", l.Backend)
		}
		if l.PerMinute <= 0 || l.PerDay <= 0 {
			return fmt.Errorf("limiter: per_minute and per_day must be positive")
		}
	case "bucket":
		switch l.Backend {
		case "memory", "sql", "redis":
		default:
			return fmt.Errorf("limiter: bucket strategy does not support backend %q", l.Backend)
		}
		if l.Capacity <= 0 {
			return fmt.Errorf("limiter: capacity must be positive")
		}
	default:
		return fmt.Errorf("limiter: unknown strategy %q", l.Strategy)
	}
	if l.DefaultCost <= 0 || l.VideoCost <= 0 {
		return fmt.Errorf("limiter: costs must be positive")
	}
	return nil
}

// NeedsDatabase reports whether any configured backend uses SQL.
func (c *Config) NeedsDatabase() bool {
	return c.Jobs.Backend == "sql" || c.Limiter.Backend == "sql"
}
