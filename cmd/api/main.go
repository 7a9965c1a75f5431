package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/timmy/intelliparse/internal/api"
	"github.com/timmy/intelliparse/internal/api/handler"
	"github.com/timmy/intelliparse/internal/api/middleware"
	"github.com/timmy/intelliparse/internal/config"
	"github.com/timmy/intelliparse/internal/logger"
	"github.com/timmy/intelliparse/internal/ratelimit"
	"github.com/timmy/intelliparse/internal/repository"
	"github.com/timmy/intelliparse/internal/service"
	"github.com/timmy/intelliparse/internal/storage"
	"gorm.io/gorm"
)

const shutdownTimeout = 30 * time.Second

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// CONFIG_PATH selects the config file in deployed environments.
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx := context.Background()
	healthChecks := map[string]handler.HealthCheck{}

	var db *gorm.DB
	if cfg.NeedsDatabase() {
		db, err = repository.InitDB(&cfg.Database)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize database")
		}
		sqlDB, err := db.DB()
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to access database pool")
		}
		defer sqlDB.Close()
		healthChecks["database"] = sqlDB.PingContext
	}

	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}
	if ensurer, ok := objectStorage.(storage.BucketEnsurer); ok {
		if err := ensurer.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
	}

	var jobs repository.JobStore
	switch cfg.Jobs.Backend {
	case "sql":
		jobs = repository.NewGormJobStore(db)
	default:
		jobs = repository.NewMemoryJobStore()
	}

	var watchlist repository.WatchlistStore
	switch cfg.Watchlist.Backend {
	case "qdrant":
		qdrantWatchlist, err := repository.NewQdrantWatchlist(&repository.QdrantConnectionConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			Collection:      cfg.Qdrant.Collection,
			APIKey:          cfg.Qdrant.APIKey,
			UseTLS:          cfg.Qdrant.UseTLS,
			VectorDimension: cfg.Qdrant.VectorDimension,
		})
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize Qdrant watchlist")
		}
		defer qdrantWatchlist.Close()
		if err := qdrantWatchlist.EnsureCollection(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure Qdrant collection")
		}
		watchlist = qdrantWatchlist
	default:
		localWatchlist, err := repository.NewLocalWatchlist(cfg.Watchlist.Path)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to load watchlist")
		}
		watchlist = localWatchlist
	}

	var detectors service.Detectors
	switch cfg.Detectors.Mode {
	case "remote":
		client := service.NewRemoteDetectorClient(&service.RemoteDetectorConfig{
			BaseURL: cfg.Detectors.BaseURL,
			APIKey:  cfg.Detectors.APIKey,
			Timeout: cfg.Detectors.Timeout,
		})
		detectors = client.Detectors(ctx)
	default:
		detectors = service.NewBuiltinDetectors()
	}

	var redisClient *redis.Client
	if cfg.Limiter.Backend == "redis" {
		redisClient, err = ratelimit.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisClient.Close()
		healthChecks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	limiter, err := ratelimit.New(cfg.Limiter, ratelimit.Backends{DB: db, Redis: redisClient})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize rate limiter")
	}

	notifier := service.NewWebhookNotifier(&service.WebhookConfig{
		Secret:  cfg.Webhook.Secret,
		Timeout: cfg.Webhook.Timeout,
	})

	pipeline := service.NewPipeline(
		jobs,
		objectStorage,
		service.NewIdentityMatcher(watchlist),
		detectors,
		notifier,
		appLogger,
		&service.PipelineConfig{
			Workers:       cfg.Pipeline.Workers,
			QueueSize:     cfg.Pipeline.QueueSize,
			JobTimeout:    cfg.Pipeline.JobTimeout,
			SidecarSuffix: cfg.Pipeline.SidecarSuffix,
		},
	)
	pipeline.Start()

	router := api.SetupRouter(&api.Dependencies{
		Jobs:      pipeline,
		Watchlist: watchlist,
		Limiter:   limiter,
		Costs: api.Costs{
			Default: cfg.Limiter.DefaultCost,
			Video:   cfg.Limiter.VideoCost,
		},
		HealthChecks: healthChecks,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
		Logger: appLogger,
	}, cfg.Server.Mode)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":      cfg.Server.Port,
			"mode":      cfg.Server.Mode,
			"limiter":   cfg.Limiter.Strategy + "/" + cfg.Limiter.Backend,
			"jobs":      cfg.Jobs.Backend,
			"watchlist": cfg.Watchlist.Backend,
			"detectors": cfg.Detectors.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop intake first, then let queued jobs drain.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Warn("Pipeline did not drain before the deadline")
	}

	appLogger.Info("Server exited")
}
