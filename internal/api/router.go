package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/timmy/intelliparse/internal/api/handler"
	"github.com/timmy/intelliparse/internal/api/middleware"
	"github.com/timmy/intelliparse/internal/domain"
	"github.com/timmy/intelliparse/internal/logger"
	"github.com/timmy/intelliparse/internal/ratelimit"
	"github.com/timmy/intelliparse/internal/repository"
)

// Costs prices requests in limiter units.
type Costs struct {
	Default float64
	Video   float64
}

// Dependencies are the components served by the API router.
type Dependencies struct {
	Jobs      handler.JobService
	Watchlist repository.WatchlistStore
	// Limiter guards every /v1 route; nil disables admission control.
	Limiter      ratelimit.Limiter
	Costs        Costs
	HealthChecks map[string]handler.HealthCheck
	CORS         middleware.CORSConfig
	Logger       *logger.Logger
}

func setMode(mode string) {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps *Dependencies, mode string) *gin.Engine {
	setMode(mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(deps.CORS))

	healthHandler := handler.NewHealthHandler(deps.HealthChecks)
	analyzeHandler := handler.NewAnalyzeHandler(deps.Jobs)
	watchlistHandler := handler.NewWatchlistHandler(deps.Watchlist)

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Colon-suffixed verbs ("images:analyze") are a single path segment, so
	// POST /v1/:action dispatches on the whole segment.
	actions := map[string]gin.HandlerFunc{
		"images:analyze":   analyzeHandler.Analyze(domain.ModalityImage),
		"audio:analyze":    analyzeHandler.Analyze(domain.ModalityAudio),
		"videos:analyze":   analyzeHandler.Analyze(domain.ModalityVideo),
		"watchlist:enroll": watchlistHandler.Enroll,
	}

	v1 := r.Group("/v1")
	if deps.Limiter != nil {
		v1.Use(middleware.RateLimit(deps.Limiter, requestCost(deps.Costs)))
	}
	{
		v1.POST("/:action", func(c *gin.Context) {
			h, ok := actions[c.Param("action")]
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
				return
			}
			h(c)
		})
		v1.GET("/jobs/:id", analyzeHandler.GetJob)
		v1.DELETE("/watchlist/:profile_id", watchlistHandler.Delete)
	}

	return r
}

// requestCost charges video submissions their configured weight and
// everything else the default.
func requestCost(costs Costs) middleware.CostFunc {
	return func(c *gin.Context) float64 {
		if c.Request.Method == http.MethodPost && c.Param("action") == "videos:analyze" && costs.Video > 0 {
			return costs.Video
		}
		if costs.Default > 0 {
			return costs.Default
		}
		return 1
	}
}

// SetupReceiverRouter configures the standalone webhook receiver.
func SetupReceiverRouter(secret string, log *logger.Logger, mode string) *gin.Engine {
	setMode(mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))

	healthHandler := handler.NewHealthHandler(nil)
	receiver := handler.NewWebhookReceiverHandler(secret)

	r.GET("/health", healthHandler.Health)
	r.POST("/webhooks/intelliparse", receiver.Receive)

	return r
}
