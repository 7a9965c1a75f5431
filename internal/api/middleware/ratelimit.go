package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/intelliparse/internal/logger"
	"github.com/timmy/intelliparse/internal/metrics"
	"github.com/timmy/intelliparse/internal/ratelimit"
)

const apiKeyHeader = "X-API-Key"

// CostFunc prices one request in limiter units.
type CostFunc func(c *gin.Context) float64

// CallerIdentity names the budget a request is charged to: the X-API-Key
// header, else a bearer token, else the client address.
func CallerIdentity(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(apiKeyHeader)); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		if token := strings.TrimSpace(auth[7:]); token != "" {
			return token
		}
	}
	return "ip:" + c.ClientIP()
}

// RateLimit admits or rejects each request before its handler runs.
// Admitted and denied responses both carry X-RateLimit-Limit and
// X-RateLimit-Remaining; denials answer 429 with a Retry-After header.
func RateLimit(limiter ratelimit.Limiter, cost CostFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		identity := CallerIdentity(c)

		decision, err := limiter.Check(ctx, identity, cost(c))
		if err != nil {
			metrics.IncRateLimit("error")
			logger.FromContext(ctx).WithError(err).Error("Rate limiter unavailable")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "rate limiter unavailable",
			})
			return
		}

		limit, remaining := decision.Detail.Limit()
		c.Header("X-RateLimit-Limit", strconv.FormatFloat(limit, 'f', -1, 64))
		c.Header("X-RateLimit-Remaining", strconv.FormatFloat(remaining, 'f', -1, 64))

		if !decision.Allowed {
			metrics.IncRateLimit("denied")
			logger.FromContext(ctx).WithFields(logger.Fields{
				logger.FieldAPIKey: redact(identity),
				"retry_after":      decision.Detail.RetryAfterSeconds,
			}).Info("Request rate limited")
			c.Header("Retry-After", strconv.Itoa(decision.Detail.RetryAfterSeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":  "rate limit exceeded",
				"detail": decision.Detail,
			})
			return
		}

		metrics.IncRateLimit("allowed")
		c.Next()
	}
}

// redact keeps enough of a key to correlate log lines without leaking it.
func redact(identity string) string {
	if strings.HasPrefix(identity, "ip:") || len(identity) <= 6 {
		return identity
	}
	return identity[:4] + "..." + identity[len(identity)-2:]
}
