package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "intelliparse"

	// Labels
	statusLabel   = "status"
	stageLabel    = "stage"
	modalityLabel = "modality"
	outcomeLabel  = "outcome"
	methodLabel   = "method"
	pathLabel     = "path"
)

var jobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "number of analysis jobs by modality and final status",
	},
	[]string{modalityLabel, statusLabel},
)

var stageDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "time spent in each pipeline stage",
		Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120},
	},
	[]string{stageLabel, statusLabel},
)

var queueDepthMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "jobs waiting for a pipeline worker",
	},
)

var rateLimitDecisionsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_decisions_total",
		Help:      "admission decisions by outcome",
	},
	[]string{outcomeLabel},
)

var webhookDeliveriesMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_deliveries_total",
		Help:      "webhook delivery attempts by outcome",
	},
	[]string{outcomeLabel},
)

var httpRequestsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests partitioned by status code, method and route",
	},
	[]string{statusLabel, methodLabel, pathLabel},
)

// IncJobs counts a job reaching a terminal status.
func IncJobs(modality, status string) {
	jobsTotalMetric.With(prometheus.Labels{modalityLabel: modality, statusLabel: status}).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, failed bool, d time.Duration) {
	status := "ok"
	if failed {
		status = "error"
	}
	stageDurationMetric.With(prometheus.Labels{stageLabel: stage, statusLabel: status}).Observe(d.Seconds())
}

// SetQueueDepth publishes the number of queued jobs.
func SetQueueDepth(n int) {
	queueDepthMetric.Set(float64(n))
}

// IncRateLimit counts an admission decision: "allowed", "denied" or "error".
func IncRateLimit(outcome string) {
	rateLimitDecisionsMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

// IncWebhook counts a webhook delivery: "delivered", "rejected" or "error".
func IncWebhook(outcome string) {
	webhookDeliveriesMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

// IncHTTPRequest counts a served HTTP request.
func IncHTTPRequest(status, method, path string) {
	httpRequestsMetric.With(prometheus.Labels{statusLabel: status, methodLabel: method, pathLabel: path}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsTotalMetric)
	prometheus.MustRegister(stageDurationMetric)
	prometheus.MustRegister(queueDepthMetric)
	prometheus.MustRegister(rateLimitDecisionsMetric)
	prometheus.MustRegister(webhookDeliveriesMetric)
	prometheus.MustRegister(httpRequestsMetric)
}
