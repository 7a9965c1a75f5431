package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(jobsTotalMetric.WithLabelValues("image", "completed"))
	IncJobs("image", "completed")
	assert.Equal(t, before+1, testutil.ToFloat64(jobsTotalMetric.WithLabelValues("image", "completed")))

	before = testutil.ToFloat64(rateLimitDecisionsMetric.WithLabelValues("denied"))
	IncRateLimit("denied")
	assert.Equal(t, before+1, testutil.ToFloat64(rateLimitDecisionsMetric.WithLabelValues("denied")))

	SetQueueDepth(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(queueDepthMetric))

	ObserveStage("fusion", false, 10*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(stageDurationMetric, "intelliparse_stage_duration_seconds"))
}
