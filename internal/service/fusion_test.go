package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/intelliparse/internal/domain"
)

func TestClassify_Boundaries(t *testing.T) {
	testCases := []struct {
		name  string
		score float64
		want  domain.Label
	}{
		{"upper boundary is inclusive", 0.80, domain.LabelManipulated},
		{"just below upper", 0.799999, domain.LabelUncertain},
		{"lower boundary is inclusive", 0.20, domain.LabelHuman},
		{"just above lower", 0.200001, domain.LabelUncertain},
		{"zero", 0, domain.LabelHuman},
		{"one", 1, domain.LabelManipulated},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.score, DefaultThresholds))
		})
	}
}

func TestFuseScores(t *testing.T) {
	res := FuseScores([]float64{0.1, 0.95, 0.4})
	assert.InDelta(t, 0.95, res.FinalScore, 1e-12)
	assert.Equal(t, domain.LabelManipulated, res.Label)
	assert.Equal(t, DefaultThresholds, res.Thresholds)

	empty := FuseScores(nil)
	assert.Zero(t, empty.FinalScore)
	assert.Equal(t, domain.LabelHuman, empty.Label)
}

func TestFuseJob_IgnoresAbsentBlocks(t *testing.T) {
	job := domain.NewJob("job_fuse", domain.ModalityVideo, fixedTime())
	job.AudioSpoof = domain.Block{"score": 0.5, "model": "a"}
	// A present block without a score counts as 0.
	job.VideoDeepfake = domain.Block{"model": "v"}

	res := ApplyFusion(job)
	assert.InDelta(t, 0.5, res.FinalScore, 1e-12)
	require.NotNil(t, job.FinalScore)
	assert.InDelta(t, 0.5, *job.FinalScore, 1e-12)
	assert.Equal(t, domain.LabelUncertain, job.Label)
	require.NotNil(t, job.Thresholds)
	assert.Equal(t, 0.80, job.Thresholds.LikelyAIOrManipulated)
	assert.Equal(t, 0.20, job.Thresholds.LikelyHuman)
}

func TestFuseJob_NoBlocks(t *testing.T) {
	job := domain.NewJob("job_none", domain.ModalityImage, fixedTime())
	res := ApplyFusion(job)
	assert.Zero(t, res.FinalScore)
	assert.Equal(t, domain.LabelHuman, job.Label)
}
