package service

import "github.com/timmy/intelliparse/internal/domain"

// DefaultThresholds are the fixed fusion decision boundaries. Both are inclusive.
var DefaultThresholds = domain.Thresholds{
	LikelyAIOrManipulated: 0.80,
	LikelyHuman:           0.20,
}

// FusionResult is the fused verdict of one job.
type FusionResult struct {
	FinalScore float64
	Label      domain.Label
	Thresholds domain.Thresholds
}

// FuseScores takes the maximum of the present scores, so one strong
// manipulation signal dominates inconclusive ones. No scores fuse to 0.
func FuseScores(scores []float64) FusionResult {
	final := 0.0
	for i, s := range scores {
		if i == 0 || s > final {
			final = s
		}
	}
	return FusionResult{
		FinalScore: final,
		Label:      Classify(final, DefaultThresholds),
		Thresholds: DefaultThresholds,
	}
}

// Classify maps a fused score onto a label.
func Classify(score float64, t domain.Thresholds) domain.Label {
	switch {
	case score >= t.LikelyAIOrManipulated:
		return domain.LabelManipulated
	case score <= t.LikelyHuman:
		return domain.LabelHuman
	default:
		return domain.LabelUncertain
	}
}

// FuseJob fuses the generative-content blocks a job actually produced.
// Empty blocks are absent and contribute nothing.
func FuseJob(job *domain.Job) FusionResult {
	var scores []float64
	for _, b := range []domain.Block{job.ImageGen, job.VideoDeepfake, job.AudioSpoof} {
		if s, ok := b.Score(); ok {
			scores = append(scores, s)
		}
	}
	return FuseScores(scores)
}

// ApplyFusion writes the fused score, label and thresholds onto job.
func ApplyFusion(job *domain.Job) FusionResult {
	res := FuseJob(job)
	score := res.FinalScore
	thresholds := res.Thresholds
	job.FinalScore = &score
	job.Label = res.Label
	job.Thresholds = &thresholds
	return res
}
