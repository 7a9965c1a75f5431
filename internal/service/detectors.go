package service

import (
	"context"

	"github.com/timmy/intelliparse/internal/domain"
)

// Media is an uploaded file loaded for analysis.
type Media struct {
	Key         string
	Filename    string
	ContentType string
	Modality    domain.Modality
	Data        []byte
}

// ProvenanceChecker inspects embedded content credentials. The returned
// block reports "c2pa_present".
type ProvenanceChecker interface {
	CheckProvenance(ctx context.Context, m *Media) (domain.Block, error)
}

// WatermarkScanner returns the watermarks found, in detection order.
type WatermarkScanner interface {
	ScanWatermarks(ctx context.Context, m *Media) ([]domain.Block, error)
}

// ScoreDetector produces a block carrying a manipulation "score" in [0, 1].
type ScoreDetector interface {
	Analyze(ctx context.Context, m *Media) (domain.Block, error)
}

// Detectors is the set of external analyzers the pipeline drives.
type Detectors struct {
	Provenance    ProvenanceChecker
	Watermarks    WatermarkScanner
	ImageGen      ScoreDetector
	VideoDeepfake ScoreDetector
	AudioSpoof    ScoreDetector
	// Versions is copied into each job's model_versions block.
	Versions map[string]string
}

// c2paPresent reads the provenance verdict from a checker block.
func c2paPresent(b domain.Block) bool {
	present, _ := b["c2pa_present"].(bool)
	return present
}
