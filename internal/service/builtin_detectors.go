package service

import (
	"bytes"
	"context"
	"math/rand/v2"

	"github.com/timmy/intelliparse/internal/domain"
)

const hashChunkSize = 4096

// Multipliers of the per-modality byte hashes seeding the stand-in scores.
const (
	imageHashMultiplier uint32 = 1315423911
	audioHashMultiplier uint32 = 2654435761
	videoHashMultiplier uint32 = 1103515245
)

var (
	jumbfBoxType   = []byte("jumb")
	c2paLabel      = []byte("c2pa")
	digitalSources = [][]byte{
		[]byte("compositeWithTrainedAlgorithmicMedia"),
		[]byte("trainedAlgorithmicMedia"),
		[]byte("algorithmicMedia"),
	}
)

// NewBuiltinDetectors returns deterministic stand-ins for the real detector
// models. Scores are derived from the file bytes so repeated analyses of the
// same upload agree.
func NewBuiltinDetectors() Detectors {
	return Detectors{
		Provenance:    jumbfProvenance{},
		Watermarks:    iptcWatermarks{},
		ImageGen:      pseudoScorer{model: "image_gen_v0", multiplier: imageHashMultiplier},
		VideoDeepfake: pseudoScorer{model: "video_deepfake_v0", multiplier: videoHashMultiplier},
		AudioSpoof:    pseudoScorer{model: "audio_spoof_v0", multiplier: audioHashMultiplier},
		Versions: map[string]string{
			"vision":     "v0",
			"audio":      "v0",
			"provenance": "v0",
		},
	}
}

// byteHash folds each chunk's byte sum into a 32-bit rolling hash.
func byteHash(data []byte, multiplier uint32) uint32 {
	var h uint32
	for off := 0; off < len(data); off += hashChunkSize {
		end := off + hashChunkSize
		if end > len(data) {
			end = len(data)
		}
		var sum uint32
		for _, b := range data[off:end] {
			sum += uint32(b)
		}
		h = h*multiplier + sum
	}
	return h
}

// pseudoScore maps file bytes onto a stable value in [0, 1).
func pseudoScore(data []byte, multiplier uint32) float64 {
	seed := uint64(byteHash(data, multiplier))
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)).Float64()
}

type pseudoScorer struct {
	model      string
	multiplier uint32
}

func (p pseudoScorer) Analyze(ctx context.Context, m *Media) (domain.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return domain.Block{
		"score": pseudoScore(m.Data, p.multiplier),
		"model": p.model,
	}, nil
}

// jumbfProvenance looks for a C2PA manifest store, which is carried in a
// JUMBF box labelled "c2pa".
type jumbfProvenance struct{}

func (jumbfProvenance) CheckProvenance(ctx context.Context, m *Media) (domain.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offset := -1
	if i := bytes.Index(m.Data, jumbfBoxType); i >= 0 {
		if j := bytes.Index(m.Data[i:], c2paLabel); j >= 0 {
			offset = i
		}
	}
	block := domain.Block{
		"c2pa_present": offset >= 0,
		"method":       "jumbf_scan",
	}
	if offset >= 0 {
		block["manifest_offset"] = offset
	}
	return block, nil
}

// iptcWatermarks reports the IPTC digital source type declared in embedded
// XMP when it marks the media as machine generated.
type iptcWatermarks struct{}

func (iptcWatermarks) ScanWatermarks(ctx context.Context, m *Media) ([]domain.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found := []domain.Block{}
	for _, marker := range digitalSources {
		if bytes.Contains(m.Data, marker) {
			found = append(found, domain.Block{
				"type":     "iptc_digital_source_type",
				"value":    string(marker),
				"modality": string(m.Modality),
			})
			break
		}
	}
	return found, nil
}
