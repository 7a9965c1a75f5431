package domain

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of an analysis job.
// Values include JobStatusQueued, JobStatusRunning, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions can happen.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Modality determines which detector stages apply to an upload.
type Modality string

const (
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
)

// ParseModality validates a modality string.
func ParseModality(s string) (Modality, error) {
	switch m := Modality(s); m {
	case ModalityImage, ModalityAudio, ModalityVideo:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidModality, s)
	}
}

// Label is the fused verdict for a job.
type Label string

const (
	LabelManipulated Label = "likely_ai_or_manipulated"
	LabelHuman       Label = "likely_human"
	LabelUncertain   Label = "uncertain"
)

// Advisory limitation codes appended to Job.Limitations.
const (
	LimitationNoC2PA         = "no_c2pa_credentials_found"
	LimitationInvalidSidecar = "invalid_sidecar_vector"
	LimitationArtifacts      = "artifact_extraction_failed"
)

// Block is an opaque structured result supplied by an external detector.
type Block map[string]interface{}

// Score extracts the numeric "score" field of a detector block.
// An empty block reports present=false; a non-empty block without a numeric
// score reports 0.
func (b Block) Score() (score float64, present bool) {
	if len(b) == 0 {
		return 0, false
	}
	switch v := b["score"].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, true
	}
}

// Match is a single watchlist hit.
type Match struct {
	ProfileID  string  `json:"profile_id"`
	Similarity float64 `json:"similarity"`
}

// IdentityBlock holds face and voice watchlist matches.
type IdentityBlock struct {
	FaceMatches  []Match `json:"face_matches"`
	VoiceMatches []Match `json:"voice_matches"`
}

// Artifacts carries file-level facts computed while processing the upload.
type Artifacts struct {
	MetadataFlags []string          `json:"metadata_flags"`
	Hashes        map[string]string `json:"hashes"`
	Format        string            `json:"format,omitempty"`
	Width         int               `json:"width,omitempty"`
	Height        int               `json:"height,omitempty"`
}

// Thresholds are the fusion decision boundaries.
type Thresholds struct {
	LikelyAIOrManipulated float64 `json:"likely_ai_or_manipulated"`
	LikelyHuman           float64 `json:"likely_human"`
}

// JobError records the stage that failed a job.
type JobError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Job is the full analysis record returned to pollers and webhook receivers.
type Job struct {
	ID            string            `json:"job_id"`
	Status        JobStatus         `json:"status"`
	Modality      Modality          `json:"modality"`
	StorageKey    string            `json:"storage_key,omitempty"`
	Provenance    Block             `json:"provenance"`
	Watermarks    []Block           `json:"watermarks"`
	VideoDeepfake Block             `json:"video_deepfake"`
	ImageGen      Block             `json:"image_gen"`
	AudioSpoof    Block             `json:"audio_spoof"`
	Identity      IdentityBlock     `json:"identity"`
	Artifacts     Artifacts         `json:"artifacts"`
	ModelVersions map[string]string `json:"model_versions"`
	Limitations   []string          `json:"limitations"`
	FinalScore    *float64          `json:"final_score,omitempty"`
	Label         Label             `json:"label,omitempty"`
	Thresholds    *Thresholds       `json:"thresholds,omitempty"`
	Error         *JobError         `json:"error,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	FailedAt      *time.Time        `json:"failed_at,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewJob returns a queued job with every block initialised to its empty form.
func NewJob(id string, modality Modality, now time.Time) *Job {
	return &Job{
		ID:            id,
		Status:        JobStatusQueued,
		Modality:      modality,
		Provenance:    Block{},
		Watermarks:    []Block{},
		VideoDeepfake: Block{},
		ImageGen:      Block{},
		AudioSpoof:    Block{},
		Identity:      IdentityBlock{FaceMatches: []Match{}, VoiceMatches: []Match{}},
		Artifacts:     Artifacts{MetadataFlags: []string{}, Hashes: map[string]string{}},
		ModelVersions: map[string]string{},
		Limitations:   []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// AddLimitation appends an advisory code.
func (j *Job) AddLimitation(code string) {
	j.Limitations = append(j.Limitations, code)
}

// AnalyzeOptions is the per-job configuration attached at submission.
type AnalyzeOptions struct {
	CheckProvenance bool     `json:"check_provenance"`
	CheckWatermarks bool     `json:"check_watermarks"`
	CheckAudio      bool     `json:"check_audio"`
	CheckVisual     bool     `json:"check_visual"`
	FaceWatchlist   []string `json:"face_watchlist,omitempty"`
	VoiceWatchlist  []string `json:"voice_watchlist,omitempty"`
	CallbackURL     string   `json:"callback_url,omitempty"`
}

// DefaultAnalyzeOptions enables every check.
func DefaultAnalyzeOptions() AnalyzeOptions {
	return AnalyzeOptions{
		CheckProvenance: true,
		CheckWatermarks: true,
		CheckAudio:      true,
		CheckVisual:     true,
	}
}
