package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/intelliparse/internal/domain"
)

// RemoteDetectorConfig holds configuration for a remote detector service.
type RemoteDetectorConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RemoteDetectorClient calls a detector service over HTTP. Each detector is
// one endpoint taking the media as a multipart upload and answering a JSON
// block.
type RemoteDetectorClient struct {
	client  *resty.Client
	baseURL string
}

// NewRemoteDetectorClient creates a detector client.
// Parameters:
//   - cfg: base URL, bearer API key, and request timeout.
//
// Returns:
//   - *RemoteDetectorClient: initialized client.
func NewRemoteDetectorClient(cfg *RemoteDetectorConfig) *RemoteDetectorClient {
	client := resty.New()
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	return &RemoteDetectorClient{
		client:  client,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
	}
}

// Detectors exposes every endpoint of the service as a detector set.
// Versions are fetched once; failures leave them as "remote".
func (c *RemoteDetectorClient) Detectors(ctx context.Context) Detectors {
	versions, err := c.FetchVersions(ctx)
	if err != nil || len(versions) == 0 {
		versions = map[string]string{"vision": "remote", "audio": "remote", "provenance": "remote"}
	}
	return Detectors{
		Provenance:    remoteProvenance{c},
		Watermarks:    remoteWatermarks{c},
		ImageGen:      remoteScorer{c, "image_gen"},
		VideoDeepfake: remoteScorer{c, "video_deepfake"},
		AudioSpoof:    remoteScorer{c, "audio_spoof"},
		Versions:      versions,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// FetchVersions reads the model versions the service reports.
func (c *RemoteDetectorClient) FetchVersions(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	var errResp errorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errResp).
		Get(c.baseURL + "/v1/versions")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch detector versions: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("detector versions: status %d: %s", resp.StatusCode(), errResp.Error)
	}
	return out, nil
}

// detect uploads the media to one detector endpoint and decodes the reply into result.
func (c *RemoteDetectorClient) detect(ctx context.Context, kind string, m *Media, result interface{}) error {
	var errResp errorResponse
	filename := m.Filename
	if filename == "" {
		filename = m.Key
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(m.Data)).
		SetFormData(map[string]string{"modality": string(m.Modality)}).
		SetResult(result).
		SetError(&errResp).
		Post(c.baseURL + "/v1/detect/" + kind)
	if err != nil {
		return fmt.Errorf("%s detector request failed: %w", kind, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s detector: status %d: %s", kind, resp.StatusCode(), errResp.Error)
	}
	return nil
}

type remoteScorer struct {
	c    *RemoteDetectorClient
	kind string
}

func (r remoteScorer) Analyze(ctx context.Context, m *Media) (domain.Block, error) {
	block := domain.Block{}
	if err := r.c.detect(ctx, r.kind, m, &block); err != nil {
		return nil, err
	}
	return block, nil
}

type remoteProvenance struct{ c *RemoteDetectorClient }

func (r remoteProvenance) CheckProvenance(ctx context.Context, m *Media) (domain.Block, error) {
	block := domain.Block{}
	if err := r.c.detect(ctx, "provenance", m, &block); err != nil {
		return nil, err
	}
	return block, nil
}

type remoteWatermarks struct{ c *RemoteDetectorClient }

func (r remoteWatermarks) ScanWatermarks(ctx context.Context, m *Media) ([]domain.Block, error) {
	var out struct {
		Watermarks []domain.Block `json:"watermarks"`
	}
	if err := r.c.detect(ctx, "watermarks", m, &out); err != nil {
		return nil, err
	}
	if out.Watermarks == nil {
		out.Watermarks = []domain.Block{}
	}
	return out.Watermarks, nil
}
