package service

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/intelliparse/internal/domain"
)

func fixedTime() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestBuiltinDetectors_Deterministic(t *testing.T) {
	d := NewBuiltinDetectors()
	ctx := context.Background()
	media := &Media{Modality: domain.ModalityImage, Data: bytes.Repeat([]byte("abc"), 5000)}

	first, err := d.ImageGen.Analyze(ctx, media)
	require.NoError(t, err)
	second, err := d.ImageGen.Analyze(ctx, media)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	score, ok := first.Score()
	require.True(t, ok)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.Less(t, score, 1.0)
	assert.Equal(t, "image_gen_v0", first["model"])

	// Different modalities hash differently.
	audio, err := d.AudioSpoof.Analyze(ctx, media)
	require.NoError(t, err)
	assert.NotEqual(t, first["score"], audio["score"])

	assert.Equal(t, "v0", d.Versions["vision"])
}

func TestBuiltinDetectors_Provenance(t *testing.T) {
	d := NewBuiltinDetectors()
	ctx := context.Background()

	none, err := d.Provenance.CheckProvenance(ctx, &Media{Data: []byte("plain bytes")})
	require.NoError(t, err)
	assert.False(t, c2paPresent(none))
	assert.NotContains(t, none, "manifest_offset")

	signed, err := d.Provenance.CheckProvenance(ctx, &Media{Data: []byte("xxjumb....c2pa manifest")})
	require.NoError(t, err)
	assert.True(t, c2paPresent(signed))
	assert.Equal(t, 2, signed["manifest_offset"])
}

func TestBuiltinDetectors_Watermarks(t *testing.T) {
	d := NewBuiltinDetectors()
	ctx := context.Background()

	none, err := d.Watermarks.ScanWatermarks(ctx, &Media{Data: []byte("nothing")})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	marks, err := d.Watermarks.ScanWatermarks(ctx, &Media{
		Modality: domain.ModalityImage,
		Data:     []byte(`<Iptc4xmpExt:DigitalSourceType>http://cv.iptc.org/newscodes/digitalsourcetype/trainedAlgorithmicMedia`),
	})
	require.NoError(t, err)
	require.Len(t, marks, 1)
	assert.Equal(t, "trainedAlgorithmicMedia", marks[0]["value"])
	assert.Equal(t, "image", marks[0]["modality"])
}

func TestBuiltinDetectors_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuiltinDetectors().ImageGen.Analyze(ctx, &Media{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractArtifacts(t *testing.T) {
	t.Run("png", func(t *testing.T) {
		art, err := ExtractArtifacts(&Media{Modality: domain.ModalityImage, Data: pngBytes(t, 3, 2)})
		require.NoError(t, err)
		assert.Equal(t, "png", art.Format)
		assert.Equal(t, 3, art.Width)
		assert.Equal(t, 2, art.Height)
		assert.Len(t, art.Hashes["md5"], 32)
		assert.Len(t, art.Hashes["sha256"], 64)
	})

	t.Run("undecodable image keeps hashes", func(t *testing.T) {
		art, err := ExtractArtifacts(&Media{Modality: domain.ModalityImage, Data: []byte("Exif\x00\x00 not an image")})
		assert.Error(t, err)
		assert.Len(t, art.Hashes["sha256"], 64)
		assert.Equal(t, []string{"exif"}, art.MetadataFlags)
	})

	t.Run("audio skips decoding", func(t *testing.T) {
		art, err := ExtractArtifacts(&Media{Modality: domain.ModalityAudio, Data: []byte("RIFF")})
		require.NoError(t, err)
		assert.Empty(t, art.Format)
		assert.Empty(t, art.MetadataFlags)
	})
}

func TestRemoteDetectorClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/versions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"vision": "v7", "audio": "a3", "provenance": "p1"})
	})
	mux.HandleFunc("/v1/detect/image_gen", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "image", r.FormValue("modality"))
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "pixels", string(data))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"score":0.91,"model":"remote_gen"}`))
	})
	mux.HandleFunc("/v1/detect/watermarks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"watermarks":[{"type":"synthid"}]}`))
	})
	mux.HandleFunc("/v1/detect/provenance", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream down"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewRemoteDetectorClient(&RemoteDetectorConfig{BaseURL: srv.URL + "/", APIKey: "key-1", Timeout: time.Second})
	ctx := context.Background()
	d := client.Detectors(ctx)
	assert.Equal(t, "v7", d.Versions["vision"])

	media := &Media{Filename: "a.png", Modality: domain.ModalityImage, Data: []byte("pixels")}
	block, err := d.ImageGen.Analyze(ctx, media)
	require.NoError(t, err)
	score, ok := block.Score()
	require.True(t, ok)
	assert.InDelta(t, 0.91, score, 1e-9)

	marks, err := d.Watermarks.ScanWatermarks(ctx, media)
	require.NoError(t, err)
	require.Len(t, marks, 1)
	assert.Equal(t, "synthid", marks[0]["type"])

	_, err = d.Provenance.CheckProvenance(ctx, media)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestRemoteDetectorClient_VersionsFallback(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d := NewRemoteDetectorClient(&RemoteDetectorConfig{BaseURL: srv.URL}).Detectors(context.Background())
	assert.Equal(t, "remote", d.Versions["vision"])
}
