package service

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/timmy/intelliparse/internal/domain"
	_ "golang.org/x/image/webp"
)

var metadataMarkers = []struct {
	flag   string
	marker []byte
}{
	{"exif", []byte("Exif\x00\x00")},
	{"xmp", []byte("<x:xmpmeta")},
	{"iptc", []byte("Photoshop 3.0\x008BIM")},
	{"icc_profile", []byte("ICC_PROFILE")},
	{"jumbf", jumbfBoxType},
}

// ExtractArtifacts computes file-level facts about an upload: content hashes,
// embedded metadata markers and, for images, the decoded format and size.
// Hashes and flags are always filled; the error reports an image that could
// not be decoded.
func ExtractArtifacts(m *Media) (domain.Artifacts, error) {
	md5Sum := md5.Sum(m.Data)
	shaSum := sha256.Sum256(m.Data)
	art := domain.Artifacts{
		MetadataFlags: []string{},
		Hashes: map[string]string{
			"md5":    hex.EncodeToString(md5Sum[:]),
			"sha256": hex.EncodeToString(shaSum[:]),
		},
	}
	for _, mm := range metadataMarkers {
		if bytes.Contains(m.Data, mm.marker) {
			art.MetadataFlags = append(art.MetadataFlags, mm.flag)
		}
	}

	if m.Modality != domain.ModalityImage {
		return art, nil
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(m.Data))
	if err != nil {
		return art, fmt.Errorf("failed to decode image header: %w", err)
	}
	art.Format = format
	art.Width = cfg.Width
	art.Height = cfg.Height
	return art, nil
}
