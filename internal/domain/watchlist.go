package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ProfileType distinguishes face and voice embeddings.
type ProfileType string

const (
	ProfileTypeFace  ProfileType = "face"
	ProfileTypeVoice ProfileType = "voice"
)

// ParseProfileType validates a profile type string.
func ParseProfileType(s string) (ProfileType, error) {
	switch t := ProfileType(s); t {
	case ProfileTypeFace, ProfileTypeVoice:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidProfile, s)
	}
}

// Vector is an embedding stored as a JSON array in the database.
type Vector []float64

// Value implements the driver.Valuer interface for database serialization.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (v *Vector) Scan(value interface{}) error {
	if value == nil {
		*v = Vector{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan Vector")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, v)
}

// Float32 converts the vector for vector databases that store float32.
func (v Vector) Float32() []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// Profile is an enrolled watchlist identity.
type Profile struct {
	ID     string      `json:"profile_id"`
	Type   ProfileType `json:"type"`
	Vector Vector      `json:"vector"`
}

// Validate checks the caller-supplied profile fields.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: profile_id is required", ErrInvalidProfile)
	}
	if _, err := ParseProfileType(string(p.Type)); err != nil {
		return err
	}
	return nil
}

// Sidecar is the upstream-produced embedding artifact stored next to an upload.
type Sidecar struct {
	FaceVector  Vector `json:"face_vector"`
	VoiceVector Vector `json:"voice_vector"`
}
