package service

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/intelliparse/internal/domain"
	"github.com/timmy/intelliparse/internal/repository"
)

func TestCosine(t *testing.T) {
	testCases := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"scaled", []float64{1, 0}, []float64{5, 0}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite clamps to zero", []float64{1, 0}, []float64{-1, 0}, 0},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0},
		{"empty", nil, []float64{1}, 0},
		{"diagonal", []float64{1, 1}, []float64{1, 0}, 1 / math.Sqrt2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Cosine(tc.a, tc.b), 1e-9)
		})
	}
}

func TestCosine_LengthMismatchUsesSharedPrefix(t *testing.T) {
	// dot covers the first element only; norms cover whole vectors.
	got := Cosine([]float64{1, 1}, []float64{1})
	assert.InDelta(t, 1/math.Sqrt2, got, 1e-9)
}

func TestIsMatch_Threshold(t *testing.T) {
	assert.True(t, isMatch(0.85))
	assert.True(t, isMatch(1))
	assert.False(t, isMatch(0.849999))
}

func newTestWatchlist(t *testing.T, profiles ...domain.Profile) *repository.LocalWatchlist {
	t.Helper()
	w, err := repository.NewLocalWatchlist("")
	require.NoError(t, err)
	for _, p := range profiles {
		require.NoError(t, w.Upsert(context.Background(), p))
	}
	return w
}

func TestIdentityMatcher_Match(t *testing.T) {
	w := newTestWatchlist(t,
		domain.Profile{ID: "alice", Type: domain.ProfileTypeFace, Vector: domain.Vector{1, 0, 0}},
		domain.Profile{ID: "bob", Type: domain.ProfileTypeFace, Vector: domain.Vector{0, 1, 0}},
		domain.Profile{ID: "carol", Type: domain.ProfileTypeFace, Vector: domain.Vector{0.95, 0.1, 0}},
		domain.Profile{ID: "dave", Type: domain.ProfileTypeVoice, Vector: domain.Vector{1, 0, 0}},
	)
	m := NewIdentityMatcher(w)
	ctx := context.Background()

	t.Run("sorted by similarity", func(t *testing.T) {
		matches, err := m.Match(ctx, domain.ProfileTypeFace, []float64{0.9, 0.1, 0}, nil)
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "carol", matches[0].ProfileID)
		assert.Equal(t, "alice", matches[1].ProfileID)
		assert.GreaterOrEqual(t, matches[0].Similarity, matches[1].Similarity)
	})

	t.Run("allow list restricts candidates", func(t *testing.T) {
		matches, err := m.Match(ctx, domain.ProfileTypeFace, []float64{1, 0, 0}, []string{"alice", "bob"})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "alice", matches[0].ProfileID)
		assert.InDelta(t, 1, matches[0].Similarity, 1e-9)
	})

	t.Run("types are separate", func(t *testing.T) {
		matches, err := m.Match(ctx, domain.ProfileTypeVoice, []float64{1, 0, 0}, nil)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "dave", matches[0].ProfileID)
	})

	t.Run("no hits is an empty slice", func(t *testing.T) {
		matches, err := m.Match(ctx, domain.ProfileTypeFace, []float64{0, 0, 1}, nil)
		require.NoError(t, err)
		assert.NotNil(t, matches)
		assert.Empty(t, matches)
	})
}
