package service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/timmy/intelliparse/internal/domain"
	"github.com/timmy/intelliparse/internal/repository"
)

// MatchThreshold is the minimum similarity for a watchlist hit.
const MatchThreshold = 0.85

// Cosine returns the cosine similarity of a and b clamped to [0, 1].
// A zero-magnitude vector has similarity 0 with everything. When lengths
// differ the dot product covers the shared prefix and each norm covers its
// whole vector.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	den := math.Sqrt(sumSquares(a) * sumSquares(b))
	if den == 0 {
		return 0
	}
	return math.Max(0, math.Min(1, dot/den))
}

func sumSquares(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return sum
}

// isMatch reports whether a similarity qualifies as a watchlist hit.
func isMatch(similarity float64) bool {
	return similarity >= MatchThreshold
}

// IdentityMatcher searches the watchlist for profiles similar to a query embedding.
type IdentityMatcher struct {
	watchlist repository.WatchlistStore
}

// NewIdentityMatcher creates a matcher over watchlist.
func NewIdentityMatcher(watchlist repository.WatchlistStore) *IdentityMatcher {
	return &IdentityMatcher{watchlist: watchlist}
}

// Match returns profiles of typ with similarity >= MatchThreshold, most
// similar first; equal similarities keep watchlist scan order. A non-empty
// allow list restricts the candidates to the listed profile ids.
func (m *IdentityMatcher) Match(ctx context.Context, typ domain.ProfileType, query []float64, allow []string) ([]domain.Match, error) {
	profiles, err := m.watchlist.List(ctx, typ)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s profiles: %w", typ, err)
	}

	var allowed map[string]struct{}
	if len(allow) > 0 {
		allowed = make(map[string]struct{}, len(allow))
		for _, id := range allow {
			allowed[id] = struct{}{}
		}
	}

	matches := []domain.Match{}
	for _, p := range profiles {
		if allowed != nil {
			if _, ok := allowed[p.ID]; !ok {
				continue
			}
		}
		sim := Cosine(query, p.Vector)
		if isMatch(sim) {
			matches = append(matches, domain.Match{ProfileID: p.ID, Similarity: sim})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches, nil
}
