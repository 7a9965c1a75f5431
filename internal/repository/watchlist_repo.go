package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/timmy/intelliparse/internal/domain"
)

// WatchlistStore maps profile ids to typed embedding vectors.
type WatchlistStore interface {
	// Upsert enrolls a profile; the last write for an id wins.
	Upsert(ctx context.Context, profile domain.Profile) error
	// Delete removes a profile. Unknown ids are a no-op.
	Delete(ctx context.Context, profileID string) error
	// List returns the profiles of one type in enrollment order.
	List(ctx context.Context, typ domain.ProfileType) ([]domain.Profile, error)
}

// LocalWatchlist keeps profiles in memory and, when a path is set, mirrors
// them to a JSON file after every change.
type LocalWatchlist struct {
	mu       sync.RWMutex
	path     string
	order    []string
	profiles map[string]domain.Profile
}

// NewLocalWatchlist creates a watchlist, loading path if it exists.
// An empty path keeps the watchlist in memory only.
func NewLocalWatchlist(path string) (*LocalWatchlist, error) {
	w := &LocalWatchlist{
		path:     path,
		profiles: make(map[string]domain.Profile),
	}
	if path == "" {
		return w, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read watchlist: %w", err)
	}

	var stored []domain.Profile
	if len(data) > 0 {
		if err := json.Unmarshal(data, &stored); err != nil {
			return nil, fmt.Errorf("failed to parse watchlist %s: %w", path, err)
		}
	}
	for _, p := range stored {
		if _, seen := w.profiles[p.ID]; !seen {
			w.order = append(w.order, p.ID)
		}
		w.profiles[p.ID] = p
	}
	return w, nil
}

// Upsert enrolls or overwrites a profile. An overwritten profile keeps its
// original position in scan order. A failed write leaves the watchlist as
// it was.
func (w *LocalWatchlist) Upsert(ctx context.Context, profile domain.Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	profile.Vector = append(domain.Vector(nil), profile.Vector...)

	w.mu.Lock()
	defer w.mu.Unlock()

	prev, existed := w.profiles[profile.ID]
	if !existed {
		w.order = append(w.order, profile.ID)
	}
	w.profiles[profile.ID] = profile
	if err := w.persistLocked(); err != nil {
		if existed {
			w.profiles[profile.ID] = prev
		} else {
			delete(w.profiles, profile.ID)
			w.order = w.order[:len(w.order)-1]
		}
		return err
	}
	return nil
}

// Delete removes a profile if present. A failed write keeps the profile.
func (w *LocalWatchlist) Delete(ctx context.Context, profileID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev, ok := w.profiles[profileID]
	if !ok {
		return nil
	}
	prevOrder := w.order
	order := make([]string, 0, len(w.order))
	for _, id := range w.order {
		if id != profileID {
			order = append(order, id)
		}
	}
	delete(w.profiles, profileID)
	w.order = order
	if err := w.persistLocked(); err != nil {
		w.profiles[profileID] = prev
		w.order = prevOrder
		return err
	}
	return nil
}

// List returns copies of the profiles of typ in enrollment order.
func (w *LocalWatchlist) List(ctx context.Context, typ domain.ProfileType) ([]domain.Profile, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]domain.Profile, 0, len(w.order))
	for _, id := range w.order {
		p := w.profiles[id]
		if p.Type != typ {
			continue
		}
		p.Vector = append(domain.Vector(nil), p.Vector...)
		out = append(out, p)
	}
	return out, nil
}

// persistLocked writes the watchlist through a temp file and rename so a
// crash never leaves a truncated file behind. Caller holds w.mu.
func (w *LocalWatchlist) persistLocked() error {
	if w.path == "" {
		return nil
	}

	all := make([]domain.Profile, 0, len(w.order))
	for _, id := range w.order {
		all = append(all, w.profiles[id])
	}
	data, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("failed to encode watchlist: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create watchlist directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".watchlist-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write watchlist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write watchlist: %w", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace watchlist: %w", err)
	}
	return nil
}
