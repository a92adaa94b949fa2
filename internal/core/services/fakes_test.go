package services

import (
	"context"
	"net/http"
	"sync"

	"github.com/ewilliams-labs/encore/internal/core/domain"
)

// --- Fakes ---

// fakeStore serves fixed feature tables.
type fakeStore struct {
	playlists  []domain.PlaylistMembership
	candidates []domain.Track
	history    []domain.Track
	err        error
}

func (f *fakeStore) UserPlaylists(ctx context.Context) ([]domain.PlaylistMembership, error) {
	return f.playlists, f.err
}

func (f *fakeStore) RecommendedTrackFeatures(ctx context.Context) ([]domain.Track, error) {
	return f.candidates, f.err
}

func (f *fakeStore) UserTrackFeatures(ctx context.Context) ([]domain.Track, error) {
	return f.history, f.err
}

// fakeCatalog answers lookups from a table. failures lists, per id, the
// errors returned before the lookup succeeds; ids in missing always 404.
type fakeCatalog struct {
	mu       sync.Mutex
	details  map[string]domain.TrackDetails
	failures map[string][]error
	missing  map[string]bool
	userID   string
	calls    map[string]int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		details:  map[string]domain.TrackDetails{},
		failures: map[string][]error{},
		missing:  map[string]bool{},
		calls:    map[string]int{},
	}
}

func (f *fakeCatalog) add(id string) *fakeCatalog {
	f.details[id] = domain.TrackDetails{Name: "Song " + id, ImageURL: "https://img/" + id}
	return f
}

func (f *fakeCatalog) GetTrackDetails(ctx context.Context, id string) (domain.TrackDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++

	if f.missing[id] {
		return domain.TrackDetails{}, &domain.CatalogError{TrackID: id, Status: http.StatusNotFound}
	}
	if errs := f.failures[id]; len(errs) > 0 {
		f.failures[id] = errs[1:]
		return domain.TrackDetails{}, errs[0]
	}
	d, ok := f.details[id]
	if !ok {
		return domain.TrackDetails{}, &domain.CatalogError{TrackID: id, Status: http.StatusNotFound}
	}
	return d, nil
}

func (f *fakeCatalog) CurrentUserID(ctx context.Context) (string, error) {
	if f.userID == "" {
		return "", &domain.CatalogError{Status: http.StatusUnauthorized}
	}
	return f.userID, nil
}

// recordingSink captures published batches.
type recordingSink struct {
	runs    []domain.Run
	batches [][]domain.RecommendationRecord
	err     error
}

func (s *recordingSink) Publish(ctx context.Context, run domain.Run, records []domain.RecommendationRecord) error {
	if s.err != nil {
		return s.err
	}
	s.runs = append(s.runs, run)
	s.batches = append(s.batches, append([]domain.RecommendationRecord(nil), records...))
	return nil
}

// fakeLocker tracks acquisitions.
type fakeLocker struct {
	err      error
	acquired []string
	released int
}

func (l *fakeLocker) Acquire(ctx context.Context, userID string) (func() error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired = append(l.acquired, userID)
	return func() error {
		l.released++
		return nil
	}, nil
}
