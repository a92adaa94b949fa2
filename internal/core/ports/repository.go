package ports

import (
	"context"

	"github.com/ewilliams-labs/encore/internal/core/domain"
)

// FeatureStore reads the three feature tables the pipeline starts from.
type FeatureStore interface {
	UserPlaylists(ctx context.Context) ([]domain.PlaylistMembership, error)
	RecommendedTrackFeatures(ctx context.Context) ([]domain.Track, error)
	UserTrackFeatures(ctx context.Context) ([]domain.Track, error)
}

// RecommendationSink receives the final records of a run.
type RecommendationSink interface {
	Publish(ctx context.Context, run domain.Run, records []domain.RecommendationRecord) error
}

// RunLocker serializes pipeline runs per user.
type RunLocker interface {
	Acquire(ctx context.Context, userID string) (release func() error, err error)
}
