package ports

import (
	"context"

	"github.com/ewilliams-labs/encore/internal/core/domain"
)

// CatalogProvider looks up display metadata for tracks.
// A failed lookup returns an error matching domain.ErrCatalogLookupFailure.
type CatalogProvider interface {
	GetTrackDetails(ctx context.Context, trackID string) (domain.TrackDetails, error)
	CurrentUserID(ctx context.Context) (string, error)
}
