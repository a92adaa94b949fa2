package domain

import "time"

// RecommendationRecord is the unit persisted and emitted for every
// recommended track.
type RecommendationRecord struct {
	TrackID     string
	TrackName   string
	ImageURL    string
	OwnerUserID string
}

// Run identifies one pipeline invocation.
type Run struct {
	ID        string
	UserID    string
	StartedAt time.Time
	Clusters  int
}
