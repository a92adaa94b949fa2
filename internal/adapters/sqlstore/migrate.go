package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

// Migrate creates the feature, result and run tables when they are missing.
// The DDL sticks to types both SQLite and MySQL accept, and statements run
// one at a time because the MySQL driver rejects multi-statement Exec by
// default.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	s.log.Debug().Str("driver", s.driver).Msg("schema migrated")
	return nil
}

func schema() []string {
	var features strings.Builder
	for _, col := range featureColumns() {
		features.WriteString("\t\t" + col + " DOUBLE,\n")
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS userPlaylists (
		playlist_name VARCHAR(255) NOT NULL,
		playlist_tracks TEXT
	)`,
		`CREATE TABLE IF NOT EXISTS userTrackFeatures (
		track_id VARCHAR(64) NOT NULL PRIMARY KEY,
` + features.String() + `		genre VARCHAR(255),
		top_track INTEGER,
		playlist_track INTEGER
	)`,
		`CREATE TABLE IF NOT EXISTS recommendedTracksFeatures (
		track_id VARCHAR(64) NOT NULL PRIMARY KEY,
` + features.String() + `		genre VARCHAR(255)
	)`,
		`CREATE TABLE IF NOT EXISTS sufficientAddToPlaylist (
		user_id VARCHAR(64) NOT NULL,
		track_id VARCHAR(64) NOT NULL,
		track_name TEXT,
		image_url TEXT,
		run_id VARCHAR(64),
		PRIMARY KEY (user_id, track_id)
	)`,
		`CREATE TABLE IF NOT EXISTS recommendation_runs (
		user_id VARCHAR(64) NOT NULL PRIMARY KEY,
		generation BIGINT NOT NULL,
		run_id VARCHAR(64) NOT NULL,
		started_at BIGINT NOT NULL
	)`,
	}
}
