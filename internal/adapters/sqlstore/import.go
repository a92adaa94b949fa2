package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"github.com/ewilliams-labs/encore/internal/core/domain"
)

// Snapshot is the JSON document `encore db import` loads into the feature
// tables: the user's playlists, listening history and the candidate feed.
type Snapshot struct {
	Playlists  []SnapshotPlaylist `json:"playlists"`
	History    []SnapshotTrack    `json:"history"`
	Candidates []SnapshotTrack    `json:"candidates"`
}

// SnapshotPlaylist is one userPlaylists row.
type SnapshotPlaylist struct {
	Name   string   `json:"name"`
	Tracks []string `json:"tracks"`
}

// SnapshotTrack is one feature row. Features are keyed by column name; absent
// features and flags are stored as NULL.
type SnapshotTrack struct {
	ID            string                     `json:"id"`
	Genre         string                     `json:"genre,omitempty"`
	Features      map[domain.Feature]float64 `json:"features,omitempty"`
	TopTrack      *bool                      `json:"top_track,omitempty"`
	PlaylistTrack *bool                      `json:"playlist_track,omitempty"`
}

// Track converts the row to its domain form.
func (t SnapshotTrack) Track() domain.Track {
	return domain.Track{
		ID:            t.ID,
		Genre:         t.Genre,
		Features:      domain.AudioFeatures(t.Features),
		TopTrack:      t.TopTrack,
		PlaylistTrack: t.PlaylistTrack,
	}
}

// ImportStats counts the rows an import wrote.
type ImportStats struct {
	Playlists  int
	History    int
	Candidates int
}

// ReadSnapshot decodes a snapshot document.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	for _, group := range [][]SnapshotTrack{snap.History, snap.Candidates} {
		for i, t := range group {
			if strings.TrimSpace(t.ID) == "" {
				return nil, fmt.Errorf("snapshot track %d has no id", i)
			}
		}
	}
	return &snap, nil
}

// Import writes every row of the snapshot in one transaction, so a failing
// row leaves the tables untouched.
func (s *Store) Import(ctx context.Context, snap *Snapshot) (ImportStats, error) {
	var stats ImportStats
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("failed to begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range snap.Playlists {
		if err := insertPlaylist(ctx, tx, p.Name, p.Tracks); err != nil {
			return ImportStats{}, err
		}
		stats.Playlists++
	}
	for _, t := range snap.History {
		if err := insertTrack(ctx, tx, domain.Historical, t.Track()); err != nil {
			return ImportStats{}, err
		}
		stats.History++
	}
	for _, t := range snap.Candidates {
		if err := insertTrack(ctx, tx, domain.Candidate, t.Track()); err != nil {
			return ImportStats{}, err
		}
		stats.Candidates++
	}

	if err := tx.Commit(); err != nil {
		return ImportStats{}, fmt.Errorf("failed to commit import: %w", err)
	}
	s.log.Info().Int("playlists", stats.Playlists).Int("history", stats.History).Int("candidates", stats.Candidates).Msg("snapshot imported")
	return stats, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertPlaylist stores the playlist's track ids JSON-encoded the way the
// playlist table holds them.
func insertPlaylist(ctx context.Context, ex execer, name string, trackIDs []string) error {
	if trackIDs == nil {
		trackIDs = []string{}
	}
	raw, err := json.Marshal(trackIDs)
	if err != nil {
		return fmt.Errorf("failed to encode playlist tracks: %w", err)
	}
	if _, err := ex.ExecContext(ctx,
		"INSERT INTO userPlaylists (playlist_name, playlist_tracks) VALUES (?, ?)",
		name, string(raw),
	); err != nil {
		return fmt.Errorf("failed to save playlist %s: %w", name, err)
	}
	return nil
}

// insertTrack writes a history row or a candidate feed row.
func insertTrack(ctx context.Context, ex execer, partition domain.Partition, t domain.Track) error {
	table := "userTrackFeatures"
	if partition == domain.Candidate {
		table = "recommendedTracksFeatures"
	}

	cols := append([]string{"track_id", "genre"}, featureColumns()...)
	args := []any{t.ID, nullString(t.Genre)}
	for _, f := range domain.AudioFeatureNames {
		if v, ok := t.Features.Get(f); ok {
			args = append(args, v)
		} else {
			args = append(args, nil)
		}
	}
	if partition == domain.Historical {
		cols = append(cols, "top_track", "playlist_track")
		args = append(args, nullBool(t.TopTrack), nullBool(t.PlaylistTrack))
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	// #nosec G202 -- table and column names are package constants
	query := "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders + ")"
	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save track %s: %w", t.ID, err)
	}
	return nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullBool(v *bool) any {
	if v == nil {
		return nil
	}
	if *v {
		return 1
	}
	return 0
}
