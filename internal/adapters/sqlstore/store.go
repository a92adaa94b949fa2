// Package sqlstore provides the SQL-backed feature store and result sink.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3" // Import the driver anonymously
	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/encore/internal/core/domain"
	"github.com/ewilliams-labs/encore/internal/core/ports"
	"github.com/ewilliams-labs/encore/internal/logging"
)

// Supported database/sql driver names.
const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// compile-time interface assertions
var (
	_ ports.FeatureStore       = (*Store)(nil)
	_ ports.RecommendationSink = (*Store)(nil)
)

// Store implements the feature store and recommendation sink ports.
type Store struct {
	db     *sql.DB
	driver string
	log    zerolog.Logger
}

// Open connects to the database and verifies the connection.
// It does not create tables; call Migrate for that.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		if cfg.Timeout == 0 {
			cfg.Timeout = 10 * time.Second
		}
		dsn = cfg.FormatDSN()
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s db: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One connection keeps ":memory:" databases alive across calls and
		// serializes writers.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s db: %w", driver, err)
	}

	return &Store{db: db, driver: driver, log: logging.Component("sqlstore")}, nil
}

// Close ensures the DB connection is closed gracefully
func (s *Store) Close() error {
	return s.db.Close()
}

// UserPlaylists returns every playlist row with its raw track id list.
func (s *Store) UserPlaylists(ctx context.Context) ([]domain.PlaylistMembership, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT playlist_name, playlist_tracks FROM userPlaylists")
	if err != nil {
		return nil, fmt.Errorf("failed to load playlists: %w", err)
	}
	defer rows.Close()

	var out []domain.PlaylistMembership
	for rows.Next() {
		var name, tracks sql.NullString
		if err := rows.Scan(&name, &tracks); err != nil {
			return nil, fmt.Errorf("failed to scan playlist: %w", err)
		}
		out = append(out, domain.PlaylistMembership{Name: name.String, TracksJSON: tracks.String})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate playlists: %w", err)
	}
	return out, nil
}

// RecommendedTrackFeatures returns the candidate feed.
func (s *Store) RecommendedTrackFeatures(ctx context.Context) ([]domain.Track, error) {
	return s.loadTracks(ctx, "recommendedTracksFeatures", false)
}

// UserTrackFeatures returns the user's listening history.
func (s *Store) UserTrackFeatures(ctx context.Context) ([]domain.Track, error) {
	return s.loadTracks(ctx, "userTrackFeatures", true)
}

func (s *Store) loadTracks(ctx context.Context, table string, withFlags bool) ([]domain.Track, error) {
	cols := append([]string{"track_id", "genre"}, featureColumns()...)
	if withFlags {
		cols = append(cols, "top_track", "playlist_track")
	}
	// #nosec G202 -- table and column names are package constants
	query := "SELECT " + strings.Join(cols, ", ") + " FROM " + table

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", table, err)
	}
	defer rows.Close()

	var out []domain.Track
	for rows.Next() {
		var (
			id, genre              sql.NullString
			topTrack, playlistFlag sql.NullInt64
		)
		values := make([]sql.NullFloat64, len(domain.AudioFeatureNames))
		dest := []any{&id, &genre}
		for i := range values {
			dest = append(dest, &values[i])
		}
		if withFlags {
			dest = append(dest, &topTrack, &playlistFlag)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		if !id.Valid || id.String == "" {
			s.log.Warn().Str("table", table).Msg("skipping row without track_id")
			continue
		}

		track := domain.Track{
			ID:       id.String,
			Genre:    genre.String,
			Features: make(domain.AudioFeatures, len(values)),
		}
		for i, v := range values {
			if v.Valid {
				track.Features[domain.AudioFeatureNames[i]] = v.Float64
			}
		}
		if topTrack.Valid {
			track.TopTrack = domain.BoolPtr(topTrack.Int64 != 0)
		}
		if playlistFlag.Valid {
			track.PlaylistTrack = domain.BoolPtr(playlistFlag.Int64 != 0)
		}
		out = append(out, track)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", table, err)
	}
	return out, nil
}

// Publish replaces the user's stored recommendations with records.
// A run whose start precedes the last committed run for the same user is
// rejected with domain.ErrConcurrentRun so a slow run cannot clobber a
// newer result set.
func (s *Store) Publish(ctx context.Context, run domain.Run, records []domain.RecommendationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	started := run.StartedAt.UnixNano()
	if err := s.advanceGeneration(ctx, tx, run, started); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM sufficientAddToPlaylist WHERE user_id = ?", run.UserID); err != nil {
		return fmt.Errorf("failed to clear previous recommendations: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sufficientAddToPlaylist (user_id, track_id, track_name, image_url, run_id)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		owner := r.OwnerUserID
		if owner == "" {
			owner = run.UserID
		}
		if _, err := stmt.ExecContext(ctx, owner, r.TrackID, r.TrackName, r.ImageURL, run.ID); err != nil {
			return fmt.Errorf("failed to save recommendation %s: %w", r.TrackID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("transaction commit failed: %w", err)
	}
	s.log.Info().Str("run_id", run.ID).Str("user_id", run.UserID).Int("records", len(records)).Msg("recommendations published")
	return nil
}

func (s *Store) advanceGeneration(ctx context.Context, tx *sql.Tx, run domain.Run, started int64) error {
	query := "SELECT generation, started_at FROM recommendation_runs WHERE user_id = ?"
	if s.driver == DriverMySQL {
		query += " FOR UPDATE"
	}

	var generation, lastStarted int64
	err := tx.QueryRowContext(ctx, query, run.UserID).Scan(&generation, &lastStarted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recommendation_runs (user_id, generation, run_id, started_at)
			VALUES (?, 1, ?, ?)
		`, run.UserID, run.ID, started)
		if err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to read run generation: %w", err)
	}

	if lastStarted > started {
		return fmt.Errorf("run %s for user %s: newer run already committed: %w", run.ID, run.UserID, domain.ErrConcurrentRun)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE recommendation_runs
		SET generation = ?, run_id = ?, started_at = ?
		WHERE user_id = ? AND generation = ?
	`, generation+1, run.ID, started, run.UserID, generation)
	if err != nil {
		return fmt.Errorf("failed to advance run generation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s for user %s: %w", run.ID, run.UserID, domain.ErrConcurrentRun)
	}
	return nil
}

// Recommendations returns the stored result set of a user.
func (s *Store) Recommendations(ctx context.Context, userID string) ([]domain.RecommendationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT track_id, track_name, image_url, user_id
		FROM sufficientAddToPlaylist
		WHERE user_id = ?
		ORDER BY track_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load recommendations: %w", err)
	}
	defer rows.Close()

	var out []domain.RecommendationRecord
	for rows.Next() {
		var r domain.RecommendationRecord
		var name, image sql.NullString
		if err := rows.Scan(&r.TrackID, &name, &image, &r.OwnerUserID); err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		r.TrackName = name.String
		r.ImageURL = image.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recommendations: %w", err)
	}
	return out, nil
}

// featureColumns returns the quoted feature column names in table order.
func featureColumns() []string {
	cols := make([]string, len(domain.AudioFeatureNames))
	for i, f := range domain.AudioFeatureNames {
		cols[i] = quoteIdent(string(f))
	}
	return cols
}

// quoteIdent backtick-quotes a column name; "key" is reserved in MySQL and
// SQLite accepts the same quoting.
func quoteIdent(name string) string {
	return "`" + name + "`"
}
