// Package artifact writes recommendations to a line-oriented flat file:
// one "label,track_name,image_url,track_id" record per line.
package artifact

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/encore/internal/core/domain"
	"github.com/ewilliams-labs/encore/internal/core/ports"
	"github.com/ewilliams-labs/encore/internal/logging"
)

// Mode selects how Publish opens the file.
type Mode string

const (
	// ModeOverwrite truncates the file on every run.
	ModeOverwrite Mode = "overwrite"
	// ModeAppend adds the run's records after existing lines.
	ModeAppend Mode = "append"
)

// DefaultLabel is written in the first field of every line.
const DefaultLabel = "Recommended"

const fieldsPerLine = 4

// Line is one parsed artifact record.
type Line struct {
	Label     string
	TrackName string
	ImageURL  string
	TrackID   string
}

// Group holds the lines sharing a label, in file order.
type Group struct {
	Label string
	Lines []Line
}

// Writer is a recommendation sink backed by a flat file.
type Writer struct {
	path  string
	label string
	mode  Mode
	log   zerolog.Logger
}

// compile-time interface assertion
var _ ports.RecommendationSink = (*Writer)(nil)

// NewWriter returns a Writer for path. An empty label falls back to
// DefaultLabel and an empty mode to ModeOverwrite.
func NewWriter(path, label string, mode Mode) *Writer {
	if label == "" {
		label = DefaultLabel
	}
	if mode == "" {
		mode = ModeOverwrite
	}
	return &Writer{path: path, label: label, mode: mode, log: logging.Component("artifact")}
}

// Path returns the file the writer targets.
func (w *Writer) Path() string {
	return w.path
}

// Publish writes one line per record.
func (w *Writer) Publish(ctx context.Context, run domain.Run, records []domain.RecommendationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir := filepath.Dir(w.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create artifact dir: %w", err)
		}
	}

	lines := make([]Line, len(records))
	for i, r := range records {
		lines[i] = Line{Label: w.label, TrackName: r.TrackName, ImageURL: r.ImageURL, TrackID: r.TrackID}
	}

	var err error
	switch w.mode {
	case ModeAppend:
		err = appendLines(w.path, lines)
	case ModeOverwrite:
		err = replaceFile(w.path, lines)
	default:
		err = fmt.Errorf("unknown artifact mode %q", w.mode)
	}
	if err != nil {
		return err
	}

	w.log.Info().Str("run_id", run.ID).Str("path", w.path).Str("mode", string(w.mode)).Int("records", len(records)).Msg("artifact written")
	return nil
}

// Read parses the artifact and groups lines by label in order of first
// appearance. A missing file reads as empty.
func Read(path string) ([]Group, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	var groups []Group
	index := make(map[string]int)
	for _, l := range lines {
		i, ok := index[l.Label]
		if !ok {
			i = len(groups)
			index[l.Label] = i
			groups = append(groups, Group{Label: l.Label})
		}
		groups[i].Lines = append(groups[i].Lines, l)
	}
	return groups, nil
}

// Remove rewrites the artifact without the given track ids and reports how
// many lines were dropped.
func Remove(path string, trackIDs ...string) (int, error) {
	lines, err := readLines(path)
	if err != nil {
		return 0, err
	}

	drop := make(map[string]struct{}, len(trackIDs))
	for _, id := range trackIDs {
		drop[id] = struct{}{}
	}

	kept := lines[:0]
	for _, l := range lines {
		if _, ok := drop[l.TrackID]; ok {
			continue
		}
		kept = append(kept, l)
	}
	removed := len(lines) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := replaceFile(path, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

func readLines(path string) ([]Line, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = fieldsPerLine

	var lines []Line
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse artifact: %w", err)
		}
		lines = append(lines, Line{Label: rec[0], TrackName: rec[1], ImageURL: rec[2], TrackID: rec[3]})
	}
	return lines, nil
}

func appendLines(path string, lines []Line) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G304 -- path comes from operator config
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	if err := writeLines(f, lines); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// replaceFile writes lines to a temp file in the same directory and renames
// it over path so readers never see a partial file.
func replaceFile(path string, lines []Line) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after rename

	if err := writeLines(tmp, lines); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace artifact: %w", err)
	}
	return nil
}

func writeLines(w io.Writer, lines []Line) error {
	cw := csv.NewWriter(w)
	for _, l := range lines {
		if err := cw.Write([]string{l.Label, l.TrackName, l.ImageURL, l.TrackID}); err != nil {
			return fmt.Errorf("write artifact line: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush artifact: %w", err)
	}
	return nil
}
