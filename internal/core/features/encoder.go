// Package features joins the raw feature tables into one numeric analysis
// frame: playlist and genre ordinal codes, tempo scaled to [0,1], and every
// missing modeling value filled with domain.MissingValue.
package features

import (
	"fmt"
	"math"

	"github.com/goccy/go-json"

	"github.com/ewilliams-labs/encore/internal/core/domain"
)

// Options tunes the encoder.
type Options struct {
	Precedence domain.Precedence
}

// Frame is the unified, fully numeric table handed to clustering.
type Frame struct {
	Rows []domain.Row
	// HasTempo is false when no row carried a numeric tempo; tempo_0_1 is
	// then only the default fill.
	HasTempo bool

	Playlists         []string
	Genres            []string
	Conflicts         int
	DroppedCandidates int
}

// Split returns the historical and candidate rows, preserving order.
func (f *Frame) Split() (historical, candidates []domain.Row) {
	for _, r := range f.Rows {
		if r.Partition == domain.Candidate {
			candidates = append(candidates, r)
		} else {
			historical = append(historical, r)
		}
	}
	return historical, candidates
}

// DecodePlaylists deserializes the JSON track lists of every membership row.
func DecodePlaylists(rows []domain.PlaylistMembership) ([]domain.Playlist, error) {
	out := make([]domain.Playlist, 0, len(rows))
	for _, row := range rows {
		var ids []string
		if err := json.Unmarshal([]byte(row.TracksJSON), &ids); err != nil {
			return nil, &domain.DataUnavailableError{
				Reason: fmt.Sprintf("playlist %q has malformed track list: %v", row.Name, err),
			}
		}
		out = append(out, domain.Playlist{Name: row.Name, TrackIDs: ids})
	}
	return out, nil
}

// Encode builds the analysis frame. Historical rows come first, followed by
// the candidate rows, mirroring the order the two tables are combined in.
func Encode(memberships []domain.PlaylistMembership, candidates, historical []domain.Track, opts Options) (*Frame, error) {
	if opts.Precedence == "" {
		opts.Precedence = domain.PrecedenceLast
	}

	playlists, err := DecodePlaylists(memberships)
	if err != nil {
		return nil, err
	}
	owner, conflicts := domain.AssignPlaylists(playlists, opts.Precedence)

	names := make([]string, 0, len(owner))
	for _, name := range owner {
		names = append(names, name)
	}
	playlistEnc := FitOrdinal(names)

	inHistory := make(map[string]struct{}, len(historical))
	for _, t := range historical {
		inHistory[t.ID] = struct{}{}
	}

	type sourced struct {
		track     domain.Track
		partition domain.Partition
	}
	combined := make([]sourced, 0, len(historical)+len(candidates))
	for _, t := range historical {
		combined = append(combined, sourced{track: t, partition: domain.Historical})
	}
	dropped := 0
	for _, t := range candidates {
		if _, dup := inHistory[t.ID]; dup {
			dropped++
			continue
		}
		combined = append(combined, sourced{track: t, partition: domain.Candidate})
	}

	if len(combined) == 0 {
		return nil, &domain.DataUnavailableError{Reason: "feature store returned no tracks"}
	}

	tracks := make([]domain.Track, len(combined))
	genres := make([]string, len(combined))
	for i, s := range combined {
		tracks[i] = s.track
		genres[i] = s.track.Genre
	}
	genreEnc := FitOrdinal(genres)
	tempoScale := fitTempo(tracks)

	frame := &Frame{
		Rows:              make([]domain.Row, 0, len(combined)),
		HasTempo:          tempoScale.ok,
		Playlists:         playlistEnc.Categories(),
		Genres:            genreEnc.Categories(),
		Conflicts:         conflicts,
		DroppedCandidates: dropped,
	}

	for _, s := range combined {
		t := s.track
		row := domain.Row{TrackID: t.ID, Partition: s.partition}
		if s.partition == domain.Historical && t.PlaylistTrack != nil && *t.PlaylistTrack {
			row.Label = 1
		}

		v := &row.Vector
		v[domain.ColDanceability] = numeric(t.Features, domain.Danceability)
		v[domain.ColEnergy] = numeric(t.Features, domain.Energy)
		v[domain.ColKey] = numeric(t.Features, domain.Key)
		v[domain.ColSpeechiness] = numeric(t.Features, domain.Speechiness)
		v[domain.ColAcousticness] = numeric(t.Features, domain.Acousticness)
		v[domain.ColInstrumentalness] = numeric(t.Features, domain.Instrumentalness)
		v[domain.ColLiveness] = numeric(t.Features, domain.Liveness)
		v[domain.ColValence] = numeric(t.Features, domain.Valence)
		v[domain.ColPopularity] = numeric(t.Features, domain.Popularity)
		v[domain.ColTempo01] = tempoScale.apply(t.Features)

		v[domain.ColTopTrack] = domain.MissingValue
		if t.TopTrack != nil {
			v[domain.ColTopTrack] = boolValue(*t.TopTrack)
		}

		v[domain.ColPlaylistCode] = domain.MissingValue
		if name, ok := owner[t.ID]; ok && s.partition == domain.Historical {
			if code, ok := playlistEnc.Transform(name); ok {
				v[domain.ColPlaylistCode] = code
			}
		}

		v[domain.ColGenreCode] = domain.MissingValue
		if code, ok := genreEnc.Transform(t.Genre); ok {
			v[domain.ColGenreCode] = code
		}

		frame.Rows = append(frame.Rows, row)
	}

	return frame, nil
}

type tempoScaler struct {
	min, max float64
	ok       bool
}

func fitTempo(tracks []domain.Track) tempoScaler {
	s := tempoScaler{min: math.Inf(1), max: math.Inf(-1)}
	for _, t := range tracks {
		v, ok := finite(t.Features, domain.Tempo)
		if !ok {
			continue
		}
		s.ok = true
		s.min = math.Min(s.min, v)
		s.max = math.Max(s.max, v)
	}
	return s
}

// apply scales tempo to [0,1]. A zero range leaves the value missing.
func (s tempoScaler) apply(f domain.AudioFeatures) float64 {
	v, ok := finite(f, domain.Tempo)
	if !ok || !s.ok || s.max == s.min {
		return domain.MissingValue
	}
	return (v - s.min) / (s.max - s.min)
}

func numeric(f domain.AudioFeatures, name domain.Feature) float64 {
	if v, ok := finite(f, name); ok {
		return v
	}
	return domain.MissingValue
}

func finite(f domain.AudioFeatures, name domain.Feature) (float64, bool) {
	v, ok := f.Get(name)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
