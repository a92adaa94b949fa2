package domain

// MissingValue replaces any modeling value that is absent after encoding.
// It is a neutral mid-range default, not an imputation.
const MissingValue = 0.5

// Column indexes a FeatureVector.
type Column int

const (
	ColDanceability Column = iota
	ColEnergy
	ColKey
	ColSpeechiness
	ColAcousticness
	ColInstrumentalness
	ColLiveness
	ColValence
	ColPopularity
	ColTempo01
	ColTopTrack
	ColPlaylistCode
	ColGenreCode
	ColClusterID

	NumColumns
)

var columnNames = [NumColumns]string{
	"danceability", "energy", "key", "speechiness", "acousticness",
	"instrumentalness", "liveness", "valence", "popularity", "tempo_0_1",
	"top_track", "playlist_code", "genre_code", "cluster_id",
}

func (c Column) String() string {
	if c < 0 || c >= NumColumns {
		return "unknown"
	}
	return columnNames[c]
}

// FeatureVector is the fully numeric projection of a track.
type FeatureVector [NumColumns]float64

// Project copies the selected columns into dst, allocating when dst is short.
func (v FeatureVector) Project(cols []Column, dst []float64) []float64 {
	if cap(dst) < len(cols) {
		dst = make([]float64, len(cols))
	}
	dst = dst[:len(cols)]
	for i, c := range cols {
		dst[i] = v[c]
	}
	return dst
}

// ClusterColumns are the 13 dimensions used for agglomerative clustering.
var ClusterColumns = []Column{
	ColDanceability, ColEnergy, ColKey, ColSpeechiness, ColAcousticness,
	ColInstrumentalness, ColLiveness, ColValence, ColTempo01, ColPopularity,
	ColTopTrack, ColPlaylistCode, ColGenreCode,
}

// ClassifierColumns are the 13 dimensions the decision tree is trained on.
// playlist_code is left out because it encodes the label.
var ClassifierColumns = []Column{
	ColDanceability, ColEnergy, ColKey, ColSpeechiness, ColAcousticness,
	ColInstrumentalness, ColLiveness, ColValence, ColTempo01, ColPopularity,
	ColGenreCode, ColTopTrack, ColClusterID,
}

// Row is one encoded track in the analysis frame.
type Row struct {
	TrackID   string
	Partition Partition
	// Label is playlist_track (1 when the track sits in one of the user's playlists).
	Label  int
	Vector FeatureVector
}
