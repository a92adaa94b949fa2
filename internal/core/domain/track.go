package domain

// Feature names a numeric audio attribute as it is stored in the feature tables.
type Feature string

const (
	Danceability     Feature = "danceability"
	Energy           Feature = "energy"
	Key              Feature = "key"
	Speechiness      Feature = "speechiness"
	Acousticness     Feature = "acousticness"
	Instrumentalness Feature = "instrumentalness"
	Liveness         Feature = "liveness"
	Valence          Feature = "valence"
	Tempo            Feature = "tempo"
	Popularity       Feature = "popularity"
)

// AudioFeatureNames lists every numeric feature column in table order.
var AudioFeatureNames = []Feature{
	Danceability, Energy, Key, Speechiness, Acousticness,
	Instrumentalness, Liveness, Valence, Tempo, Popularity,
}

// AudioFeatures holds the numeric features known for a track.
// A feature that is absent from the map is missing in the source row.
type AudioFeatures map[Feature]float64

// Get returns the feature value and whether it is present.
func (f AudioFeatures) Get(name Feature) (float64, bool) {
	if f == nil {
		return 0, false
	}
	v, ok := f[name]
	return v, ok
}

// Partition separates listening history from newly proposed tracks.
type Partition int

const (
	// Historical rows come from the user's own tracks (recommended=0).
	Historical Partition = 0
	// Candidate rows come from the recommendation feed (recommended=1).
	Candidate Partition = 1
)

func (p Partition) String() string {
	if p == Candidate {
		return "candidate"
	}
	return "historical"
}

// Track represents a musical track in the domain layer.
type Track struct {
	ID       string
	Genre    string // empty when unknown
	Features AudioFeatures

	// TopTrack is only known for historical tracks.
	TopTrack *bool
	// PlaylistTrack is the classifier label; only known for historical tracks.
	PlaylistTrack *bool
}

// TrackDetails is the display metadata the catalog returns for a track.
type TrackDetails struct {
	Name     string
	ImageURL string
}

// BoolPtr is a small helper for building tracks with optional flags.
func BoolPtr(v bool) *bool {
	return &v
}
