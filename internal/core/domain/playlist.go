package domain

// PlaylistMembership is a raw userPlaylists row: a playlist name and the
// JSON-encoded list of its track ids.
type PlaylistMembership struct {
	Name       string
	TracksJSON string
}

// Playlist is a decoded membership row.
type Playlist struct {
	Name     string
	TrackIDs []string
}

// Precedence decides which playlist wins when a track appears in several.
type Precedence string

const (
	// PrecedenceLast keeps the playlist read last.
	PrecedenceLast Precedence = "last"
	// PrecedenceFirst keeps the playlist read first.
	PrecedenceFirst Precedence = "first"
)

// AssignPlaylists maps each track id to a single playlist name and reports
// how many tracks were claimed by more than one playlist.
func AssignPlaylists(playlists []Playlist, precedence Precedence) (map[string]string, int) {
	owner := make(map[string]string)
	conflicted := make(map[string]struct{})
	for _, p := range playlists {
		for _, id := range p.TrackIDs {
			prev, seen := owner[id]
			if seen && prev != p.Name {
				conflicted[id] = struct{}{}
			}
			if seen && precedence == PrecedenceFirst {
				continue
			}
			owner[id] = p.Name
		}
	}
	return owner, len(conflicted)
}
