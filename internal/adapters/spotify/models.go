package spotify

// spotifyImage is one entry of an album's image list, largest first.
type spotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type spotifyAlbum struct {
	Name   string         `json:"name"`
	Images []spotifyImage `json:"images"`
}

// spotifyTrack represents the Spotify API response for a track.
type spotifyTrack struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Album spotifyAlbum `json:"album"`
}

// spotifyUser represents the /me response.
type spotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}
