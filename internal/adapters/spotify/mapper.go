package spotify

import "github.com/ewilliams-labs/encore/internal/core/domain"

// mapTrackDetails flattens a raw Spotify track into display metadata.
// The second album image is the medium size; single-image albums fall back
// to the only one they have.
func mapTrackDetails(st spotifyTrack) domain.TrackDetails {
	imageURL := ""
	switch images := st.Album.Images; {
	case len(images) > 1:
		imageURL = images[1].URL
	case len(images) == 1:
		imageURL = images[0].URL
	}

	return domain.TrackDetails{
		Name:     st.Name,
		ImageURL: imageURL,
	}
}
