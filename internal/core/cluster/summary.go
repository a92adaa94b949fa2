package cluster

import "github.com/ewilliams-labs/encore/internal/core/domain"

// Summary describes a cluster by size and centroid mood.
type Summary struct {
	ID           int
	Size         int
	Energy       float64
	Valence      float64
	Acousticness float64
	Mood         string
}

// Summarize computes per-cluster centroids of the mood-bearing features.
func Summarize(rows []domain.Row, labels []int, k int) []Summary {
	out := make([]Summary, k)
	for i := range out {
		out[i].ID = i
	}
	for i, r := range rows {
		s := &out[labels[i]]
		s.Size++
		s.Energy += r.Vector[domain.ColEnergy]
		s.Valence += r.Vector[domain.ColValence]
		s.Acousticness += r.Vector[domain.ColAcousticness]
	}
	for i := range out {
		s := &out[i]
		if s.Size > 0 {
			n := float64(s.Size)
			s.Energy /= n
			s.Valence /= n
			s.Acousticness /= n
		}
		s.Mood = moodName(s.Energy, s.Valence, s.Acousticness)
	}
	return out
}

// moodName uses an energy/valence quadrant with an acoustic modifier.
func moodName(energy, valence, acousticness float64) string {
	var name string
	switch {
	case energy > 0.6 && valence > 0.5:
		name = "Upbeat Party"
	case energy > 0.6:
		name = "Intense & Dark"
	case valence > 0.5:
		name = "Chill & Happy"
	default:
		name = "Reflective & Melancholy"
	}
	if acousticness > 0.6 {
		return name + " (Acoustic)"
	}
	return name
}
