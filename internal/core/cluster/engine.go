package cluster

import (
	"math/rand/v2"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/encore/internal/core/domain"
)

// Selection is the outcome of one clustering pass.
type Selection struct {
	Clusters int
	// Assignment maps track id to cluster id.
	Assignment map[string]int
	Counts     []int
	Selected   []int
	Historical []domain.Row
	Candidates []domain.Row
	Summaries  []Summary
}

// Engine clusters the combined track set and chooses the working subset.
type Engine struct {
	linkage Linkage
	rng     *rand.Rand
	log     zerolog.Logger
}

// NewEngine builds an Engine. rng drives the exploratory cluster pick.
func NewEngine(linkage Linkage, rng *rand.Rand, log zerolog.Logger) *Engine {
	if linkage == "" {
		linkage = Ward
	}
	return &Engine{linkage: linkage, rng: rng, log: log}
}

// Cluster groups rows into nClusters clusters over domain.ClusterColumns and
// returns the rows of the selected clusters, split by partition. Returned
// rows are copies with cluster_id filled in.
func (e *Engine) Cluster(rows []domain.Row, nClusters int) (*Selection, error) {
	if len(rows) == 0 {
		return nil, &domain.DataUnavailableError{Reason: "no encoded rows to cluster"}
	}

	k := nClusters
	if k > len(rows) {
		e.log.Warn().Int("requested", nClusters).Int("rows", len(rows)).Msg("fewer rows than clusters; clamping")
		k = len(rows)
	}

	points := make([][]float64, len(rows))
	for i, r := range rows {
		points[i] = r.Vector.Project(domain.ClusterColumns, nil)
	}

	labels, err := Agglomerative(points, k, e.linkage)
	if err != nil {
		return nil, err
	}

	sel := &Selection{
		Clusters:   k,
		Assignment: make(map[string]int, len(rows)),
		Counts:     make([]int, k),
	}
	labelled := make([]domain.Row, len(rows))
	for i, r := range rows {
		r.Vector[domain.ColClusterID] = float64(labels[i])
		labelled[i] = r
		sel.Assignment[r.TrackID] = labels[i]
		sel.Counts[labels[i]]++
	}

	sel.Selected = SelectClusters(sel.Counts, e.rng)
	chosen := make(map[int]struct{}, len(sel.Selected))
	for _, id := range sel.Selected {
		chosen[id] = struct{}{}
	}
	for i, r := range labelled {
		if _, ok := chosen[labels[i]]; !ok {
			continue
		}
		if r.Partition == domain.Candidate {
			sel.Candidates = append(sel.Candidates, r)
		} else {
			sel.Historical = append(sel.Historical, r)
		}
	}

	sel.Summaries = Summarize(labelled, labels, k)
	for _, s := range sel.Summaries {
		e.log.Debug().Int("cluster", s.ID).Int("size", s.Size).Str("mood", s.Mood).Msg("cluster summary")
	}
	e.log.Info().
		Int("clusters", k).
		Ints("selected", sel.Selected).
		Int("historical", len(sel.Historical)).
		Int("candidates", len(sel.Candidates)).
		Msg("clusters selected")

	return sel, nil
}

// SelectClusters returns the two most populous cluster ids (ties by lower id)
// followed by one exploratory id drawn from [2, k-1], or from [0, k) when
// k <= 2. Duplicates are dropped, so at most three distinct ids come back.
func SelectClusters(counts []int, rng *rand.Rand) []int {
	k := len(counts)
	if k == 0 {
		return nil
	}

	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })

	top := 2
	if k < top {
		top = k
	}
	selected := append([]int(nil), order[:top]...)

	var extra int
	if k > 2 {
		extra = 2 + rng.IntN(k-2)
	} else {
		extra = rng.IntN(k)
	}
	for _, id := range selected {
		if id == extra {
			return selected
		}
	}
	return append(selected, extra)
}
