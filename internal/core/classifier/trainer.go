// Package classifier trains a decision tree on the historical subset of a
// clustering pass and uses it to pick which candidate tracks to recommend.
package classifier

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/encore/internal/core/domain"
)

// Config controls the retrain loop.
type Config struct {
	MinAccuracy            float64
	MaxAttempts            int
	InitialMinSamplesSplit int
	// MinSamplesSplitRange is the inclusive range retries draw from.
	MinSamplesSplitRange [2]int
	HoldoutFraction      float64
	SplitSeed            uint64
	MaxDepth             int
	// BestEffort classifies with the most accurate tree when the target is
	// never reached instead of failing.
	BestEffort bool
}

// DefaultConfig mirrors the thresholds the recommender has always used.
func DefaultConfig() Config {
	return Config{
		MinAccuracy:            0.85,
		MaxAttempts:            10,
		InitialMinSamplesSplit: 25,
		MinSamplesSplitRange:   [2]int{10, 100},
		HoldoutFraction:        0.25,
		SplitSeed:              84,
		BestEffort:             true,
	}
}

// Input is one classification request.
type Input struct {
	Historical []domain.Row
	Candidates []domain.Row
	// TempoAvailable is false when no tempo could be normalized upstream.
	TempoAvailable bool
	// MinSamplesSplit overrides Config.InitialMinSamplesSplit when positive.
	MinSamplesSplit int
}

// Outcome describes the retrain loop.
type Outcome struct {
	Attempts        int
	Accuracy        float64
	MinSamplesSplit int
	ReachedTarget   bool
	Leaves          int
	Depth           int
}

// Result holds the classified candidates.
type Result struct {
	// Predictions maps candidate track id to predicted label.
	Predictions map[string]int
	// Positives are the candidate rows predicted 1, in candidate order.
	Positives []domain.Row
	Outcome   Outcome
}

// Trainer runs the bounded train/evaluate/retrain loop.
type Trainer struct {
	cfg Config
	rng *rand.Rand
	log zerolog.Logger
}

// NewTrainer builds a Trainer. rng drives the min_samples_split exploration.
func NewTrainer(cfg Config, rng *rand.Rand, log zerolog.Logger) *Trainer {
	def := DefaultConfig()
	if cfg.MinAccuracy <= 0 {
		cfg.MinAccuracy = def.MinAccuracy
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialMinSamplesSplit < 2 {
		cfg.InitialMinSamplesSplit = def.InitialMinSamplesSplit
	}
	if cfg.MinSamplesSplitRange[0] < 2 || cfg.MinSamplesSplitRange[1] < cfg.MinSamplesSplitRange[0] {
		cfg.MinSamplesSplitRange = def.MinSamplesSplitRange
	}
	if cfg.HoldoutFraction <= 0 || cfg.HoldoutFraction >= 1 {
		cfg.HoldoutFraction = def.HoldoutFraction
	}
	return &Trainer{cfg: cfg, rng: rng, log: log}
}

// BuildMatrix projects rows onto domain.ClassifierColumns and collects labels.
func BuildMatrix(rows []domain.Row) ([][]float64, []int) {
	X := make([][]float64, len(rows))
	y := make([]int, len(rows))
	for i, r := range rows {
		X[i] = r.Vector.Project(domain.ClassifierColumns, nil)
		y[i] = r.Label
	}
	return X, y
}

// TrainAndClassify fits trees until in-sample accuracy reaches the target or
// the attempt budget runs out, then classifies the candidates.
func (t *Trainer) TrainAndClassify(ctx context.Context, in Input) (*Result, error) {
	switch {
	case !in.TempoAvailable:
		return nil, &domain.DataUnavailableError{Reason: "tempo_0_1 could not be computed"}
	case len(in.Historical) == 0:
		return nil, &domain.DataUnavailableError{Reason: "historical subset is empty"}
	case len(in.Candidates) == 0:
		return nil, &domain.DataUnavailableError{Reason: "candidate subset is empty"}
	}

	X, y := BuildMatrix(in.Historical)
	P, _ := BuildMatrix(in.Candidates)
	evalIdx := trainingIndices(len(X), t.cfg.HoldoutFraction, t.cfg.SplitSeed)

	mss := in.MinSamplesSplit
	if mss <= 0 {
		mss = t.cfg.InitialMinSamplesSplit
	}

	var best *Tree
	outcome := Outcome{Accuracy: -1}
	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("classifier: %w", err)
		}

		tree, err := FitTree(X, y, TreeConfig{MinSamplesSplit: mss, MaxDepth: t.cfg.MaxDepth})
		if err != nil {
			return nil, err
		}
		score := accuracy(tree, X, y, evalIdx)
		t.log.Info().
			Int("attempt", attempt).
			Int("min_samples_split", mss).
			Float64("score", score).
			Int("leaves", tree.Leaves()).
			Msg("decision tree scored")

		outcome.Attempts = attempt
		if score > outcome.Accuracy {
			best = tree
			outcome.Accuracy = score
			outcome.MinSamplesSplit = mss
			outcome.Leaves = tree.Leaves()
			outcome.Depth = tree.Depth()
		}
		if score >= t.cfg.MinAccuracy {
			outcome.ReachedTarget = true
			break
		}

		lo, hi := t.cfg.MinSamplesSplitRange[0], t.cfg.MinSamplesSplitRange[1]
		mss = lo + t.rng.IntN(hi-lo+1)
	}

	if !outcome.ReachedTarget {
		notReached := &domain.AccuracyNotReachedError{
			Best:     outcome.Accuracy,
			Target:   t.cfg.MinAccuracy,
			Attempts: outcome.Attempts,
		}
		if !t.cfg.BestEffort {
			return nil, notReached
		}
		t.log.Warn().Err(notReached).Int("min_samples_split", outcome.MinSamplesSplit).Msg("classifying with best-effort tree")
	}

	res := &Result{
		Predictions: make(map[string]int, len(in.Candidates)),
		Outcome:     outcome,
	}
	for i, pred := range best.PredictAll(P) {
		row := in.Candidates[i]
		res.Predictions[row.TrackID] = pred
		if pred == 1 {
			res.Positives = append(res.Positives, row)
		}
	}
	return res, nil
}

// trainingIndices returns the shuffled training part of a holdout split.
// The split is seeded so the same data always scores the same way.
func trainingIndices(n int, holdout float64, seed uint64) []int {
	perm := rand.New(rand.NewPCG(seed, seed)).Perm(n)
	nTest := int(math.Ceil(holdout * float64(n)))
	if nTest >= n {
		return perm
	}
	return perm[nTest:]
}

func accuracy(tree *Tree, X [][]float64, y []int, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	correct := 0
	for _, i := range idx {
		if tree.Predict(X[i]) == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(idx))
}
