// Package services wires the recommender stages into one pipeline run.
package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/encore/internal/config"
	"github.com/ewilliams-labs/encore/internal/core/classifier"
	"github.com/ewilliams-labs/encore/internal/core/cluster"
	"github.com/ewilliams-labs/encore/internal/core/domain"
	"github.com/ewilliams-labs/encore/internal/core/features"
	"github.com/ewilliams-labs/encore/internal/core/ports"
	"github.com/ewilliams-labs/encore/internal/logging"
	"github.com/ewilliams-labs/encore/internal/metrics"
)

// Deps are the collaborators a Pipeline runs against.
type Deps struct {
	Store   ports.FeatureStore
	Catalog ports.CatalogProvider
	// Sinks receive the records in order; the first failure aborts the run.
	Sinks  []ports.RecommendationSink
	Locker ports.RunLocker
	// Metrics is optional.
	Metrics *metrics.Recorder
	// Rand drives cluster selection, re-cluster counts and retrain draws.
	// Nil seeds one from config.Run.RandomSeed.
	Rand *rand.Rand
	// Now defaults to time.Now.
	Now func() time.Time
}

// Request is one pipeline invocation.
type Request struct {
	// UserID falls back to the configured user, then to the catalog's /me.
	UserID string
	// Clusters overrides the configured cluster count when positive.
	Clusters int
}

// Result summarizes a finished run.
type Result struct {
	Run        domain.Run
	Records    []domain.RecommendationRecord
	Selected   []int
	Summaries  []cluster.Summary
	Reclusters int
	Classifier classifier.Outcome
	// Skipped lists lookups that failed and were left out of Records.
	Skipped []Enrichment
}

// Pipeline coordinates the feature store, clustering, classification,
// enrichment and sinks.
type Pipeline struct {
	cfg      *config.Config
	deps     Deps
	linkage  cluster.Linkage
	enricher *Enricher
	log      zerolog.Logger
}

// NewPipeline validates the static parts of cfg and builds a Pipeline.
func NewPipeline(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("service: nil config")
	}
	if deps.Store == nil || deps.Catalog == nil || deps.Locker == nil {
		return nil, errors.New("service: store, catalog and locker are required")
	}
	linkage, err := cluster.ParseLinkage(cfg.Clustering.Linkage)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	if deps.Rand == nil {
		seed := cfg.Run.RandomSeed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		deps.Rand = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	log := logging.Component("pipeline")
	return &Pipeline{
		cfg:     cfg,
		deps:    deps,
		linkage: linkage,
		enricher: NewEnricher(deps.Catalog, EnrichConfig{
			MaxAttempts: cfg.Enrichment.MaxAttempts,
			Backoff:     cfg.EnrichBackoff(),
		}, logging.Component("enrich")),
		log: log,
	}, nil
}

// Run executes the pipeline once for one user.
func (p *Pipeline) Run(ctx context.Context, req Request) (res *Result, err error) {
	start := p.deps.Now()
	degraded := false
	defer func() {
		p.finish(start, err, degraded)
	}()

	userID, err := p.resolveUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	release, err := p.deps.Locker.Acquire(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	defer func() {
		if rerr := release(); rerr != nil {
			p.log.Warn().Err(rerr).Str("user_id", userID).Msg("failed to release run lock")
		}
	}()

	run := domain.Run{ID: uuid.NewString(), UserID: userID, StartedAt: start}
	log := p.log.With().Str("run_id", run.ID).Str("user_id", userID).Logger()
	log.Info().Msg("run started")

	frame, err := p.load(ctx, log)
	if err != nil {
		return nil, err
	}

	nClusters := req.Clusters
	if nClusters <= 0 {
		nClusters = p.cfg.Clustering.NClusters
	}
	sel, classified, reclusters, err := p.classify(ctx, log, frame, nClusters)
	if err != nil {
		return nil, err
	}
	run.Clusters = sel.Clusters
	degraded = !classified.Outcome.ReachedTarget

	res = &Result{
		Run:        run,
		Selected:   sel.Selected,
		Summaries:  sel.Summaries,
		Reclusters: reclusters,
		Classifier: classified.Outcome,
	}

	stageStart := time.Now()
	ids := make([]string, len(classified.Positives))
	for i, r := range classified.Positives {
		ids[i] = r.TrackID
	}
	enriched, err := p.enricher.Enrich(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	p.observeStage("enrich", stageStart)

	for _, e := range enriched {
		p.countLookup(e)
		if e.Err != nil {
			res.Skipped = append(res.Skipped, e)
			continue
		}
		res.Records = append(res.Records, domain.RecommendationRecord{
			TrackID:     e.TrackID,
			TrackName:   e.Details.Name,
			ImageURL:    e.Details.ImageURL,
			OwnerUserID: userID,
		})
	}
	if len(ids) > 0 && len(res.Records) == 0 {
		return nil, fmt.Errorf("service: all %d lookups failed: %w", len(ids), domain.ErrCatalogLookupFailure)
	}
	if len(res.Skipped) > 0 {
		degraded = true
	}

	stageStart = time.Now()
	for _, sink := range p.deps.Sinks {
		if err := sink.Publish(ctx, run, res.Records); err != nil {
			return nil, fmt.Errorf("service: failed to publish: %w", err)
		}
	}
	p.observeStage("publish", stageStart)

	if p.deps.Metrics != nil {
		p.deps.Metrics.Recommendations.Set(float64(len(res.Records)))
	}
	log.Info().
		Int("records", len(res.Records)).
		Int("skipped", len(res.Skipped)).
		Int("reclusters", reclusters).
		Float64("accuracy", classified.Outcome.Accuracy).
		Msg("run finished")
	return res, nil
}

func (p *Pipeline) resolveUser(ctx context.Context, userID string) (string, error) {
	if userID != "" {
		return userID, nil
	}
	if p.cfg.Run.UserID != "" {
		return p.cfg.Run.UserID, nil
	}
	id, err := p.deps.Catalog.CurrentUserID(ctx)
	if err != nil {
		return "", fmt.Errorf("service: failed to resolve user: %w", err)
	}
	return id, nil
}

func (p *Pipeline) load(ctx context.Context, log zerolog.Logger) (*features.Frame, error) {
	stageStart := time.Now()
	playlists, err := p.deps.Store.UserPlaylists(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load playlists: %w", err)
	}
	candidates, err := p.deps.Store.RecommendedTrackFeatures(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load candidate features: %w", err)
	}
	history, err := p.deps.Store.UserTrackFeatures(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load history features: %w", err)
	}

	frame, err := features.Encode(playlists, candidates, history, features.Options{
		Precedence: domain.Precedence(p.cfg.Clustering.PlaylistPrecedence),
	})
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	p.observeStage("encode", stageStart)

	historical, cands := frame.Split()
	if p.deps.Metrics != nil {
		p.deps.Metrics.Tracks.WithLabelValues(domain.Historical.String()).Set(float64(len(historical)))
		p.deps.Metrics.Tracks.WithLabelValues(domain.Candidate.String()).Set(float64(len(cands)))
	}
	if frame.Conflicts > 0 {
		log.Warn().Int("tracks", frame.Conflicts).Str("precedence", p.cfg.Clustering.PlaylistPrecedence).Msg("tracks claimed by several playlists")
	}
	log.Info().
		Int("historical", len(historical)).
		Int("candidates", len(cands)).
		Int("dropped_candidates", frame.DroppedCandidates).
		Bool("tempo", frame.HasTempo).
		Msg("features encoded")

	// Re-clustering cannot fix these, so they end the run right away.
	switch {
	case !frame.HasTempo:
		return nil, fmt.Errorf("service: %w", &domain.DataUnavailableError{Reason: "tempo missing on both sides"})
	case len(historical) == 0:
		return nil, fmt.Errorf("service: %w", &domain.DataUnavailableError{Reason: "historical subset is empty"})
	case len(cands) == 0:
		return nil, fmt.Errorf("service: %w", &domain.DataUnavailableError{Reason: "candidate subset is empty"})
	}
	return frame, nil
}

// classify clusters and trains, re-clustering with a random count while the
// selected clusters lack usable data.
func (p *Pipeline) classify(ctx context.Context, log zerolog.Logger, frame *features.Frame, nClusters int) (*cluster.Selection, *classifier.Result, int, error) {
	engine := cluster.NewEngine(p.linkage, p.deps.Rand, logging.Component("cluster"))
	trainer := classifier.NewTrainer(classifier.Config{
		MinAccuracy:            p.cfg.Classifier.MinAccuracy,
		MaxAttempts:            p.cfg.Classifier.MaxRetrainAttempts,
		InitialMinSamplesSplit: p.cfg.Classifier.InitialMinSamplesSplit,
		MinSamplesSplitRange:   p.cfg.Classifier.MinSamplesSplitRange,
		HoldoutFraction:        p.cfg.Classifier.HoldoutFraction,
		SplitSeed:              p.cfg.Classifier.SplitSeed,
		MaxDepth:               p.cfg.Classifier.MaxDepth,
		BestEffort:             p.cfg.Classifier.BestEffort,
	}, p.deps.Rand, logging.Component("classifier"))

	k := nClusters
	var lastErr error
	for attempt := 0; attempt <= p.cfg.Clustering.MaxReclusterAttempts; attempt++ {
		if attempt > 0 {
			lo, hi := p.cfg.Clustering.ClusterCountRange[0], p.cfg.Clustering.ClusterCountRange[1]
			k = lo + p.deps.Rand.IntN(hi-lo+1)
			if p.deps.Metrics != nil {
				p.deps.Metrics.Reclusters.Inc()
			}
			log.Warn().Err(lastErr).Int("attempt", attempt).Int("clusters", k).Msg("re-clustering")
		}

		stageStart := time.Now()
		sel, err := engine.Cluster(frame.Rows, k)
		if err != nil {
			return nil, nil, attempt, fmt.Errorf("service: %w", err)
		}
		p.observeStage("cluster", stageStart)

		stageStart = time.Now()
		res, err := trainer.TrainAndClassify(ctx, classifier.Input{
			Historical:     sel.Historical,
			Candidates:     sel.Candidates,
			TempoAvailable: frame.HasTempo,
		})
		p.observeStage("classify", stageStart)
		if err == nil {
			if p.deps.Metrics != nil {
				p.deps.Metrics.ClassifierAttempts.Set(float64(res.Outcome.Attempts))
				p.deps.Metrics.ClassifierAccuracy.Set(res.Outcome.Accuracy)
			}
			return sel, res, attempt, nil
		}
		if !errors.Is(err, domain.ErrDataUnavailable) {
			return nil, nil, attempt, fmt.Errorf("service: %w", err)
		}
		lastErr = err
	}

	return nil, nil, p.cfg.Clustering.MaxReclusterAttempts,
		fmt.Errorf("service: gave up after %d re-clusters: %w", p.cfg.Clustering.MaxReclusterAttempts, lastErr)
}

func (p *Pipeline) countLookup(e Enrichment) {
	if p.deps.Metrics == nil {
		return
	}
	switch {
	case e.Err != nil:
		p.deps.Metrics.EnrichLookups.WithLabelValues(metrics.LookupFailed).Inc()
	case e.Attempts > 1:
		p.deps.Metrics.EnrichLookups.WithLabelValues(metrics.LookupRetried).Inc()
	default:
		p.deps.Metrics.EnrichLookups.WithLabelValues(metrics.LookupOK).Inc()
	}
}

func (p *Pipeline) observeStage(stage string, start time.Time) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveStage(stage, start)
	}
}

func (p *Pipeline) finish(start time.Time, err error, degraded bool) {
	m := p.deps.Metrics
	if m == nil {
		return
	}

	outcome := metrics.OutcomeSuccess
	switch {
	case errors.Is(err, domain.ErrConcurrentRun):
		outcome = metrics.OutcomeConcurrent
	case errors.Is(err, domain.ErrDataUnavailable):
		outcome = metrics.OutcomeUnavailable
	case err != nil:
		outcome = metrics.OutcomeFailed
	case degraded:
		outcome = metrics.OutcomeDegraded
	}
	m.RecordRun(outcome, p.deps.Now().Sub(start))

	if werr := m.WriteTextfile(p.cfg.Output.MetricsTextfile); werr != nil {
		p.log.Warn().Err(werr).Msg("failed to write metrics textfile")
	}
}
