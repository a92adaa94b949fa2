package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ewilliams-labs/encore/internal/config"
	"github.com/ewilliams-labs/encore/internal/core/domain"
	"github.com/ewilliams-labs/encore/internal/core/ports"
	"github.com/ewilliams-labs/encore/internal/metrics"
)

func energyTrack(id string, energy float64, label *bool) domain.Track {
	return domain.Track{
		ID:            id,
		Features:      domain.AudioFeatures{domain.Energy: energy, domain.Tempo: 120},
		PlaylistTrack: label,
	}
}

// balancedStore holds ten history tracks split 5/5 on energy and three
// candidates, two of them on the liked side.
func balancedStore() *fakeStore {
	s := &fakeStore{}
	for i := 0; i < 10; i++ {
		s.history = append(s.history, energyTrack(fmt.Sprintf("h%d", i), 0.1*float64(i+1), domain.BoolPtr(i >= 5)))
	}
	s.candidates = []domain.Track{
		energyTrack("c1", 0.95, nil),
		energyTrack("c2", 0.05, nil),
		energyTrack("c3", 0.85, nil),
	}
	return s
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Run.UserID = "u1"
	cfg.Clustering.NClusters = 1
	cfg.Clustering.ClusterCountRange = [2]int{2, 2}
	cfg.Classifier.InitialMinSamplesSplit = 2
	cfg.Classifier.MaxRetrainAttempts = 3
	cfg.Enrichment.MaxAttempts = 2
	cfg.Enrichment.BackoffMs = 0
	cfg.Output.MetricsTextfile = ""
	return &cfg
}

type harness struct {
	store   *fakeStore
	catalog *fakeCatalog
	sink    *recordingSink
	locker  *fakeLocker
	metrics *metrics.Recorder
}

func newHarness(store *fakeStore) *harness {
	return &harness{
		store:   store,
		catalog: newFakeCatalog().add("c1").add("c2").add("c3"),
		sink:    &recordingSink{},
		locker:  &fakeLocker{},
		metrics: metrics.New(),
	}
}

func (h *harness) pipeline(t *testing.T, cfg *config.Config) *Pipeline {
	t.Helper()
	p, err := NewPipeline(cfg, Deps{
		Store:   h.store,
		Catalog: h.catalog,
		Sinks:   []ports.RecommendationSink{h.sink},
		Locker:  h.locker,
		Metrics: h.metrics,
		Rand:    rand.New(rand.NewPCG(1, 2)),
		Now:     func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func (h *harness) outcome(name string) float64 {
	return testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues(name))
}

func TestPipeline_Run(t *testing.T) {
	h := newHarness(balancedStore())
	res, err := h.pipeline(t, testConfig()).Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{"c1", "c3"}
	if len(res.Records) != len(want) {
		t.Fatalf("records: got %+v, want ids %v", res.Records, want)
	}
	for i, id := range want {
		r := res.Records[i]
		if r.TrackID != id || r.TrackName != "Song "+id || r.ImageURL != "https://img/"+id || r.OwnerUserID != "u1" {
			t.Errorf("record %d: %+v", i, r)
		}
	}
	if res.Classifier.Attempts != 1 || !res.Classifier.ReachedTarget {
		t.Errorf("classifier outcome: %+v", res.Classifier)
	}
	if res.Run.ID == "" || res.Run.UserID != "u1" {
		t.Errorf("run: %+v", res.Run)
	}

	if len(h.sink.batches) != 1 || len(h.sink.batches[0]) != 2 || h.sink.runs[0].ID != res.Run.ID {
		t.Errorf("sink: runs=%+v batches=%+v", h.sink.runs, h.sink.batches)
	}
	if len(h.locker.acquired) != 1 || h.locker.acquired[0] != "u1" || h.locker.released != 1 {
		t.Errorf("locker: %+v", h.locker)
	}
	if got := h.outcome(metrics.OutcomeSuccess); got != 1 {
		t.Errorf("success runs: got %v", got)
	}
	if got := testutil.ToFloat64(h.metrics.Recommendations); got != 2 {
		t.Errorf("recommendations gauge: got %v", got)
	}
	if h.catalog.calls["c2"] != 0 {
		t.Errorf("negative candidate should not be looked up")
	}
}

func TestPipeline_EmptyHistory(t *testing.T) {
	store := balancedStore()
	store.history = nil
	h := newHarness(store)

	_, err := h.pipeline(t, testConfig()).Run(context.Background(), Request{})
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if len(h.sink.batches) != 0 {
		t.Fatalf("nothing should be published")
	}
	if h.locker.released != 1 {
		t.Fatalf("lock not released")
	}
	if got := h.outcome(metrics.OutcomeUnavailable); got != 1 {
		t.Errorf("data_unavailable runs: got %v", got)
	}
}

func TestPipeline_MissingTempo(t *testing.T) {
	store := balancedStore()
	for _, tracks := range [][]domain.Track{store.history, store.candidates} {
		for _, tr := range tracks {
			delete(tr.Features, domain.Tempo)
		}
	}
	h := newHarness(store)

	_, err := h.pipeline(t, testConfig()).Run(context.Background(), Request{})
	var du *domain.DataUnavailableError
	if !errors.As(err, &du) {
		t.Fatalf("expected DataUnavailableError, got %v", err)
	}
}

func TestPipeline_Reclusters(t *testing.T) {
	// Three well separated groups: history near zero energy and two candidate
	// groups. With three clusters the two candidate groups outnumber the
	// history, so no historical row is selected and the run must re-cluster
	// with two clusters, which merges the candidate groups.
	store := &fakeStore{
		history: []domain.Track{
			energyTrack("h1", 0.00, domain.BoolPtr(false)),
			energyTrack("h2", 0.02, domain.BoolPtr(true)),
		},
		candidates: []domain.Track{
			energyTrack("b1", 0.80, nil), energyTrack("b2", 0.81, nil), energyTrack("b3", 0.82, nil),
			energyTrack("d1", 0.95, nil), energyTrack("d2", 0.96, nil), energyTrack("d3", 0.97, nil),
		},
	}
	h := newHarness(store)
	for _, id := range []string{"b1", "b2", "b3", "d1", "d2", "d3"} {
		h.catalog.add(id)
	}
	cfg := testConfig()
	cfg.Clustering.NClusters = 3

	res, err := h.pipeline(t, cfg).Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Reclusters != 1 || res.Run.Clusters != 2 {
		t.Fatalf("expected one re-cluster to two clusters, got reclusters=%d clusters=%d", res.Reclusters, res.Run.Clusters)
	}
	if len(res.Records) != 6 {
		t.Fatalf("records: got %d, want 6", len(res.Records))
	}
	if got := testutil.ToFloat64(h.metrics.Reclusters); got != 1 {
		t.Errorf("recluster counter: got %v", got)
	}
}

func TestPipeline_ReclusterBudgetExhausted(t *testing.T) {
	store := &fakeStore{
		history: []domain.Track{
			energyTrack("h1", 0.00, domain.BoolPtr(false)),
		},
		candidates: []domain.Track{
			energyTrack("b1", 0.80, nil), energyTrack("b2", 0.81, nil),
			energyTrack("d1", 0.95, nil), energyTrack("d2", 0.96, nil),
		},
	}
	h := newHarness(store)
	cfg := testConfig()
	cfg.Clustering.NClusters = 3
	cfg.Clustering.ClusterCountRange = [2]int{3, 3}
	cfg.Clustering.MaxReclusterAttempts = 2

	_, err := h.pipeline(t, cfg).Run(context.Background(), Request{})
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if got := testutil.ToFloat64(h.metrics.Reclusters); got != 2 {
		t.Errorf("recluster counter: got %v, want 2", got)
	}
}

func TestPipeline_EnrichmentFailures(t *testing.T) {
	t.Run("partial failure drops the track", func(t *testing.T) {
		h := newHarness(balancedStore())
		h.catalog.missing["c3"] = true

		res, err := h.pipeline(t, testConfig()).Run(context.Background(), Request{})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if len(res.Records) != 1 || res.Records[0].TrackID != "c1" {
			t.Fatalf("records: %+v", res.Records)
		}
		if len(res.Skipped) != 1 || res.Skipped[0].TrackID != "c3" {
			t.Fatalf("skipped: %+v", res.Skipped)
		}
		if got := h.outcome(metrics.OutcomeDegraded); got != 1 {
			t.Errorf("degraded runs: got %v", got)
		}
	})

	t.Run("every lookup failing ends the run", func(t *testing.T) {
		h := newHarness(balancedStore())
		h.catalog.missing["c1"] = true
		h.catalog.missing["c3"] = true

		_, err := h.pipeline(t, testConfig()).Run(context.Background(), Request{})
		if !errors.Is(err, domain.ErrCatalogLookupFailure) {
			t.Fatalf("expected ErrCatalogLookupFailure, got %v", err)
		}
		if len(h.sink.batches) != 0 {
			t.Fatalf("nothing should be published")
		}
	})
}

func TestPipeline_ConcurrentRun(t *testing.T) {
	h := newHarness(balancedStore())
	h.locker.err = fmt.Errorf("lock held: %w", domain.ErrConcurrentRun)

	_, err := h.pipeline(t, testConfig()).Run(context.Background(), Request{})
	if !errors.Is(err, domain.ErrConcurrentRun) {
		t.Fatalf("expected ErrConcurrentRun, got %v", err)
	}
	if got := h.outcome(metrics.OutcomeConcurrent); got != 1 {
		t.Errorf("concurrent runs: got %v", got)
	}
}

func TestPipeline_ResolvesUser(t *testing.T) {
	h := newHarness(balancedStore())
	h.catalog.userID = "from-me"
	cfg := testConfig()
	cfg.Run.UserID = ""

	res, err := h.pipeline(t, cfg).Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Run.UserID != "from-me" || h.locker.acquired[0] != "from-me" {
		t.Fatalf("user: got %q", res.Run.UserID)
	}

	res, err = h.pipeline(t, cfg).Run(context.Background(), Request{UserID: "explicit"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Run.UserID != "explicit" {
		t.Fatalf("request user should win, got %q", res.Run.UserID)
	}
}

func TestPipeline_SinkFailure(t *testing.T) {
	h := newHarness(balancedStore())
	h.sink.err = errors.New("disk full")

	if _, err := h.pipeline(t, testConfig()).Run(context.Background(), Request{}); err == nil {
		t.Fatal("expected publish error")
	}
	if got := h.outcome(metrics.OutcomeFailed); got != 1 {
		t.Errorf("failed runs: got %v", got)
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	cfg := testConfig()
	cfg.Clustering.Linkage = "centroid"
	if _, err := NewPipeline(cfg, Deps{Store: &fakeStore{}, Catalog: newFakeCatalog(), Locker: &fakeLocker{}}); err == nil {
		t.Fatal("expected linkage error")
	}
	if _, err := NewPipeline(testConfig(), Deps{}); err == nil {
		t.Fatal("expected missing dependency error")
	}
}
