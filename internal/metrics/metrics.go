// Package metrics records per-run pipeline metrics on a private Prometheus
// registry. A one-shot CLI has no scrape endpoint, so the registry is dumped
// to a node-exporter textfile at the end of a run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "encore"

// Run outcomes used as the "outcome" label.
const (
	OutcomeSuccess     = "success"
	OutcomeDegraded    = "degraded"
	OutcomeFailed      = "failed"
	OutcomeConcurrent  = "concurrent"
	OutcomeUnavailable = "data_unavailable"
)

// Enrichment lookup results used as the "result" label.
const (
	LookupOK      = "ok"
	LookupRetried = "retried"
	LookupFailed  = "failed"
)

// Recorder owns the registry and the collectors registered on it.
type Recorder struct {
	registry *prometheus.Registry

	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	StageDuration      *prometheus.HistogramVec
	Reclusters         prometheus.Counter
	ClassifierAttempts prometheus.Gauge
	ClassifierAccuracy prometheus.Gauge
	EnrichLookups      *prometheus.CounterVec
	Recommendations    prometheus.Gauge
	Tracks             *prometheus.GaugeVec
}

// New builds a Recorder on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome",
		}, []string{"outcome"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a full pipeline run",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline stage",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		Reclusters: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclusters_total",
			Help:      "Re-cluster fallbacks after data-unavailable outcomes",
		}),
		ClassifierAttempts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "classifier_attempts",
			Help:      "Training attempts used by the last run",
		}),
		ClassifierAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "classifier_accuracy",
			Help:      "Accuracy of the tree kept by the last run",
		}),
		EnrichLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrich_lookups_total",
			Help:      "Catalog lookups by result",
		}, []string{"result"}),
		Recommendations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recommendations",
			Help:      "Records published by the last run",
		}),
		Tracks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracks",
			Help:      "Encoded rows by partition",
		}, []string{"partition"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStage records how long a stage took since start.
func (r *Recorder) ObserveStage(stage string, start time.Time) {
	r.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordRun counts a finished run and its duration.
func (r *Recorder) RecordRun(outcome string, elapsed time.Duration) {
	r.RunsTotal.WithLabelValues(outcome).Inc()
	r.RunDuration.Observe(elapsed.Seconds())
}

// WriteTextfile dumps the registry in the Prometheus text format. An empty
// path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
