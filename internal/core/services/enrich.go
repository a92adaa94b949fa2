package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/encore/internal/core/domain"
	"github.com/ewilliams-labs/encore/internal/core/ports"
)

// EnrichConfig bounds the per-track catalog retry.
type EnrichConfig struct {
	MaxAttempts int
	// Backoff is the delay before the second attempt; it doubles after that.
	Backoff time.Duration
}

// Enrichment is the lookup outcome for one track id.
type Enrichment struct {
	TrackID  string
	Details  domain.TrackDetails
	Attempts int
	// Err wraps domain.ErrCatalogLookupFailure when every attempt failed.
	Err error
}

// Enricher fetches display metadata for recommended tracks.
type Enricher struct {
	catalog ports.CatalogProvider
	cfg     EnrichConfig
	log     zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewEnricher constructs an Enricher.
func NewEnricher(catalog ports.CatalogProvider, cfg EnrichConfig, log zerolog.Logger) *Enricher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Enricher{catalog: catalog, cfg: cfg, log: log, sleep: sleepContext}
}

// Enrich looks up every id once, retrying failed lookups individually. The
// result has the same length and order as trackIDs; failures are reported
// per item rather than failing the batch. Only context cancellation aborts.
func (e *Enricher) Enrich(ctx context.Context, trackIDs []string) ([]Enrichment, error) {
	out := make([]Enrichment, len(trackIDs))
	for i, id := range trackIDs {
		res, err := e.lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

func (e *Enricher) lookup(ctx context.Context, id string) (Enrichment, error) {
	res := Enrichment{TrackID: id}
	delay := e.cfg.Backoff

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Enrichment{}, fmt.Errorf("enrich: %w", err)
		}
		res.Attempts = attempt

		details, err := e.catalog.GetTrackDetails(ctx, id)
		if err == nil {
			res.Details = details
			res.Err = nil
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Enrichment{}, fmt.Errorf("enrich: %w", ctxErr)
		}

		res.Err = asLookupFailure(id, err)
		var ce *domain.CatalogError
		if errors.As(res.Err, &ce) && !ce.Temporary() {
			break
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}

		e.log.Warn().Err(err).Str("track_id", id).Int("attempt", attempt).Dur("backoff", delay).Msg("catalog lookup failed; retrying")
		if err := e.sleep(ctx, delay); err != nil {
			return Enrichment{}, fmt.Errorf("enrich: %w", err)
		}
		delay *= 2
	}

	e.log.Warn().Err(res.Err).Str("track_id", id).Int("attempts", res.Attempts).Msg("skipping track without details")
	return res, nil
}

// asLookupFailure makes sure err matches domain.ErrCatalogLookupFailure.
func asLookupFailure(id string, err error) error {
	if errors.Is(err, domain.ErrCatalogLookupFailure) {
		return err
	}
	return &domain.CatalogError{TrackID: id, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
