package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/encore/internal/core/domain"
)

func newTestEnricher(catalog *fakeCatalog, attempts int) (*Enricher, *[]time.Duration) {
	e := NewEnricher(catalog, EnrichConfig{MaxAttempts: attempts, Backoff: 10 * time.Millisecond}, zerolog.Nop())
	var slept []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return e, &slept
}

func TestEnrich_AllPresentInOrder(t *testing.T) {
	catalog := newFakeCatalog().add("t3").add("t1").add("t2")
	e, _ := newTestEnricher(catalog, 3)

	ids := []string{"t3", "t1", "t2"}
	got, err := e.Enrich(context.Background(), ids)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if len(got) != len(ids) {
		t.Fatalf("length: got %d, want %d", len(got), len(ids))
	}
	for i, id := range ids {
		if got[i].TrackID != id {
			t.Errorf("position %d: got %q, want %q", i, got[i].TrackID, id)
		}
		if got[i].Err != nil {
			t.Errorf("%s: unexpected error %v", id, got[i].Err)
		}
		if got[i].Details.Name == "" || got[i].Details.ImageURL == "" {
			t.Errorf("%s: empty details %+v", id, got[i].Details)
		}
	}
}

func TestEnrich_RetriesTemporaryFailures(t *testing.T) {
	catalog := newFakeCatalog().add("t1")
	catalog.failures["t1"] = []error{
		&domain.CatalogError{TrackID: "t1", Status: http.StatusServiceUnavailable},
		errors.New("connection reset"),
	}
	e, slept := newTestEnricher(catalog, 3)

	got, err := e.Enrich(context.Background(), []string{"t1"})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if got[0].Err != nil || got[0].Attempts != 3 {
		t.Fatalf("expected success on third attempt, got %+v", got[0])
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(*slept) != len(want) || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Fatalf("backoff: got %v, want %v", *slept, want)
	}
}

func TestEnrich_PerItemFailures(t *testing.T) {
	catalog := newFakeCatalog().add("ok1").add("ok2")
	catalog.missing["gone"] = true
	catalog.failures["flaky"] = []error{
		&domain.CatalogError{TrackID: "flaky", Status: http.StatusBadGateway},
		&domain.CatalogError{TrackID: "flaky", Status: http.StatusBadGateway},
	}
	e, _ := newTestEnricher(catalog, 2)

	got, err := e.Enrich(context.Background(), []string{"ok1", "gone", "flaky", "ok2"})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("length: got %d, want 4", len(got))
	}
	if got[0].Err != nil || got[3].Err != nil {
		t.Fatalf("healthy lookups failed: %+v / %+v", got[0], got[3])
	}
	if !errors.Is(got[1].Err, domain.ErrCatalogLookupFailure) || got[1].Attempts != 1 {
		t.Errorf("404 must fail without retry: %+v", got[1])
	}
	if !errors.Is(got[2].Err, domain.ErrCatalogLookupFailure) || got[2].Attempts != 2 {
		t.Errorf("flaky lookup must exhaust its budget: %+v", got[2])
	}
	if catalog.calls["gone"] != 1 || catalog.calls["flaky"] != 2 {
		t.Errorf("calls: %v", catalog.calls)
	}
}

func TestEnrich_WrapsUntypedErrors(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.failures["t1"] = []error{errors.New("boom")}
	e, _ := newTestEnricher(catalog, 1)

	got, err := e.Enrich(context.Background(), []string{"t1"})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	var ce *domain.CatalogError
	if !errors.As(got[0].Err, &ce) || ce.TrackID != "t1" {
		t.Fatalf("expected wrapped catalog error, got %v", got[0].Err)
	}
}

func TestEnrich_ContextCanceled(t *testing.T) {
	catalog := newFakeCatalog().add("t1")
	e, _ := newTestEnricher(catalog, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Enrich(ctx, []string{"t1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
