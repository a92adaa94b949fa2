package spotify

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ewilliams-labs/encore/internal/core/domain"
)

func TestClientDoRequestWithRetry(t *testing.T) {
	tests := []struct {
		name             string
		statuses         []int
		maxRetries       int
		expectedStatus   int
		expectedAttempts int
		expectErrStatus  int
		expectErr        bool
	}{
		{
			name:             "retries on 503 then succeeds",
			statuses:         []int{http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK},
			maxRetries:       3,
			expectedStatus:   http.StatusOK,
			expectedAttempts: 3,
		},
		{
			name:             "exhausts retries on 429",
			statuses:         []int{http.StatusTooManyRequests},
			maxRetries:       2,
			expectedAttempts: 2,
			expectErrStatus:  http.StatusTooManyRequests,
			expectErr:        true,
		},
		{
			name:             "404 is returned without retry",
			statuses:         []int{http.StatusNotFound},
			maxRetries:       3,
			expectedStatus:   http.StatusNotFound,
			expectedAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts++
				status := tt.statuses[len(tt.statuses)-1]
				if attempts <= len(tt.statuses) {
					status = tt.statuses[attempts-1]
				}
				w.WriteHeader(status)
			}))
			defer ts.Close()

			client := &Client{
				httpClient:  http.DefaultClient,
				baseURL:     ts.URL,
				maxRetries:  tt.maxRetries,
				baseBackoff: time.Millisecond,
			}

			req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
			if err != nil {
				t.Fatalf("create request: %v", err)
			}

			resp, err := client.doRequestWithRetry(req)
			if (err != nil) != tt.expectErr {
				t.Fatalf("expected error: %v, got: %v", tt.expectErr, err)
			}
			if err != nil {
				var ce *domain.CatalogError
				if !errors.As(err, &ce) {
					t.Fatalf("expected *domain.CatalogError, got %T", err)
				}
				if ce.Status != tt.expectErrStatus {
					t.Fatalf("error status: got %d, want %d", ce.Status, tt.expectErrStatus)
				}
				if !ce.Temporary() {
					t.Fatalf("exhausted %d should stay temporary", ce.Status)
				}
			}
			if resp != nil {
				defer resp.Body.Close()
				if resp.StatusCode != tt.expectedStatus {
					t.Fatalf("status: got %d, want %d", resp.StatusCode, tt.expectedStatus)
				}
			}
			if attempts != tt.expectedAttempts {
				t.Fatalf("attempts: got %d, want %d", attempts, tt.expectedAttempts)
			}
		})
	}
}

func TestClientDoRequestWithRetry_TransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	client := &Client{httpClient: http.DefaultClient, maxRetries: 2, baseBackoff: time.Millisecond}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	_, err = client.doRequestWithRetry(req)
	var ce *domain.CatalogError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *domain.CatalogError, got %v", err)
	}
	if ce.Status != 0 || ce.Err == nil {
		t.Fatalf("transport failure: got status %d err %v", ce.Status, ce.Err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"0", 0},
		{"-2", 0},
		{"soon", 0},
		{now.Add(5 * time.Second).Format(http.TimeFormat), 5 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.header, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q): got %v, want %v", tt.header, got, tt.want)
		}
	}
}

func TestRetryPolicyWait(t *testing.T) {
	p := retryPolicy{attempts: 3, base: 100 * time.Millisecond}
	if got := p.wait(0, 0); got != 100*time.Millisecond {
		t.Errorf("first wait: got %v", got)
	}
	if got := p.wait(2, 0); got != 400*time.Millisecond {
		t.Errorf("third wait: got %v", got)
	}
	if got := p.wait(2, time.Second); got != time.Second {
		t.Errorf("retry-after wait: got %v", got)
	}
}
