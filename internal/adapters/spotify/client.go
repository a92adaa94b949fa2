package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/ewilliams-labs/encore/internal/core/domain"
	"github.com/ewilliams-labs/encore/internal/core/ports"
	"github.com/ewilliams-labs/encore/internal/logging"
)

// DefaultBaseURL is the public Spotify Web API root.
const DefaultBaseURL = "https://api.spotify.com/v1"

var errIncompleteDetails = errors.New("track details incomplete")

// Options configures a Client.
type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	MaxRetries  int
	BaseBackoff time.Duration
	// RequestsPerSecond limits outgoing requests; zero disables limiting.
	RequestsPerSecond float64
	// BreakerFailures opens the circuit after that many consecutive
	// failures; zero disables the breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Client is an HTTP client for the Spotify adapter.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	maxRetries  int
	baseBackoff time.Duration
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	log         zerolog.Logger
}

// compile-time interface assertion
var _ ports.CatalogProvider = (*Client)(nil)

// NewClient constructs a new Spotify client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		maxRetries:  opts.MaxRetries,
		baseBackoff: opts.BaseBackoff,
		log:         logging.Component("spotify"),
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	if opts.BreakerFailures > 0 {
		c.breaker = newBreaker(opts.BreakerFailures, opts.BreakerTimeout, c.log)
	}
	return c
}

func newBreaker(failures uint32, timeout time.Duration, log zerolog.Logger) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "spotify",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
}

// GetTrackDetails returns the display name and medium artwork URL of a track.
func (c *Client) GetTrackDetails(ctx context.Context, trackID string) (domain.TrackDetails, error) {
	endpoint := fmt.Sprintf("%s/tracks/%s", c.baseURL, url.PathEscape(trackID))
	var tr spotifyTrack
	status, err := c.getJSON(ctx, endpoint, &tr)
	var ce *domain.CatalogError
	if errors.As(err, &ce) {
		ce.TrackID = trackID
		return domain.TrackDetails{}, ce
	}
	if err != nil || status != http.StatusOK {
		return domain.TrackDetails{}, &domain.CatalogError{TrackID: trackID, Status: status, Err: err}
	}

	details := mapTrackDetails(tr)
	if details.Name == "" || details.ImageURL == "" {
		return domain.TrackDetails{}, &domain.CatalogError{TrackID: trackID, Status: status, Err: errIncompleteDetails}
	}
	return details, nil
}

// CurrentUserID resolves the id of the user the credentials belong to.
func (c *Client) CurrentUserID(ctx context.Context) (string, error) {
	var user spotifyUser
	status, err := c.getJSON(ctx, c.baseURL+"/me", &user)
	if err != nil {
		return "", fmt.Errorf("spotify adapter: current user: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("spotify adapter: current user: status %d", status)
	}
	if user.ID == "" {
		return "", errors.New("spotify adapter: current user: empty id")
	}
	return user.ID, nil
}

// getJSON issues a GET and decodes a 200 body into out. Non-200 statuses are
// returned without an error so callers can map them.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("spotify adapter: %w", err)
	}

	resp, err := c.execute(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("spotify adapter: decode error: %w", err)
	}
	return resp.StatusCode, nil
}

func (c *Client) execute(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.doRequestWithRetry(req)
	}
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.doRequestWithRetry(req)
	})
	if err != nil {
		return nil, fmt.Errorf("spotify adapter: %w", err)
	}
	return resp, nil
}
