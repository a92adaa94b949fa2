package spotify

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenURL is the Spotify accounts token endpoint.
const DefaultTokenURL = "https://accounts.spotify.com/api/token"

// ErrNoCredentials is returned when no usable credential combination is set.
var ErrNoCredentials = errors.New("spotify adapter: no credentials configured")

// Credentials selects how requests are authorized. A refresh token wins over
// a static access token; client id and secret alone fall back to the client
// credentials grant, which cannot resolve the current user.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	AccessToken  string
	TokenURL     string
}

// UserScoped reports whether the credentials act on behalf of a user.
func (c Credentials) UserScoped() bool {
	return c.RefreshToken != "" || c.AccessToken != ""
}

// TokenSource builds the oauth2 token source for the credentials.
// ctx carries the HTTP client used for token exchanges.
func (c Credentials) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	tokenURL := c.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	switch {
	case c.RefreshToken != "":
		if c.ClientID == "" || c.ClientSecret == "" {
			return nil, errors.New("spotify adapter: refresh token requires client id and secret")
		}
		cfg := &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		}
		return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: c.RefreshToken}), nil
	case c.AccessToken != "":
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.AccessToken, TokenType: "Bearer"}), nil
	case c.ClientID != "" && c.ClientSecret != "":
		cfg := &clientcredentials.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		return cfg.TokenSource(ctx), nil
	default:
		return nil, ErrNoCredentials
	}
}

// NewHTTPClient returns an http.Client that attaches bearer tokens from creds.
func NewHTTPClient(ctx context.Context, creds Credentials, timeout time.Duration) (*http.Client, error) {
	base := &http.Client{Timeout: timeout}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	ts, err := creds.TokenSource(ctx)
	if err != nil {
		return nil, err
	}

	client := oauth2.NewClient(ctx, ts)
	client.Timeout = timeout
	return client, nil
}
