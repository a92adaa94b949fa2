package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ewilliams-labs/encore/internal/core/domain"
)

const (
	defaultMaxRetries = 3
	defaultBackoffMs  = 500
)

var errRetriesExhausted = errors.New("retries exhausted")

// retryPolicy bounds how often and how patiently a catalog request is repeated.
type retryPolicy struct {
	attempts int
	base     time.Duration
}

func (c *Client) policy() retryPolicy {
	p := retryPolicy{attempts: c.maxRetries, base: c.baseBackoff}
	if p.attempts <= 0 {
		p.attempts = defaultMaxRetries
	}
	if p.base <= 0 {
		p.base = time.Duration(defaultBackoffMs) * time.Millisecond
	}
	return p
}

// wait is the pause before the attempt following attempt n (zero based). A
// server supplied Retry-After wins over the exponential schedule.
func (p retryPolicy) wait(n int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	return p.base << n
}

// retryable reports whether the catalog answered with a status worth
// repeating: rate limiting or a server side failure.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// doRequestWithRetry sends a bodiless catalog request until it gets an answer
// that is not retryable. When the budget runs out the failure comes back as a
// *domain.CatalogError carrying the last status, or status 0 when the
// transport never produced one.
func (c *Client) doRequestWithRetry(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	p := c.policy()

	var last *domain.CatalogError
	for n := 0; n < p.attempts; n++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("spotify adapter: rate limiter: %w", err)
			}
		}

		// #nosec G107 -- URL constructed from the configured catalog base URL
		resp, err := c.httpClient.Do(req)
		var retryAfter time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, fmt.Errorf("spotify adapter: request canceled: %w", ctx.Err())
			}
			last = &domain.CatalogError{Err: err}
			c.log.Warn().Err(err).Int("attempt", n+1).Int("max", p.attempts).Str("url", req.URL.Path).Msg("catalog request failed")
		case retryable(resp.StatusCode):
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
			last = &domain.CatalogError{Status: resp.StatusCode, Err: errRetriesExhausted}
			_ = resp.Body.Close()
			c.log.Warn().Int("status", resp.StatusCode).Int("attempt", n+1).Int("max", p.attempts).Str("url", req.URL.Path).Msg("catalog answered with retryable status")
		default:
			return resp, nil
		}

		if n == p.attempts-1 {
			break
		}
		if err := sleepWithContext(ctx, p.wait(n, retryAfter)); err != nil {
			return nil, err
		}
	}
	return nil, last
}

// parseRetryAfter reads a Retry-After header given either as delta seconds or
// as an HTTP date relative to now.
func parseRetryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	when, err := http.ParseTime(header)
	if err != nil || !when.After(now) {
		return 0
	}
	return when.Sub(now)
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("spotify adapter: request canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
