// Package apiclient is the direct HTTP client for the backend API, used
// by scenarios that assert on status codes and JSON payloads without a
// browser in the loop.
package apiclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xevolve/realm-e2e/internal/errs"
	"github.com/xevolve/realm-e2e/internal/logutil"
	"github.com/xevolve/realm-e2e/internal/obs"
)

var log = obs.Pkg("apiclient")

// healthRetryDelay is the fixed pause before the single tolerated
// re-check of a 503 health response.
const healthRetryDelay = 2 * time.Second

// Client issues requests against a configured API base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health probes GET /api/health. A 503 is tolerated once: after a fixed
// delay the endpoint is re-checked, and a second failure is final.
func (c *Client) Health(ctx context.Context) error {
	operation := func() (struct{}, error) {
		status, _, err := c.APIGet(ctx, c.baseURL+"/api/health", nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(errs.Wrap(errs.Unavailable, "health endpoint unreachable", err))
		}
		switch {
		case status == http.StatusOK:
			return struct{}{}, nil
		case status == http.StatusServiceUnavailable:
			log.Warn("health endpoint warming up", "status", status)
			return struct{}{}, errs.New(errs.Unavailable, "health endpoint returned 503")
		default:
			return struct{}{}, backoff.Permanent(errs.New(errs.Unavailable,
				fmt.Sprintf("health endpoint returned %d", status)))
		}
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(healthRetryDelay)),
		backoff.WithMaxTries(2),
	)
	return err
}

// Me calls the identity endpoint. An empty token sends no Authorization
// header, relying on whatever cookies the underlying jar carries (none,
// for this client).
func (c *Client) Me(ctx context.Context, token string) (int, []byte, error) {
	headers := map[string]string{}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return c.APIGet(ctx, c.baseURL+"/api/auth/me", headers)
}

// APIGet issues a GET with optional headers and returns status and body.
// Implements auth.APIGetter.
func (c *Client) APIGet(ctx context.Context, url string, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request for %s: %w", logutil.RedactURL(url), err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("GET %s: %w", logutil.RedactURL(url), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body of %s: %w", logutil.RedactURL(url), err)
	}

	log.Debug("api request",
		"url", logutil.RedactURL(url),
		"status", resp.StatusCode,
		"headers", logutil.FormatHeadersForLog(req.Header))
	return resp.StatusCode, body, nil
}
