// Package client talks to a running daemon's HTTP API on behalf of the
// CLI subcommands.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"grimm.is/cloudnet/internal/api"
	"grimm.is/cloudnet/internal/brand"
	"grimm.is/cloudnet/internal/health"
)

// HTTPClient is a client for the daemon API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures the HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// NewHTTPClient creates a client for the API at addr ("host:port" or a
// full base URL).
func NewHTTPClient(addr string, opts ...ClientOption) *HTTPClient {
	base := addr
	if len(base) < 7 || (base[:7] != "http://" && (len(base) < 8 || base[:8] != "https://")) {
		base = "http://" + addr
	}
	c := &HTTPClient{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doRequest performs a GET and decodes the JSON response.
func (c *HTTPClient) doRequest(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", brand.UserAgent(""))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	// /api/health answers 503 with a report body when unhealthy
	if resp.StatusCode >= 300 && !(resp.StatusCode == http.StatusServiceUnavailable && path == "/api/health") {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Status retrieves GET /api/status.
func (c *HTTPClient) Status(ctx context.Context) (*api.StatusResponse, error) {
	var st api.StatusResponse
	if err := c.doRequest(ctx, "/api/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Network retrieves GET /api/network.
func (c *HTTPClient) Network(ctx context.Context) (*api.NetworkResponse, error) {
	var n api.NetworkResponse
	if err := c.doRequest(ctx, "/api/network", &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// System retrieves the provider system document.
func (c *HTTPClient) System(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.doRequest(ctx, "/api/cloud/system", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Health retrieves GET /api/health.
func (c *HTTPClient) Health(ctx context.Context) (*health.Report, error) {
	var r health.Report
	if err := c.doRequest(ctx, "/api/health", &r); err != nil {
		return nil, err
	}
	return &r, nil
}
