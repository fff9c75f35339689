// Package checkers provides concrete health checks, currently an HTTP
// reachability check used against the oracle API.
package checkers

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker issues a GET request against an HTTP endpoint. Any response
// below 500 counts as reachable, so an authentication error from the
// oracle API still reads as healthy.
type HTTPChecker struct {
	url    string
	client *http.Client
	name   string
}

// NewHTTPChecker creates a checker for url, reported under name. An empty
// name falls back to the URL.
func NewHTTPChecker(url string, name string) *HTTPChecker {
	return NewHTTPCheckerWithClient(url, name, &http.Client{
		Timeout: 10 * time.Second,
	})
}

// NewHTTPCheckerWithClient creates a checker using the given client.
func NewHTTPCheckerWithClient(url string, name string, client *http.Client) *HTTPChecker {
	if name == "" {
		name = url
	}
	return &HTTPChecker{url: url, name: name, client: client}
}

func (h *HTTPChecker) Name() string {
	return h.name
}

// Check issues the GET request and reports failure on transport errors
// and 5xx responses.
func (h *HTTPChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("unhealthy status code: %d", resp.StatusCode)
	}
	return nil
}
