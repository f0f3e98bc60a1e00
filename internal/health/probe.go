package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Probe is a strategy that determines whether the backend is ready to serve.
// Implementations must be safe for concurrent use.
type Probe interface {
	// Check returns nil when the backend is healthy. The error describes the
	// failure (timeout, connection refused, unexpected status).
	Check(ctx context.Context) error
	// Describe returns a human-readable description of the probe target.
	Describe() string
}

// Result is the ephemeral outcome of a single poll attempt.
type Result struct {
	Reachable bool      `json:"reachable"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}

// HTTPProbe checks a single well-known liveness endpoint with a GET request.
// Any 2xx response counts as healthy; everything else is unhealthy.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

// NewHTTPProbe builds a probe for the backend's liveness endpoint, e.g.
// NewHTTPProbe("http://127.0.0.1:8080", "/api/health").
func NewHTTPProbe(baseURL, path string) *HTTPProbe {
	if path == "" {
		path = "/api/health"
	}
	return &HTTPProbe{
		URL: baseURL + path,
		// Per-attempt timeouts are carried by the context; the client itself
		// does not impose one.
		Client: &http.Client{},
	}
}

func (p *HTTPProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("health check %s: %w", p.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check %s: unexpected status %d", p.URL, resp.StatusCode)
	}
	return nil
}

func (p *HTTPProbe) Describe() string { return "http:" + p.URL }
