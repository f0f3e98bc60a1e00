// Package client provides a typed HTTP client for the simgate control API.
// Shell processes use it to wait for readiness and to tear a launch down
// without linking the supervisor itself.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/simgate/internal/gate"
	"github.com/loykin/simgate/internal/supervisor"
)

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:9090/api",
		Timeout: 10 * time.Second,
	}
}

// Client talks to a running simgate daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks whether the daemon answers at all.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status fetches the combined process and gate snapshot.
func (c *Client) Status(ctx context.Context) (supervisor.Status, error) {
	var st supervisor.Status
	if err := c.getJSON(ctx, "/status", &st); err != nil {
		return supervisor.Status{}, err
	}
	return st, nil
}

// Gate fetches the gate snapshot. The returned snapshot is valid even when
// the daemon answers 503 (backend not ready yet).
func (c *Client) Gate(ctx context.Context) (gate.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/gate", nil)
	if err != nil {
		return gate.Snapshot{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return gate.Snapshot{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return gate.Snapshot{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var snap gate.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return gate.Snapshot{}, fmt.Errorf("decode gate snapshot: %w", err)
	}
	return snap, nil
}

// WaitReady polls the gate until it leaves Pending or ctx expires. It returns
// nil on Ready and an error carrying the diagnostic on Exhausted.
func (c *Client) WaitReady(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		snap, err := c.Gate(ctx)
		if err == nil {
			switch snap.State {
			case gate.StateReady:
				return nil
			case gate.StateExhausted:
				if snap.LastError != "" {
					return fmt.Errorf("backend failed after %d attempts: %s", snap.Attempts, snap.LastError)
				}
				return fmt.Errorf("backend failed after %d attempts", snap.Attempts)
			}
		} else {
			c.logger.Debug("gate poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Stop asks the daemon to terminate the backend launch.
func (c *Client) Stop(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stop", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("stop failed: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
