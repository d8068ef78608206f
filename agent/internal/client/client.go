// Package client implements the agent's HTTP calls to the coordinator:
// register, heartbeat, fetch-targets, and submit-results, each wrapped in
// the bounded retry policy spec §4.4 mandates. Grounded on the teacher's
// connection manager's backoff constants and retry shape, adapted from a
// persistent gRPC stream's reconnect loop to a per-call HTTP retry loop.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stormmon/storm/shared/types"
)

const (
	backoffInitial = 1 * time.Second
	backoffMax     = 10 * time.Second
	maxAttempts    = 3
	requestTimeout = 10 * time.Second
)

// Client calls the coordinator's HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	agentID string // set after a successful Register, read by later calls.
	http    *http.Client
	logger  *zap.Logger
}

// New creates a Client targeting baseURL (e.g. "http://coordinator:3000").
func New(baseURL, apiKey string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger.Named("client"),
	}
}

// SetAgentID records the agent id used on subsequent x-agent-id headers.
func (c *Client) SetAgentID(id string) { c.agentID = id }

// AgentID returns the currently configured agent id.
func (c *Client) AgentID() string { return c.agentID }

// Register posts name/location to /api/register and returns the assigned
// agent id.
func (c *Client) Register(ctx context.Context, name, location string) (string, error) {
	var resp struct {
		Success bool   `json:"success"`
		AgentID string `json:"agentId"`
		Error   string `json:"error"`
	}
	err := c.withRetry(ctx, "register", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/api/register", true, types.RegisterRequest{Name: name, Location: location}, &resp)
	})
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("client: register rejected: %s", resp.Error)
	}
	c.agentID = resp.AgentID
	return resp.AgentID, nil
}

// Heartbeat refreshes liveness with the coordinator.
func (c *Client) Heartbeat(ctx context.Context) error {
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	err := c.withRetry(ctx, "heartbeat", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/api/heartbeat", true, nil, &resp)
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("client: heartbeat rejected: %s", resp.Error)
	}
	return nil
}

// TargetsResponse is the decoded body of GET /api/targets.
type TargetsResponse struct {
	Targets     []types.Target `json:"targets"`
	LastUpdated int64          `json:"lastUpdated"`
}

// FetchTargets retrieves the full target list.
func (c *Client) FetchTargets(ctx context.Context) (TargetsResponse, error) {
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		TargetsResponse
	}
	err := c.withRetry(ctx, "fetch-targets", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, "/api/targets", false, nil, &resp)
	})
	if err != nil {
		return TargetsResponse{}, err
	}
	if !resp.Success {
		return TargetsResponse{}, fmt.Errorf("client: fetch targets rejected: %s", resp.Error)
	}
	return resp.TargetsResponse, nil
}

// CheckUpdates polls whether the target set has changed since lastChecked
// (a unix-millisecond version stamp).
func (c *Client) CheckUpdates(ctx context.Context, lastChecked int64) (hasUpdates bool, lastUpdated int64, err error) {
	var resp struct {
		Success     bool   `json:"success"`
		Error       string `json:"error"`
		HasUpdates  bool   `json:"hasUpdates"`
		LastUpdated int64  `json:"lastUpdated"`
	}
	path := fmt.Sprintf("/api/targets/check-updates?lastChecked=%d", lastChecked)
	callErr := c.withRetry(ctx, "check-updates", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, path, false, nil, &resp)
	})
	if callErr != nil {
		return false, 0, callErr
	}
	if !resp.Success {
		return false, 0, fmt.Errorf("client: check-updates rejected: %s", resp.Error)
	}
	return resp.HasUpdates, resp.LastUpdated, nil
}

// SubmitResults posts a batch of check results. A failure here is dropped
// by the caller after retries are exhausted, per spec §4.4 — this method
// only implements the retry; the caller decides to drop and log.
func (c *Client) SubmitResults(ctx context.Context, results []types.CheckResult) error {
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	return c.withRetry(ctx, "submit-results", func(ctx context.Context) error {
		if err := c.doJSON(ctx, http.MethodPost, "/api/results", false, types.ResultBatch{Results: results}, &resp); err != nil {
			return err
		}
		if !resp.Success {
			return fmt.Errorf("client: submit rejected: %s", resp.Error)
		}
		return nil
	})
}

// withRetry runs fn up to maxAttempts times with the spec §4.4 backoff
// schedule (min(1000*2^n, 10000)ms), stopping early on context cancellation.
func (c *Client) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts-1 {
			break
		}
		delay := backoffFor(attempt)
		c.logger.Warn("request failed, retrying", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Duration("backoff", delay), zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("client: %s: exhausted %d attempts: %w", op, maxAttempts, lastErr)
}

func backoffFor(attempt int) time.Duration {
	d := backoffInitial * time.Duration(1<<uint(attempt))
	if d > backoffMax {
		d = backoffMax
	}
	return d
}

func (c *Client) doJSON(ctx context.Context, method, path string, requireAPIKey bool, body any, dst any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.agentID != "" {
		req.Header.Set("x-agent-id", c.agentID)
	}
	if requireAPIKey {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("client: %s %s: server error %d", method, path, resp.StatusCode)
	}

	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("client: %s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}
