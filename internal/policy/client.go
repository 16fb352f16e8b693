// Package policy implements the client for the external policy evaluator
// and the hot-reloading policy directory watcher.
//
// Evaluation failure is soft: the router falls back to built-in rules, so
// every error here is surfaced but never fatal to a triage run.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// callTimeout bounds every evaluator HTTP call.
const callTimeout = 5 * time.Second

// Client talks to an OPA-compatible policy evaluator over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the evaluator at baseURL. An empty baseURL
// yields a client whose every call fails, which the router treats as
// rule-fallback.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: callTimeout,
		},
	}
}

// Enabled reports whether an evaluator endpoint is configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

type evaluateRequest struct {
	Input map[string]any `json:"input"`
	Data  map[string]any `json:"data,omitempty"`
}

type evaluateResponse struct {
	Result map[string]any `json:"result"`
}

// Evaluate submits input to the policy at path (e.g. "triage/routing") and
// returns the structured result. A missing result document is an error; the
// caller decides what fallback applies.
func (c *Client) Evaluate(ctx context.Context, path string, input, data map[string]any) (map[string]any, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("policy: evaluator not configured")
	}
	body, err := json.Marshal(evaluateRequest{Input: input, Data: data})
	if err != nil {
		return nil, fmt.Errorf("policy: marshal input: %w", err)
	}

	url := c.baseURL + "/v1/data/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("policy: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("policy: evaluate %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("policy: evaluate %s: status %d: %s", path, resp.StatusCode, string(raw))
	}

	var result evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("policy: decode result: %w", err)
	}
	if result.Result == nil {
		return nil, fmt.Errorf("policy: evaluate %s: empty result document", path)
	}
	return result.Result, nil
}

// Load uploads a policy body under the given name.
func (c *Client) Load(ctx context.Context, name, body string) error {
	if !c.Enabled() {
		return fmt.Errorf("policy: evaluator not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/v1/policies/"+name, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("policy: create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("policy: load %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("policy: load %s: status %d: %s", name, resp.StatusCode, string(raw))
	}
	return nil
}

// Delete removes a policy by name.
func (c *Client) Delete(ctx context.Context, name string) error {
	if !c.Enabled() {
		return fmt.Errorf("policy: evaluator not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/policies/"+name, nil)
	if err != nil {
		return fmt.Errorf("policy: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("policy: delete %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("policy: delete %s: status %d", name, resp.StatusCode)
	}
	return nil
}

type listResponse struct {
	Result []struct {
		ID string `json:"id"`
	} `json:"result"`
}

// List returns the IDs of all loaded policies.
func (c *Client) List(ctx context.Context) ([]string, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("policy: evaluator not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/policies", nil)
	if err != nil {
		return nil, fmt.Errorf("policy: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("policy: list: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("policy: list: status %d", resp.StatusCode)
	}
	var result listResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("policy: decode list: %w", err)
	}
	ids := make([]string, 0, len(result.Result))
	for _, p := range result.Result {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// Health checks evaluator liveness.
func (c *Client) Health(ctx context.Context) error {
	if !c.Enabled() {
		return fmt.Errorf("policy: evaluator not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("policy: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("policy: health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("policy: health: status %d", resp.StatusCode)
	}
	return nil
}
