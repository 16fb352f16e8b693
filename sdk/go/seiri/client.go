package seiri

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Seiri server (e.g. "http://localhost:8080").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Seiri triage API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("seiri: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
	}, nil
}

// Triage submits a case for triage and returns the aggregated decision.
// Use IsCircuitOpen and IsRateLimited to classify refusals worth retrying.
func (c *Client) Triage(ctx context.Context, kase Case) (*TriageResponse, error) {
	var resp TriageResponse
	if err := c.do(ctx, http.MethodPost, "/v1/triage", map[string]any{"case": kase}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health reports server, evaluator, and circuit breaker status.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var resp Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListTeams returns the routing teams with their live load.
func (c *Client) ListTeams(ctx context.Context) ([]Team, error) {
	var teams []Team
	if err := c.do(ctx, http.MethodGet, "/v1/teams", nil, &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

// VerifyAudit asks the server to verify its audit hash chain.
func (c *Client) VerifyAudit(ctx context.Context) (*AuditVerification, error) {
	var resp AuditVerification
	if err := c.do(ctx, http.MethodGet, "/v1/audit/verify", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListPolicies returns the policy names known to the policy evaluator.
// Returns an empty slice when no evaluator is configured on the server.
func (c *Client) ListPolicies(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.do(ctx, http.MethodGet, "/v1/policies", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// LoadPolicy uploads a policy body to the evaluator under the given name.
func (c *Client) LoadPolicy(ctx context.Context, name, body string) error {
	return c.do(ctx, http.MethodPut, "/v1/policies/"+url.PathEscape(name), map[string]string{"body": body}, nil)
}

// DeletePolicy removes a policy from the evaluator.
func (c *Client) DeletePolicy(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/policies/"+url.PathEscape(name), nil, nil)
}

// ResetBreaker closes the server's circuit breaker and clears its failure
// count. Operational override; use after the downstream fault is fixed.
func (c *Client) ResetBreaker(ctx context.Context) (*BreakerStatus, error) {
	var resp BreakerStatus
	if err := c.do(ctx, http.MethodPost, "/v1/admin/breaker/reset", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// envelope mirrors the server's response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do executes one API request, decoding the data envelope into out when
// out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("seiri: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("seiri: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("seiri: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("seiri: read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &Error{StatusCode: resp.StatusCode, Code: "UNKNOWN", Message: string(raw)}
		}
		return fmt.Errorf("seiri: decode response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{StatusCode: resp.StatusCode, Code: "UNKNOWN"}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("seiri: decode response data: %w", err)
		}
	}
	return nil
}
