// Package workflow provides MCP tools over a workflow-automation REST API:
// listing workflows, fetching a single workflow, and triggering webhook
// endpoints.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	apiKeyHeader   = "X-Api-Key"
	requestTimeout = 30 * time.Second

	// The API caps page size at 100; anything larger is clamped server-side
	// anyway, so clamp it here for a predictable request.
	maxListLimit = 100
)

// Workflow is the subset of the workflow record the tools expose.
type Workflow struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Active    bool            `json:"active"`
	UpdatedAt string          `json:"updatedAt,omitempty"`
	Nodes     json.RawMessage `json:"nodes,omitempty"`
}

// WebhookResult captures the upstream response of a webhook trigger.
type WebhookResult struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
}

// Client is the narrow surface the tool handlers need from the workflow
// API. The HTTP implementation below talks to the real service; tests
// substitute a fake.
type Client interface {
	ListWorkflows(ctx context.Context, activeOnly bool, limit int) ([]Workflow, error)
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	RunWebhook(ctx context.Context, webhookURL, method string, payload map[string]any) (*WebhookResult, error)
}

// HTTPClient implements Client against a workflow-automation instance's
// public REST API, authenticating with an API key header.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the API rooted at baseURL.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type listResponse struct {
	Data []Workflow `json:"data"`
}

// ListWorkflows fetches up to limit workflows, optionally filtered to
// active ones.
func (c *HTTPClient) ListWorkflows(ctx context.Context, activeOnly bool, limit int) ([]Workflow, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if activeOnly {
		query.Set("active", "true")
	}

	var out listResponse
	if err := c.getJSON(ctx, "/api/v1/workflows?"+query.Encode(), &out); err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return out.Data, nil
}

// GetWorkflow fetches a single workflow by id.
func (c *HTTPClient) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	var out Workflow
	if err := c.getJSON(ctx, "/api/v1/workflows/"+url.PathEscape(id), &out); err != nil {
		return nil, fmt.Errorf("failed to get workflow %s: %w", id, err)
	}
	return &out, nil
}

// RunWebhook triggers a workflow's webhook endpoint. The URL comes from the
// caller because webhook paths are configured per workflow; the method must
// match the webhook node's configuration.
func (c *HTTPClient) RunWebhook(ctx context.Context, webhookURL, method string, payload map[string]any) (*WebhookResult, error) {
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, webhookURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}
	return &WebhookResult{StatusCode: resp.StatusCode, Body: string(data)}, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d %s", resp.StatusCode, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
