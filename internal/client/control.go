package client

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

	"github.com/devskyy/mcpfleet/internal/catalog"
	"github.com/devskyy/mcpfleet/internal/fleet"
)

// ServerDetailResponse is the wire shape of /v0/servers/{id}.
type ServerDetailResponse struct {
	Server     fleet.ServerState `json:"server"`
	Definition fleet.Definition  `json:"definition"`
}

// EventListResponse is the wire shape of /v0/events.
type EventListResponse struct {
	Events []fleet.Event `json:"events"`
}

// StatsResponse is the wire shape of /v0/catalog/stats.
type StatsResponse struct {
	Stats catalog.Stats `json:"stats"`
}

// ExportResponse is the wire shape of /v0/catalog/export.
type ExportResponse struct {
	Format  string `json:"format"`
	Content string `json:"content"`
}

// RefreshResponse is the wire shape of /v0/catalog/refresh.
type RefreshResponse struct {
	Counts map[string]int `json:"counts"`
	Stats  catalog.Stats  `json:"stats"`
}

// WorkflowStep mirrors one workflow step as served by the API.
type WorkflowStep struct {
	Server string         `json:"server"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
}

// Workflow mirrors a configured workflow as served by the API.
type Workflow struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Steps       []WorkflowStep `json:"steps"`
}

// WorkflowListResponse is the wire shape of /v0/workflows.
type WorkflowListResponse struct {
	Workflows []Workflow `json:"workflows"`
}

// ExecutionStep mirrors one step result of an execution.
type ExecutionStep struct {
	Step     int           `json:"step"`
	ServerID string        `json:"server_id"`
	Tool     string        `json:"tool"`
	OK       bool          `json:"ok"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Execution mirrors a workflow execution record as served by the API.
type Execution struct {
	ID             string          `json:"id"`
	Workflow       string          `json:"workflow"`
	Status         string          `json:"status"`
	StepsTotal     int             `json:"steps_total"`
	StepsCompleted int             `json:"steps_completed"`
	Results        []ExecutionStep `json:"results,omitempty"`
	Errors         []string        `json:"errors,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// ExecutionListResponse is the wire shape of /v0/executions.
type ExecutionListResponse struct {
	Executions []Execution `json:"executions"`
}

// GetServer fetches one server's state and definition.
func (c *Client) GetServer(ctx context.Context, serverID string) (*ServerDetailResponse, error) {
	var resp ServerDetailResponse
	if err := c.getJSON(ctx, c.BaseURL+"/v0/servers/"+url.PathEscape(serverID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ServerAction posts a lifecycle action (start, stop or restart) and
// returns the server state after the action.
func (c *Client) ServerAction(ctx context.Context, serverID, action string) (*fleet.ServerState, error) {
	var state fleet.ServerState
	path := fmt.Sprintf("%s/v0/servers/%s/%s", c.BaseURL, url.PathEscape(serverID), action)
	if err := c.postJSON(ctx, path, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// FetchEvents lists recent transition events, optionally for one server.
func (c *Client) FetchEvents(ctx context.Context, serverID string, limit int) ([]fleet.Event, error) {
	fetchURL := c.BaseURL + "/v0/events"
	q := url.Values{}
	if serverID != "" {
		q.Set("server", serverID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) > 0 {
		fetchURL += "?" + q.Encode()
	}
	var resp EventListResponse
	if err := c.getJSON(ctx, fetchURL, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Stats fetches catalog statistics.
func (c *Client) Stats(ctx context.Context) (*catalog.Stats, error) {
	var resp StatsResponse
	if err := c.getJSON(ctx, c.BaseURL+"/v0/catalog/stats", &resp); err != nil {
		return nil, err
	}
	return &resp.Stats, nil
}

// Export renders the catalog in the given format.
func (c *Client) Export(ctx context.Context, format string) (string, error) {
	var resp ExportResponse
	fetchURL := c.BaseURL + "/v0/catalog/export?format=" + url.QueryEscape(format)
	if err := c.getJSON(ctx, fetchURL, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

// RefreshCatalog triggers a catalog re-collection.
func (c *Client) RefreshCatalog(ctx context.Context) (*RefreshResponse, error) {
	var resp RefreshResponse
	if err := c.postJSON(ctx, c.BaseURL+"/v0/catalog/refresh", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchWorkflows lists the configured workflows.
func (c *Client) FetchWorkflows(ctx context.Context) ([]Workflow, error) {
	var resp WorkflowListResponse
	if err := c.getJSON(ctx, c.BaseURL+"/v0/workflows", &resp); err != nil {
		return nil, err
	}
	return resp.Workflows, nil
}

// RunWorkflow starts a workflow and returns the pending execution.
func (c *Client) RunWorkflow(ctx context.Context, name string, args map[string]any) (*Execution, error) {
	body := map[string]any{}
	if len(args) > 0 {
		body["args"] = args
	}
	var exec Execution
	path := c.BaseURL + "/v0/workflows/" + url.PathEscape(name) + "/run"
	if err := c.postJSON(ctx, path, body, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// FetchExecutions lists recent workflow executions.
func (c *Client) FetchExecutions(ctx context.Context, limit int) ([]Execution, error) {
	fetchURL := c.BaseURL + "/v0/executions"
	if limit > 0 {
		fetchURL += "?limit=" + strconv.Itoa(limit)
	}
	var resp ExecutionListResponse
	if err := c.getJSON(ctx, fetchURL, &resp); err != nil {
		return nil, err
	}
	return resp.Executions, nil
}

// GetExecution fetches one execution by id.
func (c *Client) GetExecution(ctx context.Context, id string) (*Execution, error) {
	var exec Execution
	if err := c.getJSON(ctx, c.BaseURL+"/v0/executions/"+url.PathEscape(id), &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (c *Client) postJSON(ctx context.Context, rawURL string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
