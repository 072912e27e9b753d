// Package client talks to remote mcpfleet APIs, used to aggregate tool
// catalogs from other fleets into the local one.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/devskyy/mcpfleet/internal/catalog"
	"github.com/devskyy/mcpfleet/internal/fleet"
)

// Metadata carries pagination state in list responses.
type Metadata struct {
	NextCursor string `json:"nextCursor,omitempty"`
	Count      int    `json:"count"`
}

// ToolListResponse is the wire shape of /v0/tools.
type ToolListResponse struct {
	Tools    []catalog.ToolMetadata `json:"tools"`
	Metadata Metadata               `json:"metadata"`
}

// ServerListResponse is the wire shape of /v0/servers.
type ServerListResponse struct {
	Servers []fleet.ServerState `json:"servers"`
	Summary fleet.Summary       `json:"summary"`
}

// HealthResponse is the wire shape of /v0/health.
type HealthResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version,omitempty"`
	Fleet   fleet.Summary `json:"fleet"`
}

// Client handles communication with a remote fleet.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a client for one remote fleet base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Validate checks that the URL hosts a fleet API we can read.
func (c *Client) Validate(ctx context.Context) error {
	var resp ToolListResponse
	if err := c.getJSON(ctx, c.BaseURL+"/v0/tools?limit=1", &resp); err != nil {
		return fmt.Errorf("not a fleet registry: %w", err)
	}
	return nil
}

// Health fetches the remote fleet's aggregate health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getJSON(ctx, c.BaseURL+"/v0/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchServers lists the remote fleet's server states.
func (c *Client) FetchServers(ctx context.Context) ([]fleet.ServerState, error) {
	var resp ServerListResponse
	if err := c.getJSON(ctx, c.BaseURL+"/v0/servers", &resp); err != nil {
		return nil, err
	}
	return resp.Servers, nil
}

// FetchOptions configures the fetch behavior.
type FetchOptions struct {
	ShowProgress bool
}

// FetchAllTools fetches the remote tool catalog with cursor pagination.
func (c *Client) FetchAllTools(ctx context.Context, opts FetchOptions) ([]catalog.ToolMetadata, error) {
	const pageLimit = 100

	var bar *progressbar.ProgressBar
	if opts.ShowProgress {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Fetching tools"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("tools"),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
		)
	}

	var all []catalog.ToolMetadata
	cursor := ""
	page := 0
	for {
		page++
		fetchURL := fmt.Sprintf("%s/v0/tools?limit=%d", c.BaseURL, pageLimit)
		if cursor != "" {
			fetchURL += "&cursor=" + url.QueryEscape(cursor)
		}

		var resp ToolListResponse
		if err := c.getJSON(ctx, fetchURL, &resp); err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}

		all = append(all, resp.Tools...)
		if bar != nil {
			_ = bar.Add(len(resp.Tools))
		}

		if resp.Metadata.NextCursor == "" {
			break
		}
		cursor = resp.Metadata.NextCursor
	}

	if bar != nil {
		_ = bar.Finish()
	}
	return all, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
