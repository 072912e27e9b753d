package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devskyy/mcpfleet/internal/api"
	v0 "github.com/devskyy/mcpfleet/internal/api/handlers/v0"
	"github.com/devskyy/mcpfleet/internal/auth"
	"github.com/devskyy/mcpfleet/internal/catalog"
	"github.com/devskyy/mcpfleet/internal/fleet"
	"github.com/devskyy/mcpfleet/internal/orchestrator"
)

const testSeed = "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"

type alwaysHealthy struct{}

func (alwaysHealthy) Probe(context.Context, fleet.Definition) error { return nil }

func newTestServer(t *testing.T, jwtManager *auth.JWTManager) *httptest.Server {
	t.Helper()

	defs := []fleet.Definition{
		{ID: "commerce", Command: "sleep", Args: []string{"60"}},
		{ID: "content", Command: "sleep", Args: []string{"60"}},
	}
	sup, err := fleet.NewSupervisor(defs, fleet.Options{
		HealthInterval: time.Hour,
		Logger:         zap.NewNop(),
		Prober:         alwaysHealthy{},
	})
	require.NoError(t, err)
	t.Cleanup(sup.Shutdown)

	registry := catalog.NewRegistry(zap.NewNop())
	for _, tool := range []catalog.ToolMetadata{
		{Name: "create_order", Description: "Create an order", ServerID: "commerce", Category: catalog.CategoryCommerce, Severity: catalog.SeverityMedium},
		{Name: "get_post", Description: "Fetch a post", ServerID: "content", Category: catalog.CategoryContent, Severity: catalog.SeverityReadOnly, ReadOnly: true},
		{Name: "list_products", Description: "List products", ServerID: "commerce", Category: catalog.CategoryCommerce, Severity: catalog.SeverityLow},
	} {
		require.NoError(t, registry.Register(tool))
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Supervisor: sup,
		Registry:   registry,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(orch.Close)

	deps := &v0.Deps{
		Orchestrator: orch,
		JWT:          jwtManager,
		Version:      v0.VersionBody{Version: "test"},
	}

	srv := api.NewServer(":0", deps, nil, jwtManager, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.Unmarshal(body, out))
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	var body v0.HealthBody
	status := getJSON(t, ts.URL+"/v0/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 2, body.Fleet.Total)
}

func TestPingEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	var body v0.PingBody
	status := getJSON(t, ts.URL+"/v0/ping", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, body.Pong)
}

func TestListServersEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	var body v0.ServerListBody
	status := getJSON(t, ts.URL+"/v0/servers", &body)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, body.Servers, 2)
	assert.Equal(t, "commerce", body.Servers[0].ID)
	assert.Equal(t, fleet.StatusStopped, body.Servers[0].Status)

	// Status filter: nothing runs in this fixture.
	status = getJSON(t, ts.URL+"/v0/servers?status=running", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body.Servers)
	assert.Equal(t, 2, body.Summary.Total)
}

func TestGetServerEndpoint_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	status := getJSON(t, ts.URL+"/v0/servers/ghost", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListToolsEndpoint_Pagination(t *testing.T) {
	ts := newTestServer(t, nil)

	var page1 v0.ToolListBody
	status := getJSON(t, ts.URL+"/v0/tools?limit=2", &page1)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page1.Tools, 2)
	assert.Equal(t, "create_order", page1.Tools[0].Name)
	require.NotEmpty(t, page1.Metadata.NextCursor)

	var page2 v0.ToolListBody
	status = getJSON(t, ts.URL+"/v0/tools?limit=2&cursor="+page1.Metadata.NextCursor, &page2)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page2.Tools, 1)
	assert.Equal(t, "list_products", page2.Tools[0].Name)
	assert.Empty(t, page2.Metadata.NextCursor)
}

func TestListToolsEndpoint_Filters(t *testing.T) {
	ts := newTestServer(t, nil)

	var body v0.ToolListBody
	status := getJSON(t, ts.URL+"/v0/tools?category=content", &body)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body.Tools, 1)
	assert.Equal(t, "get_post", body.Tools[0].Name)

	status = getJSON(t, ts.URL+"/v0/tools?search=order", &body)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body.Tools, 1)

	status = getJSON(t, ts.URL+"/v0/tools?severity=read_only", &body)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body.Tools, 1)
	assert.Equal(t, "get_post", body.Tools[0].Name)
}

func TestCatalogStatsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	var body v0.StatsBody
	status := getJSON(t, ts.URL+"/v0/catalog/stats", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, body.Stats.TotalTools)
	assert.Equal(t, 2, body.Stats.TotalServers)
}

func TestExportCatalogEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	var body v0.ExportBody
	status := getJSON(t, ts.URL+"/v0/catalog/export?format=markdown", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "markdown", body.Format)
	assert.Contains(t, body.Content, "# MCP Tool Catalog")
}

func TestRunWorkflowEndpoint_Unknown(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/v0/workflows/ghost/run", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTrailingSlashRedirect(t *testing.T) {
	ts := newTestServer(t, nil)

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(ts.URL + "/v0/health/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusPermanentRedirect, resp.StatusCode)
	assert.Equal(t, "/v0/health", resp.Header.Get("Location"))
}

func TestNotFoundSuggestion(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/v0/health")
}

func TestLifecycleEndpoints_RequireOperatorToken(t *testing.T) {
	manager, err := auth.NewJWTManager(testSeed)
	require.NoError(t, err)
	ts := newTestServer(t, manager)

	// No token: rejected.
	resp, err := http.Post(ts.URL+"/v0/servers/ghost/restart", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Viewer token: forbidden.
	viewer, err := manager.GenerateToken(context.Background(), "viewer@test", auth.RoleViewer)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v0/servers/ghost/restart", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+viewer.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Operator token: passes auth, fails on the unknown server.
	operator, err := manager.GenerateToken(context.Background(), "ops@test", auth.RoleOperator)
	require.NoError(t, err)
	req, err = http.NewRequest(http.MethodPost, ts.URL+"/v0/servers/ghost/restart", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+operator.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Reads stay open without a token.
	status := getJSON(t, ts.URL+"/v0/servers", nil)
	assert.Equal(t, http.StatusOK, status)
}
