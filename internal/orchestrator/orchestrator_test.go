package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devskyy/mcpfleet/internal/catalog"
	"github.com/devskyy/mcpfleet/internal/client"
	"github.com/devskyy/mcpfleet/internal/fleet"
)

func TestOrchestrator_RefreshCatalog_RemoteReplace(t *testing.T) {
	var mu sync.Mutex
	remoteTools := []catalog.ToolMetadata{
		{Name: "sync_inventory", ServerID: "commerce", Version: "1.0.0"},
		{Name: "publish_post", ServerID: "content", Version: "1.0.0"},
	}

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewEncoder(w).Encode(client.ToolListResponse{
			Tools:    remoteTools,
			Metadata: client.Metadata{Count: len(remoteTools)},
		})
	}))
	defer remote.Close()

	sup, err := fleet.NewSupervisor([]fleet.Definition{
		{ID: "local", Command: "sleep", Args: []string{"60"}},
	}, fleet.Options{HealthInterval: time.Hour, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer sup.Shutdown()

	registry := catalog.NewRegistry(zap.NewNop())
	orch, err := New(Options{
		Supervisor: sup,
		Registry:   registry,
		Remotes:    []*client.Client{client.NewClient(remote.URL)},
		Logger:     zap.NewNop(),
		SessionOpener: func(context.Context, fleet.Definition) (*mcp.ClientSession, error) {
			return nil, errors.New("local server offline")
		},
	})
	require.NoError(t, err)
	defer orch.Close()

	// The local server cannot be collected; the remote still merges.
	counts, err := orch.RefreshCatalog(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, counts["remote:"+remote.URL])

	// Remote tools carry the remote's identity, not the bare id the
	// remote reported.
	tool, ok := registry.Get("sync_inventory")
	require.True(t, ok)
	assert.Equal(t, "remote:"+remote.URL+"/commerce", tool.ServerID)

	// Shrink the remote catalog: repeated refreshes drop the removed
	// tool instead of piling up registrations.
	mu.Lock()
	remoteTools = remoteTools[:1]
	mu.Unlock()

	for i := 0; i < 3; i++ {
		_, _ = orch.RefreshCatalog(context.Background())
	}

	_, ok = registry.Get("publish_post")
	assert.False(t, ok)
	assert.Equal(t, []string{"remote:" + remote.URL + "/commerce"}, registry.ServerIDs())
	assert.Equal(t, 1, registry.Stats().TotalTools)
	assert.Empty(t, registry.Stats().Conflicts)
}
