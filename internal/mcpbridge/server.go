// Package mcpbridge exposes the fleet itself as an MCP server, so
// agents can inspect and drive the fleet over the protocol they
// already speak.
package mcpbridge

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/devskyy/mcpfleet/internal/catalog"
	"github.com/devskyy/mcpfleet/internal/fleet"
	"github.com/devskyy/mcpfleet/internal/orchestrator"
	"github.com/devskyy/mcpfleet/internal/version"
)

// NewServer constructs an MCP server exposing fleet inspection and
// control tools backed by the orchestrator.
func NewServer(orch *orchestrator.Orchestrator) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "mcpfleet",
		Version: version.Version,
	}, &mcp.ServerOptions{
		HasTools: true,
	})

	addFleetTools(server, orch)
	addCatalogTools(server, orch)
	addWorkflowTools(server, orch)
	return server
}

type fleetStatusOut struct {
	Status  string              `json:"status"`
	Summary fleet.Summary       `json:"summary"`
	Servers []fleet.ServerState `json:"servers"`
}

func addFleetTools(server *mcp.Server, orch *orchestrator.Orchestrator) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "fleet_status",
		Description: "Current status of every supervised server",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, fleetStatusOut, error) {
		health := orch.Health(ctx)
		return nil, fleetStatusOut{
			Status:  health.Status,
			Summary: health.Fleet,
			Servers: orch.Supervisor().Snapshot(),
		}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_server",
		Description: "Fetch one server's state and recent transition events",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args struct {
		ServerID string `json:"server_id"`
	}) (*mcp.CallToolResult, struct {
		Server fleet.ServerState `json:"server"`
		Events []fleet.Event     `json:"events"`
	}, error) {
		var out struct {
			Server fleet.ServerState `json:"server"`
			Events []fleet.Event     `json:"events"`
		}
		state, err := orch.Supervisor().State(args.ServerID)
		if err != nil {
			return nil, out, err
		}
		out.Server = state
		out.Events = orch.Supervisor().Events(args.ServerID, 20)
		return nil, out, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "restart_server",
		Description: "Restart one supervised server",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args struct {
		ServerID string `json:"server_id"`
	}) (*mcp.CallToolResult, fleet.ServerState, error) {
		if err := orch.Supervisor().Restart(args.ServerID); err != nil {
			return nil, fleet.ServerState{}, err
		}
		state, err := orch.Supervisor().State(args.ServerID)
		return nil, state, err
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fleet_version",
		Description: "Build version of the fleet control plane",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, struct {
		Version   string `json:"version"`
		GitCommit string `json:"git_commit"`
	}, error) {
		return nil, struct {
			Version   string `json:"version"`
			GitCommit string `json:"git_commit"`
		}{Version: version.Version, GitCommit: version.GitCommit}, nil
	})
}

type toolListOut struct {
	Tools []catalog.ToolMetadata `json:"tools"`
	Count int                    `json:"count"`
}

func addCatalogTools(server *mcp.Server, orch *orchestrator.Orchestrator) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_tools",
		Description: "List the unified tool catalog, optionally for one server",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args struct {
		ServerID string `json:"server_id,omitempty"`
	}) (*mcp.CallToolResult, toolListOut, error) {
		var tools []catalog.ToolMetadata
		if args.ServerID != "" {
			tools = orch.Registry().ByServer(args.ServerID)
		} else {
			tools = orch.Registry().All()
		}
		return nil, toolListOut{Tools: tools, Count: len(tools)}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_tools",
		Description: "Search the tool catalog by name, description or tag",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args struct {
		Query string `json:"query"`
	}) (*mcp.CallToolResult, toolListOut, error) {
		tools := orch.Registry().Search(args.Query)
		return nil, toolListOut{Tools: tools, Count: len(tools)}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "catalog_stats",
		Description: "Catalog statistics including detected conflicts",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, catalog.Stats, error) {
		return nil, orch.Registry().Stats(), nil
	})
}

func addWorkflowTools(server *mcp.Server, orch *orchestrator.Orchestrator) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_workflows",
		Description: "List the configured workflows",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, struct {
		Workflows []orchestrator.Workflow `json:"workflows"`
	}, error) {
		return nil, struct {
			Workflows []orchestrator.Workflow `json:"workflows"`
		}{Workflows: orch.Workflows()}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_workflow",
		Description: "Run a workflow to completion and return the execution record",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args,omitempty"`
	}) (*mcp.CallToolResult, orchestrator.Execution, error) {
		exec, err := orch.RunWorkflow(ctx, args.Name, args.Args)
		if err != nil {
			return nil, orchestrator.Execution{}, fmt.Errorf("run workflow: %w", err)
		}
		return nil, *exec, nil
	})
}
