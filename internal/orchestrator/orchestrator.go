// Package orchestrator is the control plane facade: it unifies the
// process supervisor, the tool catalog and remote fleets behind one
// surface, and runs multi-server workflows.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/devskyy/mcpfleet/internal/catalog"
	"github.com/devskyy/mcpfleet/internal/client"
	"github.com/devskyy/mcpfleet/internal/fleet"
)

// Orchestrator coordinates the supervised fleet, the unified tool
// catalog and any configured remote fleets.
type Orchestrator struct {
	supervisor  *fleet.Supervisor
	registry    *catalog.Registry
	exporter    *catalog.Exporter
	collector   *catalog.Collector
	engine      *Engine
	store       *ExecutionStore
	remotes     []*client.Client
	onExecution func(*Execution)
	logger      *zap.Logger
}

// Options configures an Orchestrator.
type Options struct {
	Supervisor *fleet.Supervisor
	Registry   *catalog.Registry
	Workflows  map[string]Workflow
	Remotes    []*client.Client
	Logger     *zap.Logger

	// OnExecution observes finished workflow executions, e.g. for
	// metrics or persistent history.
	OnExecution func(*Execution)

	// SessionOpener overrides how MCP sessions are dialed, for tests.
	SessionOpener catalog.SessionOpener
}

// New wires up an orchestrator around a running supervisor.
func New(opts Options) (*Orchestrator, error) {
	if opts.Supervisor == nil {
		return nil, fmt.Errorf("orchestrator requires a supervisor")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := opts.Registry
	if registry == nil {
		registry = catalog.NewRegistry(logger)
	}

	o := &Orchestrator{
		supervisor:  opts.Supervisor,
		registry:    registry,
		exporter:    catalog.NewExporter(registry, logger),
		collector:   catalog.NewCollector(registry, opts.SessionOpener, logger),
		store:       NewExecutionStore(),
		remotes:     opts.Remotes,
		onExecution: opts.OnExecution,
		logger:      logger,
	}
	o.engine = NewEngine(opts.Workflows, o.store, o.callTool, logger)
	return o, nil
}

// Close stops the orchestrator's background bookkeeping. It does not
// touch the supervisor.
func (o *Orchestrator) Close() { o.store.Close() }

// Registry exposes the unified tool catalog.
func (o *Orchestrator) Registry() *catalog.Registry { return o.registry }

// Exporter exposes the catalog exporter.
func (o *Orchestrator) Exporter() *catalog.Exporter { return o.exporter }

// Supervisor exposes the process supervisor.
func (o *Orchestrator) Supervisor() *fleet.Supervisor { return o.supervisor }

// RemoteStatus reports one remote fleet's reachability.
type RemoteStatus struct {
	URL string `json:"url"`
	OK  bool   `json:"ok"`
}

// HealthStatus is the aggregate health of the whole deployment.
type HealthStatus struct {
	Status  string         `json:"status"`
	Fleet   fleet.Summary  `json:"fleet"`
	Remotes []RemoteStatus `json:"remotes,omitempty"`
}

// Health reports aggregate health: ok only when no server is failed or
// unhealthy and every remote fleet answers.
func (o *Orchestrator) Health(ctx context.Context) HealthStatus {
	summary := fleet.Summarize(o.supervisor.Snapshot())
	status := "ok"
	if !summary.OK {
		status = "degraded"
	}

	var remotes []RemoteStatus
	for _, remote := range o.remotes {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := remote.Health(checkCtx)
		cancel()
		remotes = append(remotes, RemoteStatus{URL: remote.BaseURL, OK: err == nil})
		if err != nil {
			status = "degraded"
		}
	}
	return HealthStatus{Status: status, Fleet: summary, Remotes: remotes}
}

// RefreshCatalog re-collects tools from every local server and pulls
// the catalogs of any configured remote fleets. Remote tools are
// re-homed under the remote's identity and replaced wholesale on each
// refresh, so tools the remote stops reporting drop out. Individual
// server failures are logged and skipped.
func (o *Orchestrator) RefreshCatalog(ctx context.Context) (map[string]int, error) {
	counts, err := o.collector.CollectAll(ctx, o.supervisor.Definitions())

	for _, remote := range o.remotes {
		tools, rerr := remote.FetchAllTools(ctx, client.FetchOptions{})
		if rerr != nil {
			o.logger.Warn("remote catalog fetch failed",
				zap.String("remote", remote.BaseURL),
				zap.Error(rerr))
			if err == nil {
				err = rerr
			}
			continue
		}
		o.mergeRemote(remote.BaseURL, tools)
		counts["remote:"+remote.BaseURL] = len(tools)
	}
	return counts, err
}

// mergeRemote folds one remote's catalog into the registry. Every tool
// lands under "remote:<url>/<origin server>" so remote entries never
// collide with local server ids and stale ones can be dropped when the
// remote stops reporting them.
func (o *Orchestrator) mergeRemote(baseURL string, tools []catalog.ToolMetadata) {
	prefix := "remote:" + baseURL + "/"

	grouped := make(map[string][]catalog.ToolMetadata)
	for _, tool := range tools {
		tool.ServerID = prefix + tool.ServerID
		grouped[tool.ServerID] = append(grouped[tool.ServerID], tool)
	}

	for _, id := range o.registry.ServerIDs() {
		if strings.HasPrefix(id, prefix) {
			if _, ok := grouped[id]; !ok {
				o.registry.UnregisterServer(id)
			}
		}
	}

	for id, group := range grouped {
		if err := o.registry.ReplaceServer(id, group); err != nil {
			o.logger.Warn("remote tools rejected",
				zap.String("server", id),
				zap.Error(err))
		}
	}
}

// ExportCatalog writes every export format into dir.
func (o *Orchestrator) ExportCatalog(dir string) (map[catalog.Format]string, error) {
	return o.exporter.ExportAll(dir)
}

// Workflows lists the configured workflow definitions.
func (o *Orchestrator) Workflows() []Workflow { return o.engine.Workflows() }

// Workflow returns one workflow definition.
func (o *Orchestrator) Workflow(name string) (Workflow, bool) { return o.engine.Lookup(name) }

// RunWorkflow executes a workflow synchronously.
func (o *Orchestrator) RunWorkflow(ctx context.Context, name string, args map[string]any) (*Execution, error) {
	exec, err := o.engine.Run(ctx, name, args)
	if err == nil && o.onExecution != nil {
		o.onExecution(exec)
	}
	return exec, err
}

// StartWorkflow kicks off a workflow in the background and returns the
// pending execution immediately.
func (o *Orchestrator) StartWorkflow(name string, args map[string]any) (*Execution, error) {
	wf, ok := o.engine.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q", name)
	}

	exec, err := o.store.Create(name, len(wf.Steps))
	if err != nil {
		return nil, err
	}

	go func() {
		if err := o.runExisting(context.Background(), wf, exec.ID, args); err != nil {
			o.logger.Error("background workflow failed",
				zap.String("workflow", name),
				zap.Error(err))
		}
	}()
	return exec, nil
}

// runExisting drives a pre-created execution through the engine's step
// loop.
func (o *Orchestrator) runExisting(ctx context.Context, wf Workflow, id ExecutionID, args map[string]any) error {
	if err := o.store.MarkRunning(id); err != nil {
		return err
	}
	for i, step := range wf.Steps {
		result := o.engine.runStep(ctx, i+1, step, args)
		if err := o.store.AppendResult(id, result); err != nil {
			return err
		}
	}
	if err := o.store.Finish(id); err != nil {
		return err
	}
	if o.onExecution != nil {
		if exec, err := o.store.Get(id); err == nil {
			o.onExecution(exec)
		}
	}
	return nil
}

// Executions lists recent workflow executions, newest first.
func (o *Orchestrator) Executions(limit int) []Execution { return o.store.List(limit) }

// Execution returns one execution by id.
func (o *Orchestrator) Execution(id ExecutionID) (*Execution, error) { return o.store.Get(id) }

// CallTool invokes one tool on one supervised server and returns its
// text output.
func (o *Orchestrator) CallTool(ctx context.Context, serverID, tool string, args map[string]any) (string, error) {
	return o.callTool(ctx, serverID, tool, args)
}

func (o *Orchestrator) callTool(ctx context.Context, serverID, tool string, args map[string]any) (string, error) {
	def, ok := o.definition(serverID)
	if !ok {
		return "", fmt.Errorf("unknown server %q", serverID)
	}

	session, err := fleet.OpenSession(ctx, def)
	if err != nil {
		return "", err
	}
	defer func() { _ = session.Close() }()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("call %s on %s: %w", tool, serverID, err)
	}

	output := flattenContent(res.Content)
	if res.IsError {
		if output == "" {
			output = "tool reported an error"
		}
		return "", fmt.Errorf("%s on %s: %s", tool, serverID, output)
	}
	return output, nil
}

func (o *Orchestrator) definition(serverID string) (fleet.Definition, bool) {
	for _, def := range o.supervisor.Definitions() {
		if def.ID == serverID {
			return def, true
		}
	}
	return fleet.Definition{}, false
}

func flattenContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
