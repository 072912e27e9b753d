package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadWorkflows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workflows.yaml")
	content := `
workflows:
  - name: catalog_rebuild
    description: Re-sync products and refresh search
    steps:
      - server: commerce
        tool: sync_products
      - server: search
        tool: rebuild_index
        args:
          full: true
  - name: content_publish
    steps:
      - server: content
        tool: publish_drafts
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	workflows, err := LoadWorkflows(path)
	require.NoError(t, err)
	require.Len(t, workflows, 2)

	wf := workflows["catalog_rebuild"]
	require.Len(t, wf.Steps, 2)
	assert.Equal(t, "commerce", wf.Steps[0].Server)
	assert.Equal(t, true, wf.Steps[1].Args["full"])
}

func TestLoadWorkflows_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "workflows:\n  - steps:\n      - server: a\n        tool: b\n",
			wantErr: "missing a name",
		},
		{
			name:    "no steps",
			content: "workflows:\n  - name: empty\n",
			wantErr: "no steps",
		},
		{
			name:    "step without tool",
			content: "workflows:\n  - name: bad\n    steps:\n      - server: a\n",
			wantErr: "server and tool",
		},
		{
			name:    "duplicate",
			content: "workflows:\n  - name: dup\n    steps:\n      - {server: a, tool: b}\n  - name: dup\n    steps:\n      - {server: a, tool: b}\n",
			wantErr: "duplicate workflow",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o644))

			_, err := LoadWorkflows(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func testWorkflows() map[string]Workflow {
	return map[string]Workflow{
		"deploy": {
			Name: "deploy",
			Steps: []Step{
				{Server: "content", Tool: "publish", Args: map[string]any{"draft": false}},
				{Server: "commerce", Tool: "sync_products"},
				{Server: "search", Tool: "rebuild_index"},
			},
		},
	}
}

func TestEngine_Run_AllStepsPass(t *testing.T) {
	var calls []string
	call := func(ctx context.Context, serverID, tool string, args map[string]any) (string, error) {
		calls = append(calls, serverID+"/"+tool)
		return "done", nil
	}

	engine := NewEngine(testWorkflows(), newTestStore(t), call, zap.NewNop())

	exec, err := engine.Run(context.Background(), "deploy", nil)
	require.NoError(t, err)

	assert.Equal(t, ExecutionCompleted, exec.Status)
	assert.Equal(t, 3, exec.StepsCompleted)
	assert.Empty(t, exec.Errors)
	assert.NotNil(t, exec.CompletedAt)
	assert.Equal(t, []string{"content/publish", "commerce/sync_products", "search/rebuild_index"}, calls)
	assert.Equal(t, "done", exec.Results[0].Output)
}

func TestEngine_Run_ContinuesPastFailures(t *testing.T) {
	call := func(ctx context.Context, serverID, tool string, args map[string]any) (string, error) {
		if tool == "sync_products" {
			return "", errors.New("woo is down")
		}
		return "ok", nil
	}

	engine := NewEngine(testWorkflows(), newTestStore(t), call, zap.NewNop())

	exec, err := engine.Run(context.Background(), "deploy", nil)
	require.NoError(t, err)

	// The failed step is recorded but later steps still run.
	assert.Equal(t, ExecutionFailed, exec.Status)
	assert.Equal(t, 3, exec.StepsCompleted)
	require.Len(t, exec.Errors, 1)
	assert.Contains(t, exec.Errors[0], "woo is down")
	assert.False(t, exec.Results[1].OK)
	assert.True(t, exec.Results[2].OK)
}

func TestEngine_Run_MergesArgs(t *testing.T) {
	var seen map[string]any
	call := func(ctx context.Context, serverID, tool string, args map[string]any) (string, error) {
		if tool == "publish" {
			seen = args
		}
		return "", nil
	}

	engine := NewEngine(testWorkflows(), newTestStore(t), call, zap.NewNop())

	_, err := engine.Run(context.Background(), "deploy", map[string]any{"draft": true, "site": "prod"})
	require.NoError(t, err)

	// Run args override per-step args.
	assert.Equal(t, true, seen["draft"])
	assert.Equal(t, "prod", seen["site"])
}

func TestEngine_Run_UnknownWorkflow(t *testing.T) {
	engine := NewEngine(nil, newTestStore(t), nil, zap.NewNop())

	_, err := engine.Run(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown workflow")
}

func TestEngine_Workflows_Sorted(t *testing.T) {
	engine := NewEngine(map[string]Workflow{
		"zeta":  {Name: "zeta", Steps: []Step{{Server: "a", Tool: "b"}}},
		"alpha": {Name: "alpha", Steps: []Step{{Server: "a", Tool: "b"}}},
	}, newTestStore(t), nil, zap.NewNop())

	workflows := engine.Workflows()
	require.Len(t, workflows, 2)
	assert.Equal(t, "alpha", workflows[0].Name)
}

func newTestStore(t *testing.T) *ExecutionStore {
	t.Helper()
	store := NewExecutionStore()
	t.Cleanup(store.Close)
	return store
}

func TestExecutionStore_Close(t *testing.T) {
	store := NewExecutionStore()
	store.Close()
	store.Close() // idempotent

	// Only the janitor stops; the store stays usable.
	exec, err := store.Create("deploy", 1)
	require.NoError(t, err)
	require.NoError(t, store.Finish(exec.ID))
}

func TestExecutionStore_Lifecycle(t *testing.T) {
	store := newTestStore(t)

	exec, err := store.Create("deploy", 2)
	require.NoError(t, err)
	assert.Equal(t, ExecutionPending, exec.Status)

	// Same workflow cannot run twice concurrently.
	_, err = store.Create("deploy", 2)
	assert.ErrorIs(t, err, ErrWorkflowBusy)

	// A different workflow can.
	_, err = store.Create("other", 1)
	require.NoError(t, err)

	require.NoError(t, store.MarkRunning(exec.ID))
	require.NoError(t, store.AppendResult(exec.ID, StepResult{Step: 1, OK: true}))
	require.NoError(t, store.AppendResult(exec.ID, StepResult{Step: 2, OK: false, Error: "boom"}))
	require.NoError(t, store.Finish(exec.ID))

	got, err := store.Get(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionFailed, got.Status)
	assert.Equal(t, 2, got.StepsCompleted)

	// Once finished, the workflow can run again.
	_, err = store.Create("deploy", 2)
	require.NoError(t, err)
}

func TestExecutionStore_GetUnknown(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get("nope")
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestExecutionStore_ListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 3; i++ {
		exec, err := store.Create(fmt.Sprintf("wf-%d", i), 1)
		require.NoError(t, err)
		require.NoError(t, store.Finish(exec.ID))
	}

	all := store.List(0)
	assert.Len(t, all, 3)

	limited := store.List(2)
	assert.Len(t, limited, 2)
}
