package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Step is one tool invocation inside a workflow.
type Step struct {
	Server string         `yaml:"server" json:"server"`
	Tool   string         `yaml:"tool" json:"tool"`
	Args   map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
}

// Workflow is a named sequence of tool invocations across the fleet.
type Workflow struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []Step `yaml:"steps" json:"steps"`
}

type workflowFile struct {
	Workflows []Workflow `yaml:"workflows"`
}

// LoadWorkflows reads workflow definitions from a YAML file.
func LoadWorkflows(path string) (map[string]Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow config: %w", err)
	}

	var file workflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse workflow config %s: %w", path, err)
	}

	out := make(map[string]Workflow, len(file.Workflows))
	for _, wf := range file.Workflows {
		if wf.Name == "" {
			return nil, fmt.Errorf("workflow config %s: workflow is missing a name", path)
		}
		if len(wf.Steps) == 0 {
			return nil, fmt.Errorf("workflow %s has no steps", wf.Name)
		}
		for i, step := range wf.Steps {
			if step.Server == "" || step.Tool == "" {
				return nil, fmt.Errorf("workflow %s step %d needs both server and tool", wf.Name, i+1)
			}
		}
		if _, ok := out[wf.Name]; ok {
			return nil, fmt.Errorf("duplicate workflow %s", wf.Name)
		}
		out[wf.Name] = wf
	}
	return out, nil
}

// ToolCaller invokes one tool on one fleet server and returns its text
// output.
type ToolCaller func(ctx context.Context, serverID, tool string, args map[string]any) (string, error)

// Engine runs workflows step by step. A failed step is recorded and
// execution continues; the execution as a whole fails if any step did.
type Engine struct {
	workflows map[string]Workflow
	store     *ExecutionStore
	call      ToolCaller
	logger    *zap.Logger
}

// NewEngine builds a workflow engine.
func NewEngine(workflows map[string]Workflow, store *ExecutionStore, call ToolCaller, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workflows == nil {
		workflows = map[string]Workflow{}
	}
	return &Engine{
		workflows: workflows,
		store:     store,
		call:      call,
		logger:    logger,
	}
}

// Workflows lists the known workflow definitions sorted by name.
func (e *Engine) Workflows() []Workflow {
	out := make([]Workflow, 0, len(e.workflows))
	for _, wf := range e.workflows {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns one workflow definition by name.
func (e *Engine) Lookup(name string) (Workflow, bool) {
	wf, ok := e.workflows[name]
	return wf, ok
}

// Run executes a workflow synchronously and returns the finished
// execution. Extra args are merged over each step's own args.
func (e *Engine) Run(ctx context.Context, name string, args map[string]any) (*Execution, error) {
	wf, ok := e.workflows[name]
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q", name)
	}

	exec, err := e.store.Create(name, len(wf.Steps))
	if err != nil {
		return nil, err
	}
	if err := e.store.MarkRunning(exec.ID); err != nil {
		return nil, err
	}

	e.logger.Info("workflow started",
		zap.String("workflow", name),
		zap.String("execution", string(exec.ID)),
		zap.Int("steps", len(wf.Steps)))

	for i, step := range wf.Steps {
		result := e.runStep(ctx, i+1, step, args)
		if err := e.store.AppendResult(exec.ID, result); err != nil {
			return nil, err
		}
		if !result.OK {
			e.logger.Warn("workflow step failed",
				zap.String("workflow", name),
				zap.Int("step", i+1),
				zap.String("server", step.Server),
				zap.String("tool", step.Tool),
				zap.String("error", result.Error))
		}
	}

	if err := e.store.Finish(exec.ID); err != nil {
		return nil, err
	}

	final, err := e.store.Get(exec.ID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("workflow finished",
		zap.String("workflow", name),
		zap.String("execution", string(exec.ID)),
		zap.String("status", string(final.Status)))
	return final, nil
}

func (e *Engine) runStep(ctx context.Context, n int, step Step, extra map[string]any) StepResult {
	args := make(map[string]any, len(step.Args)+len(extra))
	for k, v := range step.Args {
		args[k] = v
	}
	for k, v := range extra {
		args[k] = v
	}

	start := time.Now()
	output, err := e.call(ctx, step.Server, step.Tool, args)
	result := StepResult{
		Step:     n,
		ServerID: step.Server,
		Tool:     step.Tool,
		OK:       err == nil,
		Output:   output,
		Duration: time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}
