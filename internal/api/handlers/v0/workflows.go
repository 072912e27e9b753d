package v0

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/devskyy/mcpfleet/internal/auth"
	"github.com/devskyy/mcpfleet/internal/orchestrator"
)

// WorkflowListBody is the /v0/workflows payload.
type WorkflowListBody struct {
	Workflows []orchestrator.Workflow `json:"workflows"`
}

// RunWorkflowInput names a workflow and optional run arguments.
type RunWorkflowInput struct {
	Name string `path:"workflowName" doc:"Workflow name from the workflow config" example:"catalog_rebuild"`
	Body struct {
		Args map[string]any `json:"args,omitempty" doc:"Arguments merged over each step's own args"`
	}
}

// RunWorkflowOutput returns the accepted execution.
type RunWorkflowOutput struct {
	Status int
	Body   orchestrator.Execution
}

// ExecutionListInput caps the executions listing.
type ExecutionListInput struct {
	Limit int `query:"limit" doc:"Maximum number of executions" default:"20" minimum:"1" maximum:"200"`
}

// ExecutionListBody is the /v0/executions payload.
type ExecutionListBody struct {
	Executions []orchestrator.Execution `json:"executions"`
}

// ExecutionDetailInput identifies one execution.
type ExecutionDetailInput struct {
	ExecutionID string `path:"executionId" doc:"Execution id"`
}

// RegisterWorkflowEndpoints registers workflow and execution endpoints.
func RegisterWorkflowEndpoints(api huma.API, deps *Deps) {
	orch := deps.Orchestrator

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/v0/workflows",
		Summary:     "List workflows",
		Tags:        []string{"workflows"},
	}, func(ctx context.Context, _ *struct{}) (*Response[WorkflowListBody], error) {
		return &Response[WorkflowListBody]{
			Body: WorkflowListBody{Workflows: orch.Workflows()},
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "run-workflow",
		Method:        http.MethodPost,
		Path:          "/v0/workflows/{workflowName}/run",
		Summary:       "Run workflow",
		Description:   "Start a workflow in the background and return the pending execution",
		Tags:          []string{"workflows"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *RunWorkflowInput) (*RunWorkflowOutput, error) {
		if err := auth.RequireRole(ctx, deps.authEnabled(), auth.RoleOperator); err != nil {
			return nil, err
		}
		exec, err := orch.StartWorkflow(input.Name, input.Body.Args)
		if err != nil {
			if errors.Is(err, orchestrator.ErrWorkflowBusy) {
				return nil, huma.Error409Conflict("workflow already running")
			}
			return nil, huma.Error404NotFound(err.Error())
		}
		return &RunWorkflowOutput{Status: http.StatusAccepted, Body: *exec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-executions",
		Method:      http.MethodGet,
		Path:        "/v0/executions",
		Summary:     "List executions",
		Tags:        []string{"workflows"},
	}, func(ctx context.Context, input *ExecutionListInput) (*Response[ExecutionListBody], error) {
		return &Response[ExecutionListBody]{
			Body: ExecutionListBody{Executions: orch.Executions(input.Limit)},
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-execution",
		Method:      http.MethodGet,
		Path:        "/v0/executions/{executionId}",
		Summary:     "Get execution",
		Tags:        []string{"workflows"},
	}, func(ctx context.Context, input *ExecutionDetailInput) (*Response[orchestrator.Execution], error) {
		exec, err := orch.Execution(orchestrator.ExecutionID(input.ExecutionID))
		if err != nil {
			return nil, huma.Error404NotFound("execution not found")
		}
		return &Response[orchestrator.Execution]{Body: *exec}, nil
	})
}
