package v0

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/devskyy/mcpfleet/internal/auth"
	"github.com/devskyy/mcpfleet/internal/fleet"
)

// ServerListInput filters the server listing.
type ServerListInput struct {
	Status string `query:"status" doc:"Filter by status" required:"false" example:"running"`
}

// ServerListBody is the /v0/servers payload.
type ServerListBody struct {
	Servers []fleet.ServerState `json:"servers"`
	Summary fleet.Summary       `json:"summary"`
}

// ServerDetailInput identifies one server.
type ServerDetailInput struct {
	ServerID string `path:"serverId" doc:"Server id from the fleet config" example:"commerce"`
}

// ServerBody is the single-server payload.
type ServerBody struct {
	Server     fleet.ServerState `json:"server"`
	Definition fleet.Definition  `json:"definition"`
}

// EventListInput filters the event log.
type EventListInput struct {
	ServerID string `query:"server" doc:"Filter by server id" required:"false"`
	Limit    int    `query:"limit" doc:"Maximum number of events" default:"50" minimum:"1" maximum:"500"`
}

// EventListBody is the /v0/events payload.
type EventListBody struct {
	Events []fleet.Event `json:"events"`
}

// RegisterServerEndpoints registers fleet inspection and lifecycle
// endpoints.
func RegisterServerEndpoints(api huma.API, deps *Deps) {
	sup := deps.Orchestrator.Supervisor()

	huma.Register(api, huma.Operation{
		OperationID: "list-fleet-servers",
		Method:      http.MethodGet,
		Path:        "/v0/servers",
		Summary:     "List servers",
		Description: "Current state of every supervised server",
		Tags:        []string{"servers"},
	}, func(ctx context.Context, input *ServerListInput) (*Response[ServerListBody], error) {
		states := sup.Snapshot()
		summary := fleet.Summarize(states)
		if input.Status != "" {
			filtered := states[:0]
			for _, st := range states {
				if st.Status == fleet.Status(input.Status) {
					filtered = append(filtered, st)
				}
			}
			states = filtered
		}
		return &Response[ServerListBody]{
			Body: ServerListBody{
				Servers: states,
				Summary: summary,
			},
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-fleet-server",
		Method:      http.MethodGet,
		Path:        "/v0/servers/{serverId}",
		Summary:     "Get server",
		Tags:        []string{"servers"},
	}, func(ctx context.Context, input *ServerDetailInput) (*Response[ServerBody], error) {
		state, err := sup.State(input.ServerID)
		if err != nil {
			return nil, serverError(err)
		}
		var def fleet.Definition
		for _, d := range sup.Definitions() {
			if d.ID == input.ServerID {
				def = d
				break
			}
		}
		return &Response[ServerBody]{Body: ServerBody{Server: state, Definition: def}}, nil
	})

	type lifecycleOp struct {
		id, path, summary string
		action            func(string) error
	}
	ops := []lifecycleOp{
		{"start-fleet-server", "/v0/servers/{serverId}/start", "Start server", sup.Start},
		{"stop-fleet-server", "/v0/servers/{serverId}/stop", "Stop server", sup.Stop},
		{"restart-fleet-server", "/v0/servers/{serverId}/restart", "Restart server", sup.Restart},
	}
	for _, op := range ops {
		action := op.action
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        op.path,
			Summary:     op.summary,
			Tags:        []string{"servers"},
		}, func(ctx context.Context, input *ServerDetailInput) (*Response[fleet.ServerState], error) {
			if err := auth.RequireRole(ctx, deps.authEnabled(), auth.RoleOperator); err != nil {
				return nil, err
			}
			if err := action(input.ServerID); err != nil {
				return nil, serverError(err)
			}
			state, err := sup.State(input.ServerID)
			if err != nil {
				return nil, serverError(err)
			}
			return &Response[fleet.ServerState]{Body: state}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-fleet-events",
		Method:      http.MethodGet,
		Path:        "/v0/events",
		Summary:     "List transition events",
		Tags:        []string{"servers"},
	}, func(ctx context.Context, input *EventListInput) (*Response[EventListBody], error) {
		events := sup.Events(input.ServerID, input.Limit)
		return &Response[EventListBody]{Body: EventListBody{Events: events}}, nil
	})
}

func serverError(err error) error {
	switch {
	case errors.Is(err, fleet.ErrServerNotFound):
		return huma.Error404NotFound("server not found", err)
	case errors.Is(err, fleet.ErrAlreadyRunning), errors.Is(err, fleet.ErrNotRunning):
		return huma.Error409Conflict(err.Error())
	default:
		return huma.Error500InternalServerError("fleet operation failed", err)
	}
}
