package v0

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/devskyy/mcpfleet/internal/fleet"
	"github.com/devskyy/mcpfleet/internal/orchestrator"
)

// HealthBody is the aggregate health response.
type HealthBody struct {
	Status  string                      `json:"status" example:"ok"`
	Version string                      `json:"version,omitempty"`
	Fleet   fleet.Summary               `json:"fleet"`
	Remotes []orchestrator.RemoteStatus `json:"remotes,omitempty"`
}

// PingBody is the ping response.
type PingBody struct {
	Pong bool `json:"pong" example:"true"`
}

// RegisterMetaEndpoints registers health, ping and version.
func RegisterMetaEndpoints(api huma.API, deps *Deps) {
	huma.Register(api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/v0/health",
		Summary:     "Fleet health",
		Description: "Aggregate health of the supervised fleet",
		Tags:        []string{"health"},
	}, func(ctx context.Context, _ *struct{}) (*Response[HealthBody], error) {
		health := deps.Orchestrator.Health(ctx)
		return &Response[HealthBody]{
			Body: HealthBody{
				Status:  health.Status,
				Version: deps.Version.Version,
				Fleet:   health.Fleet,
				Remotes: health.Remotes,
			},
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ping",
		Method:      http.MethodGet,
		Path:        "/v0/ping",
		Summary:     "Ping",
		Tags:        []string{"ping"},
	}, func(ctx context.Context, _ *struct{}) (*Response[PingBody], error) {
		return &Response[PingBody]{Body: PingBody{Pong: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/v0/version",
		Summary:     "Build version",
		Tags:        []string{"version"},
	}, func(ctx context.Context, _ *struct{}) (*Response[VersionBody], error) {
		return &Response[VersionBody]{Body: deps.Version}, nil
	})
}
