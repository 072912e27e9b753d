// Package v0 holds the v0 API handlers.
package v0

import (
	"github.com/devskyy/mcpfleet/internal/auth"
	"github.com/devskyy/mcpfleet/internal/orchestrator"
)

// VersionBody contains build information.
type VersionBody struct {
	Version   string `json:"version" example:"1.0.0"`
	GitCommit string `json:"git_commit,omitempty" example:"abc1234"`
	BuildDate string `json:"build_date,omitempty" example:"2025-01-01T00:00:00Z"`
}

// Deps are the shared dependencies of the v0 handlers.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	JWT          *auth.JWTManager
	CatalogDir   string
	Version      VersionBody
}

// authEnabled reports whether requests must carry a token.
func (d *Deps) authEnabled() bool { return d.JWT != nil }
