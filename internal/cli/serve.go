package cli

import (
	"github.com/spf13/cobra"

	"github.com/devskyy/mcpfleet/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fleet daemon in the foreground",
	Long:  `Start the supervisor, HTTP API and MCP bridge. Equivalent to running fleetd.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(cmd.Context())
	},
}
