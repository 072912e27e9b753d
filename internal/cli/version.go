package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devskyy/mcpfleet/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if outputFormat == "json" || outputFormat == "yaml" {
			return outputData(map[string]string{
				"version":    version.Version,
				"git_commit": version.GitCommit,
				"build_date": version.BuildDate,
			})
		}
		fmt.Printf("fleetctl %s (commit %s, built %s)\n",
			version.Version, version.GitCommit, version.BuildDate)
		return nil
	},
}
