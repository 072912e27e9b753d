// Package cli implements the fleetctl command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/devskyy/mcpfleet/internal/client"
)

var (
	apiURL       string
	apiToken     string
	outputFormat string
)

// apiClient is the shared API client used by CLI commands.
var apiClient *client.Client

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "Control plane CLI for an mcpfleet daemon",
	Long:  `fleetctl inspects and controls a running mcpfleet daemon: fleet status, server lifecycle, the tool catalog and workflows.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(apiURL)
		c.Token = apiToken
		apiClient = c
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("MCPFLEET_API", "http://localhost:8090"), "Base URL of the fleetd API")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("MCPFLEET_TOKEN"), "Bearer token for mutating endpoints")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json, yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(startCmd, stopCmd, restartCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(executionsCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}
