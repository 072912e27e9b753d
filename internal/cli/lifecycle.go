package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devskyy/mcpfleet/pkg/printer"
)

var startCmd = &cobra.Command{
	Use:   "start <server-id>",
	Short: "Start a supervised server",
	Args:  cobra.ExactArgs(1),
	RunE:  lifecycleRun("start"),
}

var stopCmd = &cobra.Command{
	Use:   "stop <server-id>",
	Short: "Stop a supervised server",
	Args:  cobra.ExactArgs(1),
	RunE:  lifecycleRun("stop"),
}

var restartCmd = &cobra.Command{
	Use:   "restart <server-id>",
	Short: "Restart a supervised server",
	Args:  cobra.ExactArgs(1),
	RunE:  lifecycleRun("restart"),
}

func lifecycleRun(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		serverID := args[0]
		state, err := apiClient.ServerAction(cmd.Context(), serverID, action)
		if err != nil {
			return fmt.Errorf("failed to %s %s: %w", action, serverID, err)
		}
		if outputFormat == "json" || outputFormat == "yaml" {
			return outputData(state)
		}
		printer.PrintSuccess(fmt.Sprintf("%s %s: now %s", action, serverID, state.Status))
		return nil
	}
}
