package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devskyy/mcpfleet/pkg/printer"
)

var executionsLimit int

var executionsCmd = &cobra.Command{
	Use:   "executions [execution-id]",
	Short: "List recent workflow executions or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExecutions,
}

func init() {
	executionsCmd.Flags().IntVarP(&executionsLimit, "limit", "l", 20, "Maximum number of executions")
}

func runExecutions(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		exec, err := apiClient.GetExecution(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch execution %s: %w", args[0], err)
		}
		if outputFormat == "json" || outputFormat == "yaml" {
			return outputData(exec)
		}
		printExecution(exec)
		return nil
	}

	execs, err := apiClient.FetchExecutions(cmd.Context(), executionsLimit)
	if err != nil {
		return fmt.Errorf("failed to list executions: %w", err)
	}

	if outputFormat == "json" || outputFormat == "yaml" {
		return outputData(execs)
	}

	if len(execs) == 0 {
		fmt.Println("No executions recorded")
		return nil
	}

	t := printer.NewTablePrinter(os.Stdout)
	t.SetHeaders("ID", "Workflow", "Status", "Steps", "Started")
	for _, e := range execs {
		t.AddRow(
			e.ID,
			e.Workflow,
			e.Status,
			fmt.Sprintf("%d/%d", e.StepsCompleted, e.StepsTotal),
			printer.FormatAge(e.StartedAt),
		)
	}
	if err := t.Render(); err != nil {
		printer.PrintError(fmt.Sprintf("failed to render table: %v", err))
	}
	return nil
}
