package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/devskyy/mcpfleet/internal/client"
	"github.com/devskyy/mcpfleet/pkg/printer"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "List and run multi-server workflows",
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured workflows",
	RunE:  runWorkflowList,
}

var (
	workflowArgs []string
	workflowWait bool
)

var workflowRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Start a workflow",
	Long:  `Start a workflow in the background. With --wait, poll the execution until it finishes and report each step.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowRun,
}

func init() {
	workflowRunCmd.Flags().StringArrayVar(&workflowArgs, "arg", nil, "Run argument as key=value, merged over each step's args (repeatable)")
	workflowRunCmd.Flags().BoolVarP(&workflowWait, "wait", "w", false, "Wait for the execution to finish")

	workflowCmd.AddCommand(workflowListCmd, workflowRunCmd)
}

func runWorkflowList(cmd *cobra.Command, args []string) error {
	workflows, err := apiClient.FetchWorkflows(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list workflows: %w", err)
	}

	if outputFormat == "json" || outputFormat == "yaml" {
		return outputData(workflows)
	}

	if len(workflows) == 0 {
		fmt.Println("No workflows configured")
		return nil
	}

	t := printer.NewTablePrinter(os.Stdout)
	t.SetHeaders("Name", "Steps", "Description")
	for _, wf := range workflows {
		t.AddRow(wf.Name, len(wf.Steps), printer.TruncateString(wf.Description, 60))
	}
	if err := t.Render(); err != nil {
		printer.PrintError(fmt.Sprintf("failed to render table: %v", err))
	}
	return nil
}

func runWorkflowRun(cmd *cobra.Command, args []string) error {
	name := args[0]

	runArgs, err := parseRunArgs(workflowArgs)
	if err != nil {
		return err
	}

	exec, err := apiClient.RunWorkflow(cmd.Context(), name, runArgs)
	if err != nil {
		return fmt.Errorf("failed to run workflow %s: %w", name, err)
	}

	if workflowWait {
		exec, err = waitForExecution(cmd, exec.ID)
		if err != nil {
			return err
		}
	}

	if outputFormat == "json" || outputFormat == "yaml" {
		return outputData(exec)
	}

	if !workflowWait {
		printer.PrintSuccess(fmt.Sprintf("workflow %s started, execution %s", name, exec.ID))
		fmt.Printf("Track it with: fleetctl executions %s\n", exec.ID)
		return nil
	}

	printExecution(exec)
	if exec.Status == "failed" {
		return fmt.Errorf("workflow %s failed", name)
	}
	return nil
}

func parseRunArgs(pairs []string) (map[string]any, error) {
	runArgs := map[string]any{}
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q, expected key=value", kv)
		}
		runArgs[key] = value
	}
	return runArgs, nil
}

func waitForExecution(cmd *cobra.Command, id string) (*client.Execution, error) {
	ctx := cmd.Context()
	for {
		exec, err := apiClient.GetExecution(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to poll execution %s: %w", id, err)
		}
		if exec.Status == "completed" || exec.Status == "failed" {
			return exec, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func printExecution(exec *client.Execution) {
	fmt.Printf("Execution %s (%s): %s, %d/%d steps\n",
		exec.ID, exec.Workflow, exec.Status, exec.StepsCompleted, exec.StepsTotal)

	if len(exec.Results) == 0 {
		return
	}
	t := printer.NewTablePrinter(os.Stdout)
	t.SetHeaders("Step", "Server", "Tool", "OK", "Duration", "Detail")
	for _, r := range exec.Results {
		detail := r.Output
		if !r.OK {
			detail = r.Error
		}
		t.AddRow(
			r.Step,
			r.ServerID,
			r.Tool,
			r.OK,
			r.Duration.Round(time.Millisecond),
			printer.TruncateString(detail, 50),
		)
	}
	if err := t.Render(); err != nil {
		printer.PrintError(fmt.Sprintf("failed to render table: %v", err))
	}
}
