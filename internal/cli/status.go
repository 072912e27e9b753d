package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devskyy/mcpfleet/internal/fleet"
	"github.com/devskyy/mcpfleet/pkg/printer"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fleet health and per-server state",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	health, err := apiClient.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach fleet API at %s: %w", apiClient.BaseURL, err)
	}
	servers, err := apiClient.FetchServers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list servers: %w", err)
	}

	switch outputFormat {
	case "json", "yaml":
		return outputData(struct {
			Status  string              `json:"status"`
			Fleet   fleet.Summary       `json:"fleet"`
			Servers []fleet.ServerState `json:"servers"`
		}{health.Status, health.Fleet, servers})
	default:
		printStatusTable(health.Status, health.Fleet, servers)
		return nil
	}
}

func printStatusTable(status string, summary fleet.Summary, servers []fleet.ServerState) {
	fmt.Printf("Fleet: %s (%d/%d running)\n\n", status, summary.Running, summary.Total)

	t := printer.NewTablePrinter(os.Stdout)
	t.SetHeaders("ID", "Status", "PID", "Restarts", "Age", "Last Error")
	for _, s := range servers {
		pid := "<none>"
		if s.PID != 0 {
			pid = fmt.Sprintf("%d", s.PID)
		}
		age := "<none>"
		if s.StartedAt != nil {
			age = printer.FormatAge(*s.StartedAt)
		}
		t.AddRow(
			s.ID,
			string(s.Status),
			pid,
			s.Restarts,
			age,
			printer.TruncateString(printer.EmptyValueOrDefault(s.LastError, "<none>"), 60),
		)
	}
	if err := t.Render(); err != nil {
		printer.PrintError(fmt.Sprintf("failed to render table: %v", err))
	}
}

func outputData(data any) error {
	if outputFormat == "yaml" {
		p := printer.New(printer.OutputTypeYAML, false)
		if err := p.PrintYAML(data); err != nil {
			return fmt.Errorf("failed to output YAML: %w", err)
		}
		return nil
	}
	p := printer.New(printer.OutputTypeJSON, false)
	if err := p.PrintJSON(data); err != nil {
		return fmt.Errorf("failed to output JSON: %w", err)
	}
	return nil
}
