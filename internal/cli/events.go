package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devskyy/mcpfleet/pkg/printer"
)

var (
	eventsServer string
	eventsLimit  int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent server status transitions",
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().StringVarP(&eventsServer, "server", "s", "", "Filter by server id")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "l", 50, "Maximum number of events")
}

func runEvents(cmd *cobra.Command, args []string) error {
	events, err := apiClient.FetchEvents(cmd.Context(), eventsServer, eventsLimit)
	if err != nil {
		return fmt.Errorf("failed to fetch events: %w", err)
	}

	if outputFormat == "json" || outputFormat == "yaml" {
		return outputData(events)
	}

	if len(events) == 0 {
		fmt.Println("No events recorded")
		return nil
	}

	t := printer.NewTablePrinter(os.Stdout)
	t.SetHeaders("Time", "Server", "From", "To", "Reason")
	for _, e := range events {
		t.AddRow(
			printer.FormatTimestampShort(e.At),
			e.ServerID,
			string(e.From),
			string(e.To),
			printer.TruncateString(printer.EmptyValueOrDefault(e.Reason, "<none>"), 60),
		)
	}
	if err := t.Render(); err != nil {
		printer.PrintError(fmt.Sprintf("failed to render table: %v", err))
	}
	return nil
}
