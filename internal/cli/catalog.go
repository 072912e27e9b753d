package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devskyy/mcpfleet/internal/catalog"
	"github.com/devskyy/mcpfleet/pkg/printer"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect and export the unified tool catalog",
}

var catalogStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog statistics",
	RunE:  runCatalogStats,
}

var (
	exportFormat string
	exportOutput string
)

var catalogExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render the catalog in an export format",
	Long:  `Render the catalog as json, markdown, openai, anthropic or mcp and print it, or write it to a file with --output.`,
	RunE:  runCatalogExport,
}

var catalogRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-collect tools from every server and remote fleet",
	RunE:  runCatalogRefresh,
}

var changelogBaseline string

var catalogChangelogCmd = &cobra.Command{
	Use:   "changelog",
	Short: "Diff the live catalog against a baseline JSON export",
	Long:  `Compare the fleet's current catalog with a JSON export written earlier (catalog export -f json --output-file ...) and print the added, removed and modified tools.`,
	RunE:  runCatalogChangelog,
}

func init() {
	catalogExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Export format (json, markdown, openai, anthropic, mcp)")
	catalogExportCmd.Flags().StringVar(&exportOutput, "output-file", "", "Write the document to a file instead of stdout")
	catalogChangelogCmd.Flags().StringVar(&changelogBaseline, "baseline", "", "Path to a previously exported JSON catalog")
	_ = catalogChangelogCmd.MarkFlagRequired("baseline")

	catalogCmd.AddCommand(catalogStatsCmd, catalogExportCmd, catalogRefreshCmd, catalogChangelogCmd)
}

func runCatalogStats(cmd *cobra.Command, args []string) error {
	stats, err := apiClient.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to fetch catalog stats: %w", err)
	}

	if outputFormat == "json" || outputFormat == "yaml" {
		return outputData(stats)
	}

	fmt.Printf("Tools:     %d\n", stats.TotalTools)
	fmt.Printf("Servers:   %d\n", stats.TotalServers)
	fmt.Printf("Conflicts: %d\n", len(stats.Conflicts))

	if len(stats.ToolsByCategory) > 0 {
		t := printer.NewTablePrinter(os.Stdout)
		t.SetHeaders("Category", "Tools")
		for _, c := range sortedKeys(stats.ToolsByCategory) {
			t.AddRow(c, stats.ToolsByCategory[c])
		}
		fmt.Println()
		if err := t.Render(); err != nil {
			printer.PrintError(fmt.Sprintf("failed to render table: %v", err))
		}
	}

	for _, c := range stats.Conflicts {
		printer.PrintWarning(fmt.Sprintf("%s: %s (%v)", c.Type, c.ToolName, c.ServerIDs))
	}
	return nil
}

func runCatalogExport(cmd *cobra.Command, args []string) error {
	content, err := apiClient.Export(cmd.Context(), exportFormat)
	if err != nil {
		return fmt.Errorf("failed to export catalog: %w", err)
	}

	if exportOutput == "" {
		fmt.Println(content)
		return nil
	}
	if err := os.WriteFile(exportOutput, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", exportOutput, err)
	}
	printer.PrintSuccess(fmt.Sprintf("catalog written to %s", exportOutput))
	return nil
}

func runCatalogChangelog(cmd *cobra.Command, args []string) error {
	baseline, err := catalog.LoadDocument(changelogBaseline)
	if err != nil {
		return fmt.Errorf("failed to load baseline: %w", err)
	}

	content, err := apiClient.Export(cmd.Context(), "json")
	if err != nil {
		return fmt.Errorf("failed to export catalog: %w", err)
	}
	var current catalog.Document
	if err := json.Unmarshal([]byte(content), &current); err != nil {
		return fmt.Errorf("failed to parse exported catalog: %w", err)
	}

	fmt.Println(catalog.Changelog(baseline, current))
	return nil
}

func runCatalogRefresh(cmd *cobra.Command, args []string) error {
	resp, err := apiClient.RefreshCatalog(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to refresh catalog: %w", err)
	}

	if outputFormat == "json" || outputFormat == "yaml" {
		return outputData(resp)
	}

	for _, source := range sortedKeys(resp.Counts) {
		fmt.Printf("%s: %d tools\n", source, resp.Counts[source])
	}
	printer.PrintSuccess(fmt.Sprintf("catalog refreshed, %d tools total", resp.Stats.TotalTools))
	return nil
}
