package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devskyy/mcpfleet/internal/doctor"
	"github.com/devskyy/mcpfleet/pkg/printer"
)

var (
	doctorConfig  string
	doctorJSON    bool
	doctorStartup bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the local environment and fleet config",
	Long:  `Check system dependencies, the fleet config file, environment variable references and probe ports. With --startup, launch each server briefly and verify the MCP handshake.`,
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().StringVarP(&doctorConfig, "config", "c", envOr("MCPFLEET_FLEET_CONFIG", "fleet.yaml"), "Fleet config file to check")
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Emit the report as JSON")
	doctorCmd.Flags().BoolVar(&doctorStartup, "startup", false, "Launch each server and verify the MCP handshake")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()
	if doctorJSON {
		report := doctor.New(logger).Run(cmd.Context(), doctorConfig, doctorStartup)
		if err := outputData(report); err != nil {
			return err
		}
		if !report.Success() {
			os.Exit(1)
		}
		return nil
	}

	report := doctor.New(logger).Run(cmd.Context(), doctorConfig, doctorStartup)

	for _, r := range report.Results {
		fmt.Printf("%-4s %s: %s\n", statusTag(r.Status), r.Name, r.Message)
		if r.Details != "" {
			fmt.Printf("       %s\n", r.Details)
		}
		if r.FixSuggestion != "" && r.Status != doctor.StatusPass {
			fmt.Printf("       fix: %s\n", r.FixSuggestion)
		}
	}

	fmt.Println()
	fmt.Printf("%d passed, %d warnings, %d failures, %d skipped\n",
		report.Passed, report.Warnings, report.Failures, report.Skipped)

	if !report.Success() {
		printer.PrintError("environment is not ready, fix the failures above")
		os.Exit(1)
	}
	if report.Warnings > 0 {
		printer.PrintWarning("environment is usable with warnings")
		return nil
	}
	printer.PrintSuccess("environment looks good")
	return nil
}

func statusTag(s doctor.CheckStatus) string {
	switch s {
	case doctor.StatusPass:
		return "PASS"
	case doctor.StatusWarn:
		return "WARN"
	case doctor.StatusFail:
		return "FAIL"
	default:
		return "SKIP"
	}
}
