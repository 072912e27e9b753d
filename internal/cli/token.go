package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/devskyy/mcpfleet/internal/auth"
	"github.com/devskyy/mcpfleet/pkg/printer"
)

var (
	tokenSeed    string
	tokenSubject string
	tokenRole    string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a JWT for the fleet API",
	Long:  `Mint a signed bearer token from the daemon's ed25519 seed. The seed must match MCPFLEET_JWT_PRIVATE_KEY on the daemon.`,
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSeed, "seed", envOr("MCPFLEET_JWT_PRIVATE_KEY", ""), "Hex-encoded ed25519 seed")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "fleetctl", "Token subject")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(auth.RoleOperator), "Token role (viewer, operator, admin)")
}

func runToken(cmd *cobra.Command, args []string) error {
	if tokenSeed == "" {
		return fmt.Errorf("no seed given, set --seed or MCPFLEET_JWT_PRIVATE_KEY")
	}

	manager, err := auth.NewJWTManager(tokenSeed)
	if err != nil {
		return fmt.Errorf("failed to init signer: %w", err)
	}

	resp, err := manager.GenerateToken(cmd.Context(), tokenSubject, auth.Role(tokenRole))
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}

	if outputFormat == "json" || outputFormat == "yaml" {
		return outputData(resp)
	}

	fmt.Println(resp.Token)
	printer.PrintInfo(fmt.Sprintf("role %s, expires %s", tokenRole,
		printer.FormatTimestamp(time.Unix(resp.ExpiresAt, 0).UTC())))
	return nil
}
