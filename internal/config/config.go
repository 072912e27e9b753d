package config

import (
	"fmt"
	"log"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the application configuration.
// See .env.example for more documentation
type Config struct {
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:":8090"`
	MCPPort       uint16 `env:"MCP_PORT" envDefault:"0"`
	Version       string `env:"VERSION" envDefault:"dev"`

	// FleetConfigPath points at the fleet definition file (YAML fleet
	// file or a claude_desktop_config-style JSON with "mcpServers").
	FleetConfigPath string `env:"FLEET_CONFIG" envDefault:"fleet.yaml"`

	// WorkflowConfigPath points at the workflow definitions file.
	WorkflowConfigPath string `env:"WORKFLOW_CONFIG" envDefault:""`

	// CatalogDir is where catalog exports are written.
	CatalogDir string `env:"CATALOG_DIR" envDefault:"./catalog"`

	// DatabaseURL enables the Postgres-backed history store when set.
	// Leave empty to run with in-memory history only.
	DatabaseURL string `env:"DATABASE_URL" envDefault:""`

	// JWTPrivateKey is a hex-encoded ed25519 seed. Mutating API
	// endpoints are disabled when unset.
	JWTPrivateKey string `env:"JWT_PRIVATE_KEY" envDefault:""`

	// Supervisor tuning.
	HealthIntervalSeconds  int  `env:"HEALTH_INTERVAL_SECONDS" envDefault:"15"`
	ShutdownGraceSeconds   int  `env:"SHUTDOWN_GRACE_SECONDS" envDefault:"10"`
	CatalogRefreshOnStart  bool `env:"CATALOG_REFRESH_ON_START" envDefault:"true"`
	UnhealthyProbeFailures int  `env:"UNHEALTHY_PROBE_FAILURES" envDefault:"3"`

	// RemoteRegistries is a comma-separated list of remote registry base
	// URLs whose tool metadata is merged into the catalog.
	RemoteRegistries []string `env:"REMOTE_REGISTRIES" envSeparator:"," envDefault:""`

	Verbose bool `env:"VERBOSE" envDefault:"false"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Printf("No .env file found or error loading .env file: %v", err)
	}
	var cfg Config
	err = env.ParseWithOptions(&cfg, env.Options{
		Prefix: "MCPFLEET_",
	})
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return &cfg
}

// Validate checks configuration values that cannot be defaulted sanely.
func Validate(cfg *Config) error {
	if cfg.FleetConfigPath == "" {
		return fmt.Errorf("MCPFLEET_FLEET_CONFIG must not be empty")
	}
	if cfg.HealthIntervalSeconds <= 0 {
		return fmt.Errorf("MCPFLEET_HEALTH_INTERVAL_SECONDS must be positive, got %d", cfg.HealthIntervalSeconds)
	}
	if cfg.UnhealthyProbeFailures <= 0 {
		return fmt.Errorf("MCPFLEET_UNHEALTHY_PROBE_FAILURES must be positive, got %d", cfg.UnhealthyProbeFailures)
	}
	return nil
}
