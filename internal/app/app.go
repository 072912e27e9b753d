// Package app wires the supervisor, orchestrator, HTTP API and MCP
// bridge into the running daemon.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/devskyy/mcpfleet/internal/api"
	v0 "github.com/devskyy/mcpfleet/internal/api/handlers/v0"
	"github.com/devskyy/mcpfleet/internal/auth"
	"github.com/devskyy/mcpfleet/internal/client"
	"github.com/devskyy/mcpfleet/internal/config"
	"github.com/devskyy/mcpfleet/internal/fleet"
	"github.com/devskyy/mcpfleet/internal/history"
	"github.com/devskyy/mcpfleet/internal/mcpbridge"
	"github.com/devskyy/mcpfleet/internal/orchestrator"
	"github.com/devskyy/mcpfleet/internal/telemetry"
	"github.com/devskyy/mcpfleet/internal/version"
)

// Run starts the daemon and blocks until the context is cancelled or a
// termination signal arrives.
func Run(ctx context.Context) error {
	cfg := config.NewConfig()
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting mcpfleet",
		zap.String("version", version.Version),
		zap.String("commit", version.GitCommit))

	shutdownMetrics, metrics, err := telemetry.InitMetrics(version.Version)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Error("failed to shut down metrics", zap.Error(err))
		}
	}()

	store, err := history.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	defs, err := fleet.LoadFile(cfg.FleetConfigPath)
	if err != nil {
		return fmt.Errorf("load fleet config %s: %w", cfg.FleetConfigPath, err)
	}

	sup, err := fleet.NewSupervisor(defs, fleet.Options{
		HealthInterval: time.Duration(cfg.HealthIntervalSeconds) * time.Second,
		ShutdownGrace:  time.Duration(cfg.ShutdownGraceSeconds) * time.Second,
		UnhealthyAfter: cfg.UnhealthyProbeFailures,
		Logger:         logger,
		OnTransition: func(serverID string, from, to fleet.Status, reason string) {
			metrics.RecordTransition(ctx, serverID, string(to))
			if err := store.RecordEvent(ctx, fleet.Event{
				ServerID: serverID,
				From:     from,
				To:       to,
				Reason:   reason,
				At:       time.Now().UTC(),
			}); err != nil {
				logger.Warn("failed to persist transition event", zap.Error(err))
			}
		},
	})
	if err != nil {
		return fmt.Errorf("create supervisor: %w", err)
	}
	defer sup.Shutdown()

	if err := sup.StartAll(ctx); err != nil {
		logger.Error("fleet startup incomplete", zap.Error(err))
	}

	var workflows map[string]orchestrator.Workflow
	if cfg.WorkflowConfigPath != "" {
		workflows, err = orchestrator.LoadWorkflows(cfg.WorkflowConfigPath)
		if err != nil {
			return fmt.Errorf("load workflows %s: %w", cfg.WorkflowConfigPath, err)
		}
		logger.Info("workflows loaded", zap.Int("count", len(workflows)))
	}

	var remotes []*client.Client
	for _, baseURL := range cfg.RemoteRegistries {
		if baseURL == "" {
			continue
		}
		remotes = append(remotes, client.NewClient(baseURL))
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Supervisor: sup,
		Workflows:  workflows,
		Remotes:    remotes,
		Logger:     logger,
		OnExecution: func(exec *orchestrator.Execution) {
			metrics.WorkflowRuns.Add(ctx, 1, metric.WithAttributes(
				attribute.String("workflow", exec.Workflow),
				attribute.String("status", string(exec.Status)),
			))
			if err := store.RecordExecution(ctx, exec); err != nil {
				logger.Warn("failed to persist execution", zap.Error(err))
			}
		},
	})
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}
	defer orch.Close()

	if cfg.CatalogRefreshOnStart {
		refreshCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		counts, err := orch.RefreshCatalog(refreshCtx)
		cancel()
		if err != nil {
			logger.Warn("initial catalog refresh incomplete", zap.Error(err))
		}
		logger.Info("catalog refreshed", zap.Any("counts", counts))

		if cfg.CatalogDir != "" {
			if _, err := orch.ExportCatalog(cfg.CatalogDir); err != nil {
				logger.Warn("catalog export failed", zap.Error(err))
			}
		}
	}

	var jwtManager *auth.JWTManager
	if cfg.JWTPrivateKey != "" {
		jwtManager, err = auth.NewJWTManager(cfg.JWTPrivateKey)
		if err != nil {
			return fmt.Errorf("init jwt manager: %w", err)
		}
	} else {
		logger.Warn("MCPFLEET_JWT_PRIVATE_KEY unset, mutating endpoints are open")
	}

	deps := &v0.Deps{
		Orchestrator: orch,
		JWT:          jwtManager,
		CatalogDir:   cfg.CatalogDir,
		Version: v0.VersionBody{
			Version:   version.Version,
			GitCommit: version.GitCommit,
			BuildDate: version.BuildDate,
		},
	}

	srv := api.NewServer(cfg.ServerAddress, deps, metrics, jwtManager, logger)

	errCh := make(chan error, 2)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var mcpServer *http.Server
	if cfg.MCPPort != 0 {
		bridge := mcpbridge.NewServer(orch)
		handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return bridge
		}, nil)
		mcpServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MCPPort),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		logger.Info("mcp bridge listening", zap.Uint16("port", cfg.MCPPort))
		go func() {
			if err := mcpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server error, shutting down", zap.Error(err))
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if mcpServer != nil {
		if err := mcpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("mcp bridge shutdown failed", zap.Error(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
