package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/castlegraph/castlegraph/internal/api"
	"github.com/castlegraph/castlegraph/internal/config"
	"github.com/castlegraph/castlegraph/internal/observability"
	"github.com/castlegraph/castlegraph/internal/store"
)

// storeCmd creates the "store" subcommand.
func storeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "store",
		Short: "Run the store HTTP API",
		Long:  "Serve the game database over HTTP. Workers and the orchestrator talk to persistence through this service.",
		RunE:  runStore,
	}
}

func runStore(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		metrics := observability.NewMetrics(logger)
		if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
	}

	server := api.NewServer(cfg.Store.ListenAddr, st, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down store API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openStore builds the persistence backend named by store.driver.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, fmt.Errorf("store.database_url is required for the postgres driver")
		}
		return store.NewPostgresStore(ctx, cfg.Store.DatabaseURL, logger)
	case "memory":
		logger.Warn("using in-memory store, data is lost on exit")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
