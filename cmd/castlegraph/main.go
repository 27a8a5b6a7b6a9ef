package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/castlegraph/castlegraph/internal/config"
	"github.com/castlegraph/castlegraph/internal/store"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "castlegraph",
		Short: "CastleGraph — distributed chess game crawler and analysis pipeline",
		Long: `CastleGraph crawls a chess game provider outward from a seed player,
stores the game graph, and runs pluggable analysis over every game.

Services:
  store        — HTTP API over the game database (Postgres or in-memory)
  worker       — queue consumers: fetch players, ingest games, analyze games
  orchestrate  — periodic timers that drive the crawl and analysis scheduling
  migrate      — apply database migrations and exit`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(storeCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(orchestrateCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads, validates, and returns the configuration together with a
// logger built from its logging section.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, setupLogger(cfg.Logging), nil
}

// migrateCmd creates the "migrate" subcommand.
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.DatabaseURL == "" {
				return fmt.Errorf("store.database_url is required for migrate")
			}
			if err := store.Migrate(cfg.Store.DatabaseURL, logger); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("CastleGraph %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Upstream:\n")
			fmt.Printf("  Base URL:          %s\n", cfg.Upstream.BaseURL)
			fmt.Printf("  Seed User:         %s\n", cfg.Upstream.SeedUser)
			fmt.Printf("  Batch Max:         %d\n", cfg.Upstream.BatchMax)
			fmt.Printf("  Lock TTL:          %s\n", cfg.Upstream.LockTTL)
			fmt.Printf("  Lock Wait:         %s\n", cfg.Upstream.LockWait)
			fmt.Printf("  Retry Delay:       %s\n", cfg.Upstream.RetryDelay)
			fmt.Printf("  Max Retries:       %d\n", cfg.Upstream.MaxRetries)
			fmt.Printf("  Token:             %s\n", maskSecret(cfg.Upstream.Token))
			fmt.Printf("\nStore:\n")
			fmt.Printf("  Driver:            %s\n", cfg.Store.Driver)
			fmt.Printf("  Base URL:          %s\n", cfg.Store.BaseURL)
			fmt.Printf("  Listen Addr:       %s\n", cfg.Store.ListenAddr)
			fmt.Printf("\nCoordination:\n")
			fmt.Printf("  URL:               %s\n", cfg.Coordination.URL)
			fmt.Printf("\nOrchestrator:\n")
			fmt.Printf("  Period:            %s\n", cfg.Orchestrator.Period)
			fmt.Printf("\nAnalysis:\n")
			fmt.Printf("  Period:            %s\n", cfg.Analysis.Period)
			fmt.Printf("  Candidate Limit:   %d\n", cfg.Analysis.CandidateLimit)
			fmt.Printf("  Enqueue Target:    %d\n", cfg.Analysis.EnqueueTarget)
			fmt.Printf("  Dedup TTL:         %s\n", cfg.Analysis.DedupTTL)
			fmt.Printf("  Engine Path:       %s\n", cfg.Analysis.EnginePath)
			fmt.Printf("  Engine Move Time:  %s\n", cfg.Analysis.EngineMoveTime)
			fmt.Printf("\nWorker:\n")
			fmt.Printf("  Ingest Concurrency:  %d\n", cfg.Worker.IngestConcurrency)
			fmt.Printf("  Analyze Concurrency: %d\n", cfg.Worker.AnalyzeConcurrency)
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Port:              %d\n", cfg.Metrics.Port)
			return nil
		},
	}
}

func maskSecret(s string) string {
	if s == "" {
		return "(unset)"
	}
	return "****"
}

// setupLogger creates a structured logger from the logging config. The
// verbose flag forces debug level regardless of config.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	out := os.Stderr
	if cfg.Output == "stdout" {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}
