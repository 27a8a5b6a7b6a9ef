package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/castlegraph/castlegraph/internal/analysis"
	"github.com/castlegraph/castlegraph/internal/coord"
	"github.com/castlegraph/castlegraph/internal/observability"
	"github.com/castlegraph/castlegraph/internal/orchestrator"
	"github.com/castlegraph/castlegraph/internal/storeclient"
	"github.com/castlegraph/castlegraph/internal/types"
)

// orchestrateCmd creates the "orchestrate" subcommand.
func orchestrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orchestrate",
		Short: "Run the crawl and analysis timers",
		Long: `Run the periodic timers that drive the pipeline.

Each crawl tick refreshes the seed player and claims the stalest known player
for fetching. Each analysis tick dispatches analyzer tasks for games missing
plugin results.`,
		RunE: runOrchestrate,
	}
}

func runOrchestrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := coord.NewClient(cfg.Coordination.URL)
	if err != nil {
		return fmt.Errorf("connect coordination: %w", err)
	}
	defer rdb.Close()

	metrics := observability.NewMetrics(logger)
	if cfg.Metrics.Enabled {
		if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
	}

	storeAPI := storeclient.New(cfg.Store.BaseURL)
	fetchQ := coord.NewQueue(rdb, types.QueueFetch)
	analyzeQ := coord.NewQueue(rdb, types.QueueAnalyze)

	orch := orchestrator.New(cfg.Upstream, storeAPI, fetchQ, logger)
	sched := analysis.NewScheduler(storeAPI, coord.NewDedup(rdb), analyzeQ,
		analysis.DefaultRegistry(), cfg.Analysis, metrics, logger)

	runner, err := orchestrator.NewRunner(orch, sched, cfg.Orchestrator.Period, cfg.Analysis.Period, logger)
	if err != nil {
		return err
	}
	if err := runner.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("stopping timers")
	return runner.Shutdown()
}
