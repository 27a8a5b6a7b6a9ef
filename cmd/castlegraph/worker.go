package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/castlegraph/castlegraph/internal/analysis"
	"github.com/castlegraph/castlegraph/internal/coord"
	"github.com/castlegraph/castlegraph/internal/fetcher"
	"github.com/castlegraph/castlegraph/internal/ingest"
	"github.com/castlegraph/castlegraph/internal/observability"
	"github.com/castlegraph/castlegraph/internal/storeclient"
	"github.com/castlegraph/castlegraph/internal/types"
	"github.com/castlegraph/castlegraph/internal/upstream"
)

// workerCmd creates the "worker" subcommand.
func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the queue consumers",
		Long: `Consume the fetch, ingest, and analyze queues.

The fetch consumer streams player games from the upstream provider under a
fleet-wide lease, the ingest consumers persist game graphs through the store
API, and the analyze consumers run the plugin suite over stored games.`,
		RunE: runWorker,
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
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
	ingestQ := coord.NewQueue(rdb, types.QueueIngest)
	analyzeQ := coord.NewQueue(rdb, types.QueueAnalyze)

	// Fetch: a single consumer, the upstream lease serializes access anyway.
	f := fetcher.New(cfg.Upstream, coord.NewLocker(rdb),
		upstream.NewClient(cfg.Upstream, logger), storeAPI,
		fetchQ, ingestQ, metrics, logger)
	fetchWorker := coord.NewWorker(fetchQ, 1, cfg.Upstream.MaxRetries, logger)
	fetchWorker.Handle(types.TaskFetchPlayerGames, f.HandleFetch)

	ing := ingest.New(storeAPI, metrics, logger)
	ingestWorker := coord.NewWorker(ingestQ, cfg.Worker.IngestConcurrency, cfg.Upstream.MaxRetries, logger)
	ingestWorker.Handle(types.TaskProcessGame, ing.HandleProcessGame)

	launch := func() (analysis.Engine, error) {
		return analysis.NewUCIEngine(cfg.Analysis.EnginePath, cfg.Analysis.EngineMoveTime)
	}
	an := analysis.NewAnalyzer(storeAPI, coord.NewDedup(rdb), analysis.DefaultRegistry(),
		launch, metrics, logger)
	analyzeWorker := coord.NewWorker(analyzeQ, cfg.Worker.AnalyzeConcurrency, cfg.Upstream.MaxRetries, logger)
	analyzeWorker.Handle(types.TaskAnalyzeGame, an.HandleAnalyze)

	fetchWorker.Run(ctx)
	ingestWorker.Run(ctx)
	analyzeWorker.Run(ctx)
	logger.Info("workers running",
		"ingest_concurrency", cfg.Worker.IngestConcurrency,
		"analyze_concurrency", cfg.Worker.AnalyzeConcurrency)

	<-ctx.Done()
	logger.Info("draining workers")
	fetchWorker.Wait()
	ingestWorker.Wait()
	analyzeWorker.Wait()
	return nil
}
