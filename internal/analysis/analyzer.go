package analysis

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/notnil/chess"

	"github.com/castlegraph/castlegraph/internal/coord"
	"github.com/castlegraph/castlegraph/internal/observability"
	"github.com/castlegraph/castlegraph/internal/store"
	"github.com/castlegraph/castlegraph/internal/types"
)

// MetricsStore is the store surface the analyzer needs.
type MetricsStore interface {
	PGN(ctx context.Context, gameID string) (string, error)
	GameMetrics(ctx context.Context, gameID string) (*store.GameMetrics, error)
	MergeMetrics(ctx context.Context, gameID string, m store.Metrics) (store.GameMetrics, error)
}

// Analyzer handles analyze_game tasks: run every plugin whose result is
// missing, merge the new results, and clear the pending key.
type Analyzer struct {
	store    MetricsStore
	dedup    *coord.Dedup
	registry *Registry
	launch   EngineLauncher
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewAnalyzer creates an analyzer. launch is invoked at most once per task,
// and only when an engine plugin actually has work.
func NewAnalyzer(store MetricsStore, dedup *coord.Dedup, registry *Registry,
	launch EngineLauncher, metrics *observability.Metrics, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		store:    store,
		dedup:    dedup,
		registry: registry,
		launch:   launch,
		metrics:  metrics,
		logger:   logger.With("component", "analyzer"),
	}
}

// HandleAnalyze processes one analysis task. Transient store errors
// propagate without clearing the pending key; its TTL eventually re-admits
// the game. Terminal conditions (missing game, unparseable PGN) clear the
// key so the scheduler stops re-dispatching a game that can never analyze.
func (a *Analyzer) HandleAnalyze(ctx context.Context, task *coord.Task) error {
	var at types.AnalyzeTask
	if err := task.Decode(&at); err != nil {
		return err
	}
	logger := a.logger.With("game_id", at.GameID)
	key := coord.AnalysisPendingKey(at.GameID)

	existing := store.Metrics{}
	if gm, err := a.store.GameMetrics(ctx, at.GameID); err != nil {
		return err
	} else if gm != nil {
		existing = gm.Metrics
	}

	pgn, err := a.store.PGN(ctx, at.GameID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("game vanished before analysis")
		return a.clear(ctx, logger, key)
	}
	if err != nil {
		return err
	}
	if pgn == "" {
		logger.Warn("game has no PGN, skipping analysis")
		return a.clear(ctx, logger, key)
	}

	pgnOpt, err := chess.PGN(strings.NewReader(pgn))
	if err != nil {
		logger.Warn("unparseable PGN", "error", err)
		return a.clear(ctx, logger, key)
	}
	game := chess.NewGame(pgnOpt)

	results := a.run(game, existing, logger)
	if len(results) > 0 {
		if _, err := a.store.MergeMetrics(ctx, at.GameID, results); err != nil {
			return err
		}
		logger.Info("metrics merged", "plugins", len(results))
	}
	a.metrics.AnalysesCompleted.Add(1)
	return a.clear(ctx, logger, key)
}

// run executes all plugins without stored results. One failing plugin never
// blocks the others.
func (a *Analyzer) run(game *chess.Game, existing store.Metrics, logger *slog.Logger) store.Metrics {
	var eng Engine
	defer func() {
		if eng != nil {
			_ = eng.Close()
		}
	}()
	engineFailed := false

	results := store.Metrics{}
	for _, p := range a.registry.Plugins() {
		if _, done := existing[p.Name()]; done {
			continue
		}

		switch plugin := p.(type) {
		case GamePlugin:
			raw, err := plugin.Analyze(game)
			if err != nil {
				logger.Warn("plugin failed", "plugin", p.Name(), "error", err)
				a.metrics.PluginFailures.Add(1)
				continue
			}
			results[p.Name()] = raw
		case EnginePlugin:
			if engineFailed {
				continue
			}
			if eng == nil {
				var err error
				if eng, err = a.launch(); err != nil {
					logger.Error("engine launch failed", "error", err)
					engineFailed = true
					continue
				}
				a.metrics.EngineLaunches.Add(1)
			}
			raw, err := plugin.AnalyzeWithEngine(game, eng)
			if err != nil {
				logger.Warn("plugin failed", "plugin", p.Name(), "error", err)
				a.metrics.PluginFailures.Add(1)
				continue
			}
			results[p.Name()] = raw
		default:
			logger.Error("plugin implements no analysis interface", "plugin", p.Name())
		}
	}
	return results
}

func (a *Analyzer) clear(ctx context.Context, logger *slog.Logger, key string) error {
	if err := a.dedup.Clear(ctx, key); err != nil {
		logger.Error("clear pending key failed", "error", err)
	}
	return nil
}
