package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/castlegraph/castlegraph/internal/config"
	"github.com/castlegraph/castlegraph/internal/coord"
	"github.com/castlegraph/castlegraph/internal/observability"
	"github.com/castlegraph/castlegraph/internal/types"
)

// CandidateLister is the store surface the scheduler needs.
type CandidateLister interface {
	GamesNeedingAnalysis(ctx context.Context, plugins []string, limit int) ([]string, error)
}

// Scheduler periodically finds games missing plugin results and dispatches
// analyzer tasks for them, deduplicated so a game is in flight at most once.
type Scheduler struct {
	store    CandidateLister
	dedup    *coord.Dedup
	queue    *coord.Queue
	registry *Registry
	cfg      config.AnalysisConfig
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(store CandidateLister, dedup *coord.Dedup, queue *coord.Queue,
	registry *Registry, cfg config.AnalysisConfig, metrics *observability.Metrics,
	logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		dedup:    dedup,
		queue:    queue,
		registry: registry,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With("component", "analysis_scheduler"),
	}
}

// Tick runs one scheduling pass. Candidates whose pending key is already set
// are skipped; at most EnqueueTarget new tasks are dispatched per pass.
func (s *Scheduler) Tick(ctx context.Context) error {
	candidates, err := s.store.GamesNeedingAnalysis(ctx, s.registry.Names(), s.cfg.CandidateLimit)
	if err != nil {
		return fmt.Errorf("list analysis candidates: %w", err)
	}

	enqueued := 0
	for _, gameID := range candidates {
		if enqueued >= s.cfg.EnqueueTarget {
			break
		}

		key := coord.AnalysisPendingKey(gameID)
		ok, err := s.dedup.TrySet(ctx, key, "1", s.cfg.DedupTTL)
		if err != nil {
			return fmt.Errorf("set pending key for %s: %w", gameID, err)
		}
		if !ok {
			continue // already in flight
		}

		if err := s.queue.Enqueue(ctx, types.TaskAnalyzeGame, types.AnalyzeTask{GameID: gameID}); err != nil {
			// Unwind the key so the next tick can retry the game.
			if cerr := s.dedup.Clear(ctx, key); cerr != nil {
				s.logger.Error("clear pending key failed", "game_id", gameID, "error", cerr)
			}
			return fmt.Errorf("enqueue analysis for %s: %w", gameID, err)
		}
		enqueued++
	}

	if enqueued > 0 {
		s.metrics.AnalysesDispatched.Add(int64(enqueued))
		s.logger.Info("analysis tasks dispatched", "enqueued", enqueued, "candidates", len(candidates))
	}
	return nil
}
