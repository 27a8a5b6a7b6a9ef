// Package orchestrator drives the crawl: every tick it refreshes the seed
// user's games and claims one stale opponent for fetching.
package orchestrator

import (
	"context"
	"log/slog"

	"github.com/castlegraph/castlegraph/internal/config"
	"github.com/castlegraph/castlegraph/internal/coord"
	"github.com/castlegraph/castlegraph/internal/store"
	"github.com/castlegraph/castlegraph/internal/types"
)

// ClaimStore is the store surface the orchestrator needs.
type ClaimStore interface {
	LastMoveTime(ctx context.Context, playerID string) (int64, error)
	ClaimNextPlayer(ctx context.Context) (*store.ClaimedPlayer, error)
}

// Orchestrator enqueues fetch tasks on a timer.
type Orchestrator struct {
	cfg    config.UpstreamConfig
	store  ClaimStore
	fetchQ *coord.Queue
	logger *slog.Logger
}

// New creates an orchestrator.
func New(cfg config.UpstreamConfig, st ClaimStore, fetchQ *coord.Queue, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		store:  st,
		fetchQ: fetchQ,
		logger: logger.With("component", "orchestrator"),
	}
}

// Tick runs both branches. Each branch fails independently and failures are
// logged, never propagated: the next tick retries and every downstream write
// is idempotent.
func (o *Orchestrator) Tick(ctx context.Context) {
	o.seedBranch(ctx)
	o.claimBranch(ctx)
}

// seedBranch keeps the seed user current, fetching from that user's own
// cursor forward. The global cursor would overshoot whenever an opponent's
// newer games land first, silently dropping seed games played in between.
func (o *Orchestrator) seedBranch(ctx context.Context) {
	since, err := o.store.LastMoveTime(ctx, o.cfg.SeedUser)
	if err != nil {
		o.logger.Error("read seed cursor failed", "error", err)
		return
	}

	task := types.FetchTask{PlayerID: o.cfg.SeedUser, Since: since, Depth: 0}
	if err := o.fetchQ.Enqueue(ctx, types.TaskFetchPlayerGames, task); err != nil {
		o.logger.Error("enqueue seed fetch failed", "error", err)
		return
	}
	o.logger.Debug("seed fetch enqueued", "player_id", o.cfg.SeedUser, "since", since)
}

// claimBranch claims the most stale eligible opponent. The claim advances
// the player's cursor server-side, so concurrent orchestrators pick
// disjoint targets.
func (o *Orchestrator) claimBranch(ctx context.Context) {
	claimed, err := o.store.ClaimNextPlayer(ctx)
	if err != nil {
		o.logger.Error("claim next player failed", "error", err)
		return
	}
	if claimed == nil {
		o.logger.Debug("no eligible player to claim")
		return
	}

	task := types.FetchTask{
		PlayerID: claimed.PlayerID,
		Since:    claimed.LastMoveTime,
		Depth:    claimed.Depth,
	}
	if err := o.fetchQ.Enqueue(ctx, types.TaskFetchPlayerGames, task); err != nil {
		o.logger.Error("enqueue claimed fetch failed", "player_id", claimed.PlayerID, "error", err)
		return
	}
	o.logger.Info("claimed player for fetch",
		"player_id", claimed.PlayerID, "depth", claimed.Depth, "since", claimed.LastMoveTime)
}
