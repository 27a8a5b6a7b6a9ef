// Package fetcher pulls one player's games from the upstream provider and
// fans them out as ingest tasks. A fleet-wide lease serializes upstream
// access so the whole deployment presents as a single polite client.
package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/castlegraph/castlegraph/internal/config"
	"github.com/castlegraph/castlegraph/internal/coord"
	"github.com/castlegraph/castlegraph/internal/observability"
	"github.com/castlegraph/castlegraph/internal/types"
	"github.com/castlegraph/castlegraph/internal/upstream"
)

// GameStreamer is the upstream surface the fetcher needs.
type GameStreamer interface {
	StreamGames(ctx context.Context, playerID string, since int64, fn func(types.Game) error) (int, int64, error)
	BatchMax() int
}

// CursorReader reads crawl cursors from the store.
type CursorReader interface {
	LastMoveTime(ctx context.Context, playerID string) (int64, error)
}

// Fetcher handles fetch_player_games tasks.
type Fetcher struct {
	cfg      config.UpstreamConfig
	locker   *coord.Locker
	upstream GameStreamer
	store    CursorReader
	fetchQ   *coord.Queue
	ingestQ  *coord.Queue
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// New creates a fetcher.
func New(cfg config.UpstreamConfig, locker *coord.Locker, us GameStreamer, store CursorReader,
	fetchQ, ingestQ *coord.Queue, metrics *observability.Metrics, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		cfg:      cfg,
		locker:   locker,
		upstream: us,
		store:    store,
		fetchQ:   fetchQ,
		ingestQ:  ingestQ,
		metrics:  metrics,
		logger:   logger.With("component", "fetcher"),
	}
}

// HandleFetch processes one fetch task: take the upstream lease, stream the
// player's games since the cursor, and enqueue one ingest task per game.
// When the stream fills a whole page, a follow-up fetch task continues from
// just past the newest game seen.
func (f *Fetcher) HandleFetch(ctx context.Context, task *coord.Task) error {
	var ft types.FetchTask
	if err := task.Decode(&ft); err != nil {
		return err
	}
	logger := f.logger.With("player_id", ft.PlayerID, "depth", ft.Depth)
	f.metrics.FetchesTotal.Add(1)

	lease, err := f.locker.Acquire(ctx, coord.UpstreamAPILock, f.cfg.LockTTL, f.cfg.LockWait)
	if err != nil {
		if errors.Is(err, coord.ErrNotAcquired) {
			f.metrics.LockContentions.Add(1)
			f.metrics.FetchesRetried.Add(1)
			return coord.Retry(err, f.cfg.RetryDelay)
		}
		return err
	}
	defer func() { _ = lease.Release(ctx) }()

	since := ft.Since
	if since == 0 {
		since, err = f.store.LastMoveTime(ctx, ft.PlayerID)
		if err != nil {
			f.metrics.FetchesRetried.Add(1)
			return coord.Retry(err, f.cfg.RetryDelay)
		}
	}

	count, maxLastMove, err := f.upstream.StreamGames(ctx, ft.PlayerID, since, func(g types.Game) error {
		return f.ingestQ.Enqueue(ctx, types.TaskProcessGame, types.IngestTask{Game: g, Depth: ft.Depth})
	})
	if err != nil {
		var se *upstream.StatusError
		switch {
		case errors.As(err, &se) && se.Code == http.StatusNotFound:
			// Renamed or closed accounts stream nothing, ever. Don't retry.
			logger.Warn("player not found upstream")
			return nil
		case errors.As(err, &se) && se.Code == http.StatusTooManyRequests:
			logger.Warn("upstream rate limited", "retry_in", f.cfg.RetryDelay)
			f.metrics.FetchesRateLimit.Add(1)
			f.metrics.FetchesRetried.Add(1)
			return coord.Retry(err, f.cfg.RetryDelay)
		default:
			f.metrics.FetchesRetried.Add(1)
			return coord.Retry(err, f.cfg.RetryDelay)
		}
	}

	f.metrics.GamesStreamed.Add(int64(count))
	logger.Info("fetched games", "count", count, "since", since)

	if count >= f.upstream.BatchMax() && maxLastMove > 0 {
		next := types.FetchTask{PlayerID: ft.PlayerID, Since: maxLastMove + 1, Depth: ft.Depth}
		if err := f.fetchQ.Enqueue(ctx, types.TaskFetchPlayerGames, next); err != nil {
			return err
		}
		logger.Info("page full, continuing fetch", "next_since", next.Since)
	}
	return nil
}
