// Package ingest normalizes one upstream game into its stored graph: the
// game row, both player rows, both associations, and the move rows.
package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/castlegraph/castlegraph/internal/coord"
	"github.com/castlegraph/castlegraph/internal/observability"
	"github.com/castlegraph/castlegraph/internal/store"
	"github.com/castlegraph/castlegraph/internal/types"
)

// GameWriter is the store surface the ingestor needs.
type GameWriter interface {
	UpsertGame(ctx context.Context, g store.Game) (store.Game, error)
	UpsertPlayers(ctx context.Context, ps []store.Player) ([]store.Player, error)
	LinkPlayers(ctx context.Context, gps []store.GamePlayer) ([]store.GamePlayer, error)
	AddMoves(ctx context.Context, gameID, moves, variant, initialFEN string) (int, error)
}

// Ingestor handles process_game tasks.
type Ingestor struct {
	store   GameWriter
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates an ingestor.
func New(store GameWriter, metrics *observability.Metrics, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:   store,
		metrics: metrics,
		logger:  logger.With("component", "ingest"),
	}
}

// HandleProcessGame persists one game's graph. Store failures are logged and
// swallowed: the writes are idempotent and the next crawl of either player
// re-delivers the game.
func (i *Ingestor) HandleProcessGame(ctx context.Context, task *coord.Task) error {
	var it types.IngestTask
	if err := task.Decode(&it); err != nil {
		return err
	}
	g := it.Game
	logger := i.logger.With("game_id", g.ID)

	if _, err := i.store.UpsertGame(ctx, gameRow(g)); err != nil {
		logger.Error("upsert game failed", "error", err)
		i.metrics.IngestFailures.Add(1)
		return nil
	}

	players, links := playerRows(g, it.Depth+1)
	if _, err := i.store.UpsertPlayers(ctx, players); err != nil {
		logger.Error("upsert players failed", "error", err)
		i.metrics.IngestFailures.Add(1)
		return nil
	}
	if _, err := i.store.LinkPlayers(ctx, links); err != nil {
		logger.Error("link players failed", "error", err)
		i.metrics.IngestFailures.Add(1)
		return nil
	}

	inserted, err := i.store.AddMoves(ctx, g.ID, g.Moves, g.Variant, g.InitialFEN)
	if err != nil {
		logger.Error("insert moves failed", "error", err)
		i.metrics.IngestFailures.Add(1)
		return nil
	}

	i.metrics.GamesIngested.Add(1)
	i.metrics.PlayersUpserted.Add(int64(len(players)))
	i.metrics.MovesInserted.Add(int64(inserted))
	logger.Debug("game ingested", "moves", inserted, "variant", g.Variant)
	return nil
}

func gameRow(g types.Game) store.Game {
	row := store.Game{
		GameID:     g.ID,
		Rated:      g.Rated,
		Variant:    g.Variant,
		Speed:      g.Speed,
		Perf:       g.Perf,
		CreatedAt:  time.UnixMilli(g.CreatedAt).UTC(),
		LastMoveAt: time.UnixMilli(g.LastMoveAt).UTC(),
		Status:     g.Status,
		Source:     g.Source,
		Winner:     g.Winner,
		PGN:        g.PGN,
	}
	if g.Clock != nil {
		row.ClockInitial = g.Clock.Initial
		row.ClockIncrement = g.Clock.Increment
		row.ClockTotalTime = g.Clock.TotalTime
	}
	return row
}

// playerRows extracts both sides. Anonymous sides get a synthetic per-color
// identity so the association invariant (two rows per game) always holds.
func playerRows(g types.Game, depth int) ([]store.Player, []store.GamePlayer) {
	sides := []struct {
		side  types.Side
		color string
	}{
		{g.Players.White, "white"},
		{g.Players.Black, "black"},
	}

	players := make([]store.Player, 0, 2)
	links := make([]store.GamePlayer, 0, 2)
	for _, s := range sides {
		var p store.Player
		if s.side.User == nil {
			name := "Anonymous White"
			if s.color == "black" {
				name = "Anonymous Black"
			}
			p = store.Player{
				PlayerID: "anonymous_" + s.color,
				Name:     name,
				Depth:    depth,
			}
			links = append(links, store.GamePlayer{
				GameID: g.ID, PlayerID: p.PlayerID, Color: s.color,
			})
		} else {
			p = store.Player{
				PlayerID: strings.ToLower(s.side.User.ID),
				Name:     s.side.User.Name,
				Flair:    s.side.Flair,
				Depth:    depth,
			}
			links = append(links, store.GamePlayer{
				GameID: g.ID, PlayerID: p.PlayerID, Color: s.color,
				Rating: s.side.Rating, RatingDiff: s.side.RatingDiff,
			})
		}
		players = append(players, p)
	}
	return players, links
}
