// Package store defines the durable persistence contract of the pipeline —
// games, players, game-player associations, move rows, and per-game analysis
// metrics — together with a Postgres backend and an in-memory backend used
// for development and handler tests.
//
// All upserts are idempotent under replay. The one subtle rule, reproduced
// from the crawler's state machine: upserting an existing player never
// touches last_fetched_at — only the orchestrator claim advances it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by reads for absent rows.
var ErrNotFound = errors.New("not found")

// Game is one stored game row. Timestamps are stored with time zone; clock
// values are seconds.
type Game struct {
	GameID         string    `json:"game_id"`
	Rated          bool      `json:"rated"`
	Variant        string    `json:"variant"`
	Speed          string    `json:"speed"`
	Perf           string    `json:"perf"`
	CreatedAt      time.Time `json:"created_at"`
	LastMoveAt     time.Time `json:"last_move_at"`
	Status         string    `json:"status"`
	Source         string    `json:"source,omitempty"`
	Winner         string    `json:"winner,omitempty"`
	PGN            string    `json:"pgn,omitempty"`
	ClockInitial   int       `json:"clock_initial"`
	ClockIncrement int       `json:"clock_increment"`
	ClockTotalTime int       `json:"clock_total_time"`
}

// Player is one stored player row. PlayerID is the lowercase upstream handle.
// Depth is graph distance from the seed user (0 = seed).
type Player struct {
	PlayerID      string     `json:"player_id"`
	Name          string     `json:"name"`
	Flair         *string    `json:"flair,omitempty"`
	Depth         int        `json:"depth"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
}

// GamePlayer links a player to a game. Exactly two rows per fully
// ingested game.
type GamePlayer struct {
	GameID     string `json:"game_id"`
	PlayerID   string `json:"player_id"`
	Color      string `json:"color"`
	Rating     int    `json:"rating"`
	RatingDiff int    `json:"rating_diff"`
}

// GameMove is one ply of a game. MoveNumber starts at 1 and is contiguous
// within a game.
type GameMove struct {
	GameID     string `json:"game_id"`
	MoveNumber int    `json:"move_number"`
	SAN        string `json:"move"`
}

// Metrics maps plugin name to that plugin's result document.
type Metrics map[string]json.RawMessage

// GameMetrics is the per-game analysis metrics row, unique on game_id.
type GameMetrics struct {
	GameID  string  `json:"game_id"`
	Metrics Metrics `json:"metrics"`
}

// ClaimedPlayer is the result of the orchestrator claim. LastMoveTime echoes
// the player's cursor from before the claim advanced it, in milliseconds
// since epoch; 0 when the player was never fetched.
type ClaimedPlayer struct {
	PlayerID     string `json:"player_id"`
	Depth        int    `json:"depth"`
	LastMoveTime int64  `json:"last_move_time"`
}

// fetchInterval is how long a claimed player stays ineligible for re-claim.
const fetchInterval = 24 * time.Hour

// maxClaimDepth bounds graph traversal: only the seed user and direct
// opponents are ever re-fetched.
const maxClaimDepth = 1

// Store is the persistence contract consumed by the store API handlers.
type Store interface {
	// UpsertGame inserts or fully updates one game, returning the
	// canonical row.
	UpsertGame(ctx context.Context, g Game) (Game, error)
	// UpsertGames is the batch form of UpsertGame.
	UpsertGames(ctx context.Context, gs []Game) ([]Game, error)
	// Games returns a page of games in creation order.
	Games(ctx context.Context, skip, limit int) ([]Game, error)

	// UpsertPlayer inserts or updates one player. On conflict every field
	// except last_fetched_at is updated.
	UpsertPlayer(ctx context.Context, p Player) (Player, error)
	// UpsertPlayers is the batch form of UpsertPlayer.
	UpsertPlayers(ctx context.Context, ps []Player) ([]Player, error)
	// Player reads one player, or ErrNotFound.
	Player(ctx context.Context, playerID string) (Player, error)
	// MarkPlayerFetched advances last_fetched_at to now.
	MarkPlayerFetched(ctx context.Context, playerID string) error
	// ClaimNextPlayer atomically selects the most stale eligible player
	// (depth <= 1, unfetched or fetched over 24h ago, nulls first) under a
	// skip-locked row lock, advances its last_fetched_at to now, and
	// returns the row with the previous cursor echoed back. Returns
	// (nil, nil) when no player is eligible.
	ClaimNextPlayer(ctx context.Context) (*ClaimedPlayer, error)

	// LinkPlayer associates a player with a game; conflicts are ignored.
	LinkPlayer(ctx context.Context, gp GamePlayer) (GamePlayer, error)
	// LinkPlayers is the batch form of LinkPlayer.
	LinkPlayers(ctx context.Context, gps []GamePlayer) ([]GamePlayer, error)
	// GamePlayers returns the associations for one game.
	GamePlayers(ctx context.Context, gameID string) ([]GamePlayer, error)

	// InsertMoves replaces the game's move rows with the given ordered,
	// contiguous list. Re-ingesting a game leaves the same rows behind.
	InsertMoves(ctx context.Context, gameID string, moves []GameMove) error

	// LastMoveTime returns the latest last_move_at in milliseconds since
	// epoch across all games (playerID == "") or across one player's
	// games, or 0 when there are none.
	LastMoveTime(ctx context.Context, playerID string) (int64, error)
	// PGN returns a game's PGN blob ("" when the game has none), or
	// ErrNotFound when the game does not exist.
	PGN(ctx context.Context, gameID string) (string, error)

	// GamesNeedingAnalysis returns up to limit game IDs whose metrics lack
	// at least one of the named plugins.
	GamesNeedingAnalysis(ctx context.Context, plugins []string, limit int) ([]string, error)
	// MergeMetrics key-wise merges m into the game's metrics document,
	// creating the row if absent. Existing keys not in m are retained;
	// duplicate keys are overwritten.
	MergeMetrics(ctx context.Context, gameID string, m Metrics) (GameMetrics, error)
	// GameMetrics reads a game's metrics row, or ErrNotFound.
	GameMetrics(ctx context.Context, gameID string) (GameMetrics, error)

	// Close releases backend resources.
	Close()
}
