package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects, verifies the connection, and runs pending
// migrations.
func NewPostgresStore(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(databaseURL, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, logger: logger.With("component", "store")}, nil
}

const upsertGameSQL = `
INSERT INTO games (
	game_id, rated, variant, speed, perf, created_at, last_move_at,
	status, source, winner, pgn, clock_initial, clock_increment, clock_total_time
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (game_id) DO UPDATE SET
	rated = EXCLUDED.rated,
	variant = EXCLUDED.variant,
	speed = EXCLUDED.speed,
	perf = EXCLUDED.perf,
	created_at = EXCLUDED.created_at,
	last_move_at = EXCLUDED.last_move_at,
	status = EXCLUDED.status,
	source = EXCLUDED.source,
	winner = EXCLUDED.winner,
	pgn = EXCLUDED.pgn,
	clock_initial = EXCLUDED.clock_initial,
	clock_increment = EXCLUDED.clock_increment,
	clock_total_time = EXCLUDED.clock_total_time
RETURNING game_id, rated, variant, speed, perf, created_at, last_move_at,
	status, source, winner, pgn, clock_initial, clock_increment, clock_total_time`

func scanGame(row pgx.Row) (Game, error) {
	var g Game
	err := row.Scan(&g.GameID, &g.Rated, &g.Variant, &g.Speed, &g.Perf,
		&g.CreatedAt, &g.LastMoveAt, &g.Status, &g.Source, &g.Winner, &g.PGN,
		&g.ClockInitial, &g.ClockIncrement, &g.ClockTotalTime)
	return g, err
}

func (s *PostgresStore) UpsertGame(ctx context.Context, g Game) (Game, error) {
	row := s.pool.QueryRow(ctx, upsertGameSQL,
		g.GameID, g.Rated, g.Variant, g.Speed, g.Perf, g.CreatedAt, g.LastMoveAt,
		g.Status, g.Source, g.Winner, g.PGN, g.ClockInitial, g.ClockIncrement, g.ClockTotalTime)
	out, err := scanGame(row)
	if err != nil {
		return Game{}, fmt.Errorf("upsert game %s: %w", g.GameID, err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertGames(ctx context.Context, gs []Game) ([]Game, error) {
	out := make([]Game, 0, len(gs))
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, g := range gs {
			row := tx.QueryRow(ctx, upsertGameSQL,
				g.GameID, g.Rated, g.Variant, g.Speed, g.Perf, g.CreatedAt, g.LastMoveAt,
				g.Status, g.Source, g.Winner, g.PGN, g.ClockInitial, g.ClockIncrement, g.ClockTotalTime)
			stored, err := scanGame(row)
			if err != nil {
				return fmt.Errorf("upsert game %s: %w", g.GameID, err)
			}
			out = append(out, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Games(ctx context.Context, skip, limit int) ([]Game, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT game_id, rated, variant, speed, perf, created_at, last_move_at,
			status, source, winner, pgn, clock_initial, clock_increment, clock_total_time
		FROM games ORDER BY created_at, game_id OFFSET $1 LIMIT $2`, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	out := []Game{}
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Player upserts deliberately leave last_fetched_at alone on conflict so a
// re-ingested opponent does not lose its place in the crawl ordering.
const upsertPlayerSQL = `
INSERT INTO players (player_id, name, flair, depth, last_fetched_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (player_id) DO UPDATE SET
	name = EXCLUDED.name,
	flair = EXCLUDED.flair,
	depth = EXCLUDED.depth
RETURNING player_id, name, flair, depth, last_fetched_at`

func scanPlayer(row pgx.Row) (Player, error) {
	var p Player
	err := row.Scan(&p.PlayerID, &p.Name, &p.Flair, &p.Depth, &p.LastFetchedAt)
	return p, err
}

func (s *PostgresStore) UpsertPlayer(ctx context.Context, p Player) (Player, error) {
	row := s.pool.QueryRow(ctx, upsertPlayerSQL, p.PlayerID, p.Name, p.Flair, p.Depth, p.LastFetchedAt)
	out, err := scanPlayer(row)
	if err != nil {
		return Player{}, fmt.Errorf("upsert player %s: %w", p.PlayerID, err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertPlayers(ctx context.Context, ps []Player) ([]Player, error) {
	out := make([]Player, 0, len(ps))
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, p := range ps {
			row := tx.QueryRow(ctx, upsertPlayerSQL, p.PlayerID, p.Name, p.Flair, p.Depth, p.LastFetchedAt)
			stored, err := scanPlayer(row)
			if err != nil {
				return fmt.Errorf("upsert player %s: %w", p.PlayerID, err)
			}
			out = append(out, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Player(ctx context.Context, playerID string) (Player, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT player_id, name, flair, depth, last_fetched_at
		FROM players WHERE player_id = $1`, playerID)
	p, err := scanPlayer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Player{}, ErrNotFound
	}
	if err != nil {
		return Player{}, fmt.Errorf("read player %s: %w", playerID, err)
	}
	return p, nil
}

func (s *PostgresStore) MarkPlayerFetched(ctx context.Context, playerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE players SET last_fetched_at = now() WHERE player_id = $1`, playerID)
	if err != nil {
		return fmt.Errorf("mark player %s fetched: %w", playerID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimNextPlayer locks one stale player row, advances its cursor, and echoes
// the cursor from before the update. SKIP LOCKED keeps concurrent
// orchestrators from claiming the same player.
const claimSQL = `
WITH candidate AS (
	SELECT player_id, depth, last_fetched_at
	FROM players
	WHERE depth <= $1
	  AND (last_fetched_at IS NULL OR last_fetched_at < now() - $2::interval)
	ORDER BY last_fetched_at ASC NULLS FIRST
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
UPDATE players p SET last_fetched_at = now()
FROM candidate c
WHERE p.player_id = c.player_id
RETURNING p.player_id, p.depth, c.last_fetched_at`

func (s *PostgresStore) ClaimNextPlayer(ctx context.Context) (*ClaimedPlayer, error) {
	interval := fmt.Sprintf("%d seconds", int(fetchInterval.Seconds()))
	row := s.pool.QueryRow(ctx, claimSQL, maxClaimDepth, interval)

	var claimed ClaimedPlayer
	var prev *time.Time
	err := row.Scan(&claimed.PlayerID, &claimed.Depth, &prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next player: %w", err)
	}
	if prev != nil {
		claimed.LastMoveTime = prev.UnixMilli()
	}
	return &claimed, nil
}

const linkPlayerSQL = `
INSERT INTO game_players (game_id, player_id, color, rating, rating_diff)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (game_id, player_id) DO NOTHING`

func (s *PostgresStore) LinkPlayer(ctx context.Context, gp GamePlayer) (GamePlayer, error) {
	if _, err := s.pool.Exec(ctx, linkPlayerSQL,
		gp.GameID, gp.PlayerID, gp.Color, gp.Rating, gp.RatingDiff); err != nil {
		return GamePlayer{}, fmt.Errorf("link player %s to game %s: %w", gp.PlayerID, gp.GameID, err)
	}
	// Re-read so a conflicting insert still returns the stored row.
	row := s.pool.QueryRow(ctx, `
		SELECT game_id, player_id, color, rating, rating_diff
		FROM game_players WHERE game_id = $1 AND player_id = $2`, gp.GameID, gp.PlayerID)
	var out GamePlayer
	if err := row.Scan(&out.GameID, &out.PlayerID, &out.Color, &out.Rating, &out.RatingDiff); err != nil {
		return GamePlayer{}, fmt.Errorf("read game player: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) LinkPlayers(ctx context.Context, gps []GamePlayer) ([]GamePlayer, error) {
	out := make([]GamePlayer, 0, len(gps))
	for _, gp := range gps {
		row, err := s.LinkPlayer(ctx, gp)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *PostgresStore) GamePlayers(ctx context.Context, gameID string) ([]GamePlayer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT game_id, player_id, color, rating, rating_diff
		FROM game_players WHERE game_id = $1 ORDER BY color`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list game players: %w", err)
	}
	defer rows.Close()

	out := []GamePlayer{}
	for rows.Next() {
		var gp GamePlayer
		if err := rows.Scan(&gp.GameID, &gp.PlayerID, &gp.Color, &gp.Rating, &gp.RatingDiff); err != nil {
			return nil, fmt.Errorf("scan game player: %w", err)
		}
		out = append(out, gp)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertMoves(ctx context.Context, gameID string, moves []GameMove) error {
	if len(moves) == 0 {
		return nil
	}
	rows := make([][]any, len(moves))
	for i, m := range moves {
		rows[i] = []any{gameID, m.MoveNumber, m.SAN}
	}
	// Delete-then-copy in one transaction keeps game replay idempotent.
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM game_moves WHERE game_id = $1`, gameID); err != nil {
			return err
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"game_moves"},
			[]string{"game_id", "move_number", "move"},
			pgx.CopyFromRows(rows))
		return err
	})
	if err != nil {
		return fmt.Errorf("replace %d moves for game %s: %w", len(moves), gameID, err)
	}
	return nil
}

func (s *PostgresStore) LastMoveTime(ctx context.Context, playerID string) (int64, error) {
	var query string
	var args []any
	if playerID == "" {
		query = `SELECT max(last_move_at) FROM games`
	} else {
		query = `
			SELECT max(g.last_move_at)
			FROM games g
			JOIN game_players gp ON gp.game_id = g.game_id
			WHERE gp.player_id = $1`
		args = append(args, playerID)
	}

	var latest *time.Time
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&latest); err != nil {
		return 0, fmt.Errorf("last move time: %w", err)
	}
	if latest == nil {
		return 0, nil
	}
	return latest.UnixMilli(), nil
}

func (s *PostgresStore) PGN(ctx context.Context, gameID string) (string, error) {
	var pgn *string
	err := s.pool.QueryRow(ctx, `SELECT pgn FROM games WHERE game_id = $1`, gameID).Scan(&pgn)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read pgn for %s: %w", gameID, err)
	}
	if pgn == nil {
		return "", nil
	}
	return *pgn, nil
}

// GamesNeedingAnalysis uses the jsonb ?& operator (backed by the GIN index on
// metrics) to find games whose metrics document lacks at least one plugin key.
func (s *PostgresStore) GamesNeedingAnalysis(ctx context.Context, plugins []string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.game_id
		FROM games g
		LEFT JOIN game_metrics m ON m.game_id = g.game_id
		WHERE m.game_id IS NULL OR NOT (m.metrics ?& $1::text[])
		ORDER BY g.game_id
		LIMIT $2`, plugins, limit)
	if err != nil {
		return nil, fmt.Errorf("games needing analysis: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan game id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MergeMetrics(ctx context.Context, gameID string, m Metrics) (GameMetrics, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return GameMetrics{}, fmt.Errorf("marshal metrics for %s: %w", gameID, err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO game_metrics (game_id, metrics)
		VALUES ($1, $2::jsonb)
		ON CONFLICT (game_id) DO UPDATE SET
			metrics = game_metrics.metrics || EXCLUDED.metrics
		RETURNING game_id, metrics`, gameID, body)

	var out GameMetrics
	var merged []byte
	if err := row.Scan(&out.GameID, &merged); err != nil {
		return GameMetrics{}, fmt.Errorf("merge metrics for %s: %w", gameID, err)
	}
	if err := json.Unmarshal(merged, &out.Metrics); err != nil {
		return GameMetrics{}, fmt.Errorf("decode merged metrics for %s: %w", gameID, err)
	}
	return out, nil
}

func (s *PostgresStore) GameMetrics(ctx context.Context, gameID string) (GameMetrics, error) {
	var out GameMetrics
	var body []byte
	err := s.pool.QueryRow(ctx, `
		SELECT game_id, metrics FROM game_metrics WHERE game_id = $1`, gameID).
		Scan(&out.GameID, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return GameMetrics{}, ErrNotFound
	}
	if err != nil {
		return GameMetrics{}, fmt.Errorf("read metrics for %s: %w", gameID, err)
	}
	if err := json.Unmarshal(body, &out.Metrics); err != nil {
		return GameMetrics{}, fmt.Errorf("decode metrics for %s: %w", gameID, err)
	}
	return out, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

var _ Store = (*PostgresStore)(nil)
