// Package storeclient is the HTTP client for the store API. The fetcher,
// ingestor, analyzers, and orchestrator all persist through it.
package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/castlegraph/castlegraph/internal/store"
)

// Client talks to one store API base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client. baseURL has no trailing slash.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// UpsertGame stores one game.
func (c *Client) UpsertGame(ctx context.Context, g store.Game) (store.Game, error) {
	var out store.Game
	err := c.do(ctx, http.MethodPost, "/games/", g, &out)
	return out, err
}

// UpsertGames stores a batch of games.
func (c *Client) UpsertGames(ctx context.Context, gs []store.Game) ([]store.Game, error) {
	var out []store.Game
	err := c.do(ctx, http.MethodPost, "/games/batch", gs, &out)
	return out, err
}

// UpsertPlayers stores a batch of players. The server never touches
// last_fetched_at on conflict.
func (c *Client) UpsertPlayers(ctx context.Context, ps []store.Player) ([]store.Player, error) {
	var out []store.Player
	err := c.do(ctx, http.MethodPost, "/players/batch", ps, &out)
	return out, err
}

// LinkPlayers stores a batch of game-player associations.
func (c *Client) LinkPlayers(ctx context.Context, gps []store.GamePlayer) ([]store.GamePlayer, error) {
	var out []store.GamePlayer
	err := c.do(ctx, http.MethodPost, "/games/players/batch", gps, &out)
	return out, err
}

// AddMoves sends the raw move string for server-side parsing and insertion.
// Returns the number of move rows inserted (0 when the string is
// unparseable).
func (c *Client) AddMoves(ctx context.Context, gameID, moves, variant, initialFEN string) (int, error) {
	req := map[string]string{"moves": moves, "variant": variant, "initial_fen": initialFEN}
	var out struct {
		Inserted int `json:"inserted"`
	}
	path := fmt.Sprintf("/games/%s/moves/", url.PathEscape(gameID))
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return 0, err
	}
	return out.Inserted, nil
}

// LastMoveTime reads the global (playerID == "") or per-player cursor in
// milliseconds since epoch, 0 when no games exist.
func (c *Client) LastMoveTime(ctx context.Context, playerID string) (int64, error) {
	path := "/games/get_last_move_played_time"
	if playerID != "" {
		path += "/" + url.PathEscape(playerID)
	}
	var out struct {
		LastMoveTime int64 `json:"last_move_time"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return 0, err
	}
	return out.LastMoveTime, nil
}

// ClaimNextPlayer claims the next crawl target. Returns (nil, nil) when no
// player is eligible.
func (c *Client) ClaimNextPlayer(ctx context.Context) (*store.ClaimedPlayer, error) {
	var out store.ClaimedPlayer
	err := c.do(ctx, http.MethodGet, "/players/process/next", nil, &out)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkPlayerFetched advances a player's last_fetched_at to now.
func (c *Client) MarkPlayerFetched(ctx context.Context, playerID string) error {
	path := fmt.Sprintf("/players/%s/fetched", url.PathEscape(playerID))
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// PGN reads a game's PGN. Returns store.ErrNotFound (wrapped) when the game
// does not exist.
func (c *Client) PGN(ctx context.Context, gameID string) (string, error) {
	var out struct {
		PGN string `json:"pgn"`
	}
	path := fmt.Sprintf("/games/%s/pgn", url.PathEscape(gameID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("game %s: %w", gameID, store.ErrNotFound)
		}
		return "", err
	}
	return out.PGN, nil
}

// GameMetrics reads a game's metrics. Returns (nil, nil) when the game has
// no metrics row yet.
func (c *Client) GameMetrics(ctx context.Context, gameID string) (*store.GameMetrics, error) {
	var out *store.GameMetrics
	path := fmt.Sprintf("/games/%s/metrics", url.PathEscape(gameID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MergeMetrics merges m into a game's metrics document.
func (c *Client) MergeMetrics(ctx context.Context, gameID string, m store.Metrics) (store.GameMetrics, error) {
	var out store.GameMetrics
	path := fmt.Sprintf("/games/%s/metrics", url.PathEscape(gameID))
	err := c.do(ctx, http.MethodPost, path, m, &out)
	return out, err
}

// GamesNeedingAnalysis lists up to limit game IDs lacking at least one of
// the named plugins.
func (c *Client) GamesNeedingAnalysis(ctx context.Context, plugins []string, limit int) ([]string, error) {
	var out []string
	path := fmt.Sprintf("/games/analysis/queue?limit=%d", limit)
	err := c.do(ctx, http.MethodPost, path, plugins, &out)
	return out, err
}

// StatusError reports a non-2xx store API response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("store API status %d: %s", e.Code, e.Body)
}

func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request for %s: %w", path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}
