// Package upstream streams completed games from the game provider's NDJSON
// export API.
package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/castlegraph/castlegraph/internal/config"
	"github.com/castlegraph/castlegraph/internal/types"
)

// scanBufSize bounds one NDJSON line. Games with long PGNs run well past
// bufio's 64 KiB default.
const scanBufSize = 1 << 20

// StatusError reports a non-200 upstream response. The fetcher maps codes to
// its retry policy.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.Code)
}

// Client streams a player's games.
type Client struct {
	baseURL  string
	token    string
	batchMax int
	http     *http.Client
	logger   *slog.Logger
}

// NewClient creates an upstream client from configuration.
func NewClient(cfg config.UpstreamConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		token:    cfg.Token,
		batchMax: cfg.BatchMax,
		http:     &http.Client{Timeout: cfg.RequestTimeout},
		logger:   logger.With("component", "upstream"),
	}
}

// BatchMax returns the page size requested per stream; when a stream yields
// exactly this many games the caller should paginate.
func (c *Client) BatchMax() int {
	return c.batchMax
}

// StreamGames requests playerID's games newer than since (ms, 0 for all) and
// invokes fn per game in stream order. Malformed lines are logged and
// skipped. Returns the number of games delivered and the largest lastMoveAt
// observed.
func (c *Client) StreamGames(ctx context.Context, playerID string, since int64, fn func(types.Game) error) (int, int64, error) {
	q := url.Values{}
	q.Set("max", strconv.Itoa(c.batchMax))
	q.Set("sort", "dateAsc")
	q.Set("pgnInJson", "true")
	if since > 0 {
		q.Set("since", strconv.FormatInt(since, 10))
	}
	reqURL := fmt.Sprintf("%s/api/games/user/%s?%s", c.baseURL, url.PathEscape(playerID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/x-ndjson")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("stream games for %s: %w", playerID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, &StatusError{Code: resp.StatusCode}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), scanBufSize)

	var count int
	var maxLastMove int64
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var g types.Game
		if err := json.Unmarshal(line, &g); err != nil {
			c.logger.Warn("skipping malformed game line", "player_id", playerID, "error", err)
			continue
		}

		if err := fn(g); err != nil {
			return count, maxLastMove, err
		}
		count++
		if g.LastMoveAt > maxLastMove {
			maxLastMove = g.LastMoveAt
		}
	}
	if err := scanner.Err(); err != nil {
		return count, maxLastMove, fmt.Errorf("read game stream for %s: %w", playerID, err)
	}
	return count, maxLastMove, nil
}
