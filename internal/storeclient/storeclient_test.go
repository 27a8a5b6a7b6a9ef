package storeclient

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/castlegraph/castlegraph/internal/api"
	"github.com/castlegraph/castlegraph/internal/store"
)

// Tests run the client against the real store API handlers over a memory
// store, so client and server stay in lockstep.
func testClient(t *testing.T) (*Client, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	srv := api.NewServer(":0", st, slog.New(slog.DiscardHandler))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL), st
}

func clientGame(id string) store.Game {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return store.Game{
		GameID:     id,
		Variant:    "standard",
		Speed:      "blitz",
		CreatedAt:  now.Add(-10 * time.Minute),
		LastMoveAt: now,
		Status:     "mate",
	}
}

func TestUpsertAndCursor(t *testing.T) {
	c, _ := testClient(t)

	if ms, err := c.LastMoveTime(t.Context(), ""); err != nil || ms != 0 {
		t.Fatalf("empty cursor: %d (err %v)", ms, err)
	}

	g := clientGame("g1")
	if _, err := c.UpsertGame(t.Context(), g); err != nil {
		t.Fatalf("upsert game: %v", err)
	}
	if _, err := c.UpsertPlayers(t.Context(), []store.Player{{PlayerID: "alice", Name: "Alice"}}); err != nil {
		t.Fatalf("upsert players: %v", err)
	}
	if _, err := c.LinkPlayers(t.Context(), []store.GamePlayer{
		{GameID: "g1", PlayerID: "alice", Color: "white", Rating: 1500},
	}); err != nil {
		t.Fatalf("link players: %v", err)
	}

	ms, err := c.LastMoveTime(t.Context(), "alice")
	if err != nil {
		t.Fatalf("player cursor: %v", err)
	}
	if ms != g.LastMoveAt.UnixMilli() {
		t.Errorf("expected cursor %d, got %d", g.LastMoveAt.UnixMilli(), ms)
	}
}

func TestAddMoves(t *testing.T) {
	c, st := testClient(t)
	if _, err := st.UpsertGame(t.Context(), clientGame("g1")); err != nil {
		t.Fatal(err)
	}

	n, err := c.AddMoves(t.Context(), "g1", "e4 e5", "standard", "")
	if err != nil {
		t.Fatalf("add moves: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 inserted, got %d", n)
	}

	// Unparseable move strings are not an error, just zero rows.
	n, err = c.AddMoves(t.Context(), "g1", "xx yy", "standard", "")
	if err != nil || n != 0 {
		t.Fatalf("expected 0 inserted without error, got %d (err %v)", n, err)
	}
}

func TestClaimNextPlayer(t *testing.T) {
	c, st := testClient(t)

	claimed, err := c.ClaimNextPlayer(t.Context())
	if err != nil {
		t.Fatalf("claim on empty store: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected nil claim, got %+v", claimed)
	}

	if _, err := st.UpsertPlayer(t.Context(), store.Player{PlayerID: "alice", Name: "Alice", Depth: 1}); err != nil {
		t.Fatal(err)
	}
	claimed, err = c.ClaimNextPlayer(t.Context())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.PlayerID != "alice" || claimed.Depth != 1 {
		t.Fatalf("unexpected claim: %+v", claimed)
	}
}

func TestPGNNotFound(t *testing.T) {
	c, _ := testClient(t)
	if _, err := c.PGN(t.Context(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMetricsFlow(t *testing.T) {
	c, st := testClient(t)
	if _, err := st.UpsertGame(t.Context(), clientGame("g1")); err != nil {
		t.Fatal(err)
	}

	gm, err := c.GameMetrics(t.Context(), "g1")
	if err != nil {
		t.Fatalf("read absent metrics: %v", err)
	}
	if gm != nil {
		t.Fatalf("expected nil metrics, got %+v", gm)
	}

	merged, err := c.MergeMetrics(t.Context(), "g1", store.Metrics{
		"move_count": json.RawMessage(`{"total":12}`),
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged.Metrics) != 1 {
		t.Fatalf("unexpected merge result: %+v", merged)
	}

	ids, err := c.GamesNeedingAnalysis(t.Context(), []string{"move_count", "castling"}, 10)
	if err != nil {
		t.Fatalf("needing analysis: %v", err)
	}
	if len(ids) != 1 || ids[0] != "g1" {
		t.Fatalf("expected [g1], got %v", ids)
	}
}
