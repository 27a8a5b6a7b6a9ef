package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func testGame(id string, lastMove time.Time) Game {
	return Game{
		GameID:     id,
		Rated:      true,
		Variant:    "standard",
		Speed:      "blitz",
		Perf:       "blitz",
		CreatedAt:  lastMove.Add(-5 * time.Minute),
		LastMoveAt: lastMove,
		Status:     "mate",
		Winner:     "white",
	}
}

// --- Game Tests ---

func TestUpsertGameIdempotent(t *testing.T) {
	s := NewMemoryStore()
	g := testGame("g1", time.Now().UTC())

	if _, err := s.UpsertGame(t.Context(), g); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	g.Status = "resign"
	got, err := s.UpsertGame(t.Context(), g)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if got.Status != "resign" {
		t.Errorf("expected updated status, got %q", got.Status)
	}

	all, err := s.Games(t.Context(), 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 game after replay, got %d", len(all))
	}
}

func TestGamesPagination(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		g := testGame(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		if _, err := s.UpsertGame(t.Context(), g); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	page, err := s.Games(t.Context(), 2, 2)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != 2 || page[0].GameID != "c" || page[1].GameID != "d" {
		t.Fatalf("expected games c,d, got %+v", page)
	}

	empty, err := s.Games(t.Context(), 10, 2)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty page past end, got %+v (err %v)", empty, err)
	}
}

// --- Player Tests ---

func TestUpsertPlayerPreservesCursor(t *testing.T) {
	s := NewMemoryStore()
	fetched := time.Now().UTC().Add(-time.Hour)

	if _, err := s.UpsertPlayer(t.Context(), Player{PlayerID: "alice", Name: "Alice", Depth: 0, LastFetchedAt: &fetched}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Re-ingestion carries no cursor; the stored one must survive.
	got, err := s.UpsertPlayer(t.Context(), Player{PlayerID: "alice", Name: "Alice2", Depth: 1})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Name != "Alice2" || got.Depth != 1 {
		t.Errorf("expected name and depth updated, got %+v", got)
	}
	if got.LastFetchedAt == nil || !got.LastFetchedAt.Equal(fetched) {
		t.Errorf("last_fetched_at was clobbered: %v", got.LastFetchedAt)
	}
}

func TestPlayerNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Player(t.Context(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.MarkPlayerFetched(t.Context(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// --- Claim Tests ---

func TestClaimOrderingAndEcho(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	s.now = func() time.Time { return now }

	old := now.Add(-48 * time.Hour)
	older := now.Add(-72 * time.Hour)
	recent := now.Add(-time.Hour)

	seed := []Player{
		{PlayerID: "fresh", Name: "Fresh", Depth: 0, LastFetchedAt: &recent},
		{PlayerID: "stale", Name: "Stale", Depth: 0, LastFetchedAt: &old},
		{PlayerID: "staler", Name: "Staler", Depth: 1, LastFetchedAt: &older},
		{PlayerID: "virgin", Name: "Virgin", Depth: 1},
		{PlayerID: "deep", Name: "Deep", Depth: 2},
	}
	if _, err := s.UpsertPlayers(t.Context(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Never-fetched first, regardless of how stale the others are.
	c1, err := s.ClaimNextPlayer(t.Context())
	if err != nil {
		t.Fatalf("claim 1: %v", err)
	}
	if c1 == nil || c1.PlayerID != "virgin" {
		t.Fatalf("expected virgin first, got %+v", c1)
	}
	if c1.LastMoveTime != 0 {
		t.Errorf("never-fetched claim should echo 0, got %d", c1.LastMoveTime)
	}

	// Then oldest cursor; the echoed value is the cursor before the claim.
	c2, err := s.ClaimNextPlayer(t.Context())
	if err != nil {
		t.Fatalf("claim 2: %v", err)
	}
	if c2 == nil || c2.PlayerID != "staler" {
		t.Fatalf("expected staler second, got %+v", c2)
	}
	if c2.LastMoveTime != older.UnixMilli() {
		t.Errorf("expected previous cursor %d, got %d", older.UnixMilli(), c2.LastMoveTime)
	}

	c3, err := s.ClaimNextPlayer(t.Context())
	if err != nil {
		t.Fatalf("claim 3: %v", err)
	}
	if c3 == nil || c3.PlayerID != "stale" {
		t.Fatalf("expected stale third, got %+v", c3)
	}

	// fresh is inside the fetch interval, deep exceeds the depth bound.
	c4, err := s.ClaimNextPlayer(t.Context())
	if err != nil {
		t.Fatalf("claim 4: %v", err)
	}
	if c4 != nil {
		t.Fatalf("expected no eligible player, got %+v", c4)
	}
}

func TestClaimAdvancesCursor(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	s.now = func() time.Time { return now }

	if _, err := s.UpsertPlayer(t.Context(), Player{PlayerID: "alice", Name: "Alice"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if c, err := s.ClaimNextPlayer(t.Context()); err != nil || c == nil {
		t.Fatalf("first claim: %+v (err %v)", c, err)
	}

	// The same player must not be claimable again inside the interval.
	if c, err := s.ClaimNextPlayer(t.Context()); err != nil || c != nil {
		t.Fatalf("expected no claim after advance, got %+v (err %v)", c, err)
	}

	p, err := s.Player(t.Context(), "alice")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if p.LastFetchedAt == nil || !p.LastFetchedAt.Equal(now) {
		t.Errorf("cursor not advanced: %v", p.LastFetchedAt)
	}
}

// --- Link and Move Tests ---

func TestLinkPlayerConflictIgnored(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.UpsertGame(t.Context(), testGame("g1", time.Now().UTC())); err != nil {
		t.Fatalf("game: %v", err)
	}
	if _, err := s.UpsertPlayer(t.Context(), Player{PlayerID: "alice", Name: "Alice"}); err != nil {
		t.Fatalf("player: %v", err)
	}

	first := GamePlayer{GameID: "g1", PlayerID: "alice", Color: "white", Rating: 1500, RatingDiff: 8}
	if _, err := s.LinkPlayer(t.Context(), first); err != nil {
		t.Fatalf("link: %v", err)
	}

	// Replays with different data keep the original row.
	got, err := s.LinkPlayer(t.Context(), GamePlayer{GameID: "g1", PlayerID: "alice", Color: "white", Rating: 9999})
	if err != nil {
		t.Fatalf("relink: %v", err)
	}
	if got.Rating != 1500 {
		t.Errorf("conflict should keep stored row, got rating %d", got.Rating)
	}

	links, err := s.GamePlayers(t.Context(), "g1")
	if err != nil || len(links) != 1 {
		t.Fatalf("expected 1 link, got %d (err %v)", len(links), err)
	}
}

func TestLinkPlayerRequiresRows(t *testing.T) {
	s := NewMemoryStore()
	gp := GamePlayer{GameID: "g1", PlayerID: "alice", Color: "white"}
	if _, err := s.LinkPlayer(t.Context(), gp); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound without game, got %v", err)
	}
}

func TestInsertMoves(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.UpsertGame(t.Context(), testGame("g1", time.Now().UTC())); err != nil {
		t.Fatalf("game: %v", err)
	}

	moves := []GameMove{
		{GameID: "g1", MoveNumber: 1, SAN: "e4"},
		{GameID: "g1", MoveNumber: 2, SAN: "e5"},
	}
	if err := s.InsertMoves(t.Context(), "g1", moves); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := s.Moves("g1"); len(got) != 2 || got[0].SAN != "e4" {
		t.Fatalf("unexpected moves: %+v", got)
	}

	if err := s.InsertMoves(t.Context(), "missing", moves); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing game, got %v", err)
	}
}

func TestInsertMovesReplay(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.UpsertGame(t.Context(), testGame("g1", time.Now().UTC())); err != nil {
		t.Fatalf("game: %v", err)
	}

	moves := []GameMove{
		{GameID: "g1", MoveNumber: 1, SAN: "e4"},
		{GameID: "g1", MoveNumber: 2, SAN: "e5"},
	}
	for i := 0; i < 2; i++ {
		if err := s.InsertMoves(t.Context(), "g1", moves); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	got := s.Moves("g1")
	if len(got) != 2 {
		t.Fatalf("replay must not duplicate rows, got %d", len(got))
	}
	if got[0].MoveNumber != 1 || got[1].MoveNumber != 2 {
		t.Fatalf("move numbers must stay contiguous from 1: %+v", got)
	}

	// An ongoing game re-delivered with more moves replaces the old rows.
	longer := append(moves, GameMove{GameID: "g1", MoveNumber: 3, SAN: "Nf3"})
	if err := s.InsertMoves(t.Context(), "g1", longer); err != nil {
		t.Fatalf("reinsert: %v", err)
	}
	if got := s.Moves("g1"); len(got) != 3 || got[2].SAN != "Nf3" {
		t.Fatalf("expected replaced move list, got %+v", got)
	}
}

// --- Cursor Tests ---

func TestLastMoveTime(t *testing.T) {
	s := NewMemoryStore()

	if ms, err := s.LastMoveTime(t.Context(), ""); err != nil || ms != 0 {
		t.Fatalf("empty store should report 0, got %d (err %v)", ms, err)
	}

	t1 := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Millisecond)
	t2 := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	if _, err := s.UpsertGame(t.Context(), testGame("g1", t1)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertGame(t.Context(), testGame("g2", t2)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertPlayer(t.Context(), Player{PlayerID: "alice", Name: "Alice"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LinkPlayer(t.Context(), GamePlayer{GameID: "g1", PlayerID: "alice", Color: "white"}); err != nil {
		t.Fatal(err)
	}

	if ms, _ := s.LastMoveTime(t.Context(), ""); ms != t2.UnixMilli() {
		t.Errorf("global cursor: expected %d, got %d", t2.UnixMilli(), ms)
	}
	// Per-player cursor only sees alice's games.
	if ms, _ := s.LastMoveTime(t.Context(), "alice"); ms != t1.UnixMilli() {
		t.Errorf("player cursor: expected %d, got %d", t1.UnixMilli(), ms)
	}
	if ms, _ := s.LastMoveTime(t.Context(), "bob"); ms != 0 {
		t.Errorf("unknown player cursor: expected 0, got %d", ms)
	}
}

// --- Metrics Tests ---

func TestMergeMetrics(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.UpsertGame(t.Context(), testGame("g1", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}

	first := Metrics{"move_count": json.RawMessage(`{"total":40}`)}
	got, err := s.MergeMetrics(t.Context(), "g1", first)
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	if len(got.Metrics) != 1 {
		t.Fatalf("expected 1 key, got %d", len(got.Metrics))
	}

	// Merge retains existing keys and overwrites duplicates.
	second := Metrics{
		"move_count": json.RawMessage(`{"total":42}`),
		"castling":   json.RawMessage(`{"white":"kingside"}`),
	}
	got, err = s.MergeMetrics(t.Context(), "g1", second)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if len(got.Metrics) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(got.Metrics))
	}
	if string(got.Metrics["move_count"]) != `{"total":42}` {
		t.Errorf("duplicate key not overwritten: %s", got.Metrics["move_count"])
	}

	if _, err := s.MergeMetrics(t.Context(), "missing", first); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing game, got %v", err)
	}
}

func TestGamesNeedingAnalysis(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.UpsertGame(t.Context(), testGame(id, now)); err != nil {
			t.Fatal(err)
		}
	}

	// b is fully analyzed, c partially.
	if _, err := s.MergeMetrics(t.Context(), "b", Metrics{
		"move_count": json.RawMessage(`{}`),
		"castling":   json.RawMessage(`{}`),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MergeMetrics(t.Context(), "c", Metrics{
		"move_count": json.RawMessage(`{}`),
	}); err != nil {
		t.Fatal(err)
	}

	plugins := []string{"move_count", "castling"}
	ids, err := s.GamesNeedingAnalysis(t.Context(), plugins, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Fatalf("expected [a c], got %v", ids)
	}

	ids, err = s.GamesNeedingAnalysis(t.Context(), plugins, 1)
	if err != nil || len(ids) != 1 {
		t.Fatalf("limit not honored: %v (err %v)", ids, err)
	}
}

func TestGameMetricsNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GameMetrics(t.Context(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// --- PGN Tests ---

func TestPGN(t *testing.T) {
	s := NewMemoryStore()
	g := testGame("g1", time.Now().UTC())
	g.PGN = "[Event \"Casual Blitz\"]\n\n1. e4 e5 *"
	if _, err := s.UpsertGame(t.Context(), g); err != nil {
		t.Fatal(err)
	}

	pgn, err := s.PGN(t.Context(), "g1")
	if err != nil || pgn != g.PGN {
		t.Fatalf("expected stored pgn, got %q (err %v)", pgn, err)
	}
	if _, err := s.PGN(t.Context(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
