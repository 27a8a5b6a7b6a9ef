package integration

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/castlegraph/castlegraph/internal/analysis"
	"github.com/castlegraph/castlegraph/internal/api"
	"github.com/castlegraph/castlegraph/internal/config"
	"github.com/castlegraph/castlegraph/internal/coord"
	"github.com/castlegraph/castlegraph/internal/fetcher"
	"github.com/castlegraph/castlegraph/internal/ingest"
	"github.com/castlegraph/castlegraph/internal/observability"
	"github.com/castlegraph/castlegraph/internal/orchestrator"
	"github.com/castlegraph/castlegraph/internal/store"
	"github.com/castlegraph/castlegraph/internal/storeclient"
	"github.com/castlegraph/castlegraph/internal/types"
	"github.com/castlegraph/castlegraph/internal/upstream"
)

var testLogger = slog.New(slog.DiscardHandler)

const seedPGN = "1. e4 e5 2. Nf3 Nc6 *"

func seedGames() []types.Game {
	seed := &types.User{ID: "seed", Name: "Seed"}
	return []types.Game{
		{
			ID: "g1", Rated: true, Variant: "standard", Speed: "blitz", Perf: "blitz",
			CreatedAt: 1700000000000, LastMoveAt: 1700000600000,
			Status: "mate", Winner: "white", PGN: seedPGN, Moves: "e4 e5 Nf3 Nc6",
			Clock: &types.Clock{Initial: 300, Increment: 3},
			Players: types.Players{
				White: types.Side{User: seed, Rating: 1500, RatingDiff: 8},
				Black: types.Side{User: &types.User{ID: "carlsen", Name: "Carlsen"}, Rating: 2850, RatingDiff: -8},
			},
		},
		{
			ID: "g2", Rated: false, Variant: "standard", Speed: "bullet", Perf: "bullet",
			CreatedAt: 1700000100000, LastMoveAt: 1700000700000,
			Status: "resign", Winner: "black", PGN: seedPGN, Moves: "e4 e5 Nf3 Nc6",
			Players: types.Players{
				White: types.Side{User: seed, Rating: 1492, RatingDiff: -6},
				Black: types.Side{}, // anonymous opponent
			},
		},
	}
}

// fakeUpstream streams the seed's games as NDJSON and an empty stream for
// everyone else, like a provider whose other accounts have no new games.
func fakeUpstream() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		if r.URL.Path != "/api/games/user/seed" {
			return
		}
		enc := json.NewEncoder(w)
		for _, g := range seedGames() {
			_ = enc.Encode(g)
		}
	}))
}

// drain handles every task currently on the queue and returns how many ran.
func drain(t *testing.T, q *coord.Queue, h coord.HandlerFunc) int {
	t.Helper()
	n := 0
	for {
		task, err := q.Dequeue(t.Context(), 50*time.Millisecond)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if task == nil {
			return n
		}
		if err := h(t.Context(), task); err != nil {
			t.Fatalf("handle %s: %v", task.Name, err)
		}
		n++
	}
}

// TestPipelineEndToEnd wires every component together in process: the
// orchestrator seeds a fetch, the fetcher streams games from a fake provider,
// the ingestor persists them through the store API, and the analysis
// scheduler and analyzer fill in plugin metrics.
func TestPipelineEndToEnd(t *testing.T) {
	ctx := t.Context()

	upstreamSrv := fakeUpstream()
	defer upstreamSrv.Close()

	mem := store.NewMemoryStore()
	storeSrv := httptest.NewServer(api.NewServer(":0", mem, testLogger).Handler())
	defer storeSrv.Close()
	client := storeclient.New(storeSrv.URL)

	mr := miniredis.RunT(t)
	rdb, err := coord.NewClient("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	upstreamCfg := config.UpstreamConfig{
		BaseURL:        upstreamSrv.URL,
		SeedUser:       "seed",
		BatchMax:       100,
		RequestTimeout: 5 * time.Second,
		LockWait:       time.Second,
		LockTTL:        30 * time.Second,
		RetryDelay:     10 * time.Millisecond,
		MaxRetries:     3,
	}

	metrics := observability.NewMetrics(testLogger)
	fetchQ := coord.NewQueue(rdb, types.QueueFetch)
	ingestQ := coord.NewQueue(rdb, types.QueueIngest)
	analyzeQ := coord.NewQueue(rdb, types.QueueAnalyze)

	f := fetcher.New(upstreamCfg, coord.NewLocker(rdb),
		upstream.NewClient(upstreamCfg, testLogger), client,
		fetchQ, ingestQ, metrics, testLogger)
	ing := ingest.New(client, metrics, testLogger)
	orch := orchestrator.New(upstreamCfg, client, fetchQ, testLogger)

	// --- Crawl: seed tick, fetch, ingest ---

	orch.Tick(ctx)
	if n := drain(t, fetchQ, f.HandleFetch); n != 1 {
		t.Fatalf("expected 1 seed fetch, ran %d", n)
	}
	if n := drain(t, ingestQ, ing.HandleProcessGame); n != 2 {
		t.Fatalf("expected 2 ingest tasks, ran %d", n)
	}

	cursor, err := client.LastMoveTime(ctx, "")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cursor != 1700000700000 {
		t.Fatalf("global cursor = %d", cursor)
	}
	if pgn, err := client.PGN(ctx, "g1"); err != nil || pgn != seedPGN {
		t.Fatalf("pgn = %q err = %v", pgn, err)
	}
	if p, err := mem.Player(ctx, "carlsen"); err != nil || p.Depth != 1 {
		t.Fatalf("opponent depth: %+v err = %v", p, err)
	}
	if p, err := mem.Player(ctx, "anonymous_black"); err != nil || p.Name != "Anonymous Black" {
		t.Fatalf("anonymous identity: %+v err = %v", p, err)
	}
	if moves := mem.Moves("g1"); len(moves) != 4 {
		t.Fatalf("expected 4 move rows, got %d", len(moves))
	}

	// --- Second tick claims the stalest known player ---

	orch.Tick(ctx)
	if n := drain(t, fetchQ, f.HandleFetch); n != 2 {
		t.Fatalf("expected seed refresh plus one claimed player, ran %d", n)
	}
	// Re-delivered seed games ingest idempotently: same rows, same moves.
	drain(t, ingestQ, ing.HandleProcessGame)
	if moves := mem.Moves("g1"); len(moves) != 4 {
		t.Fatalf("replay duplicated move rows: got %d, want 4", len(moves))
	}

	// --- Analysis: schedule, analyze, verify nothing is left ---

	registry := analysis.NewRegistry()
	for _, p := range []analysis.Plugin{&analysis.MoveCount{}, &analysis.Castling{}} {
		if err := registry.Register(p); err != nil {
			t.Fatal(err)
		}
	}
	dedup := coord.NewDedup(rdb)
	sched := analysis.NewScheduler(client, dedup, analyzeQ, registry, config.AnalysisConfig{
		CandidateLimit: 100,
		EnqueueTarget:  100,
		DedupTTL:       time.Hour,
	}, metrics, testLogger)
	noEngine := func() (analysis.Engine, error) { return nil, nil }
	an := analysis.NewAnalyzer(client, dedup, registry, noEngine, metrics, testLogger)

	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if n := drain(t, analyzeQ, an.HandleAnalyze); n != 2 {
		t.Fatalf("expected 2 analyze tasks, ran %d", n)
	}

	gm, err := client.GameMetrics(ctx, "g1")
	if err != nil || gm == nil {
		t.Fatalf("metrics: %+v err = %v", gm, err)
	}
	for _, name := range []string{"move_count", "castling"} {
		if _, ok := gm.Metrics[name]; !ok {
			t.Errorf("missing %s result: %v", name, gm.Metrics)
		}
	}

	left, err := client.GamesNeedingAnalysis(ctx, registry.Names(), 100)
	if err != nil {
		t.Fatalf("needing analysis: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("games still needing analysis: %v", left)
	}
}
