package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/castlegraph/castlegraph/internal/config"
	"github.com/castlegraph/castlegraph/internal/coord"
	"github.com/castlegraph/castlegraph/internal/store"
	"github.com/castlegraph/castlegraph/internal/types"
)

type fakeClaimStore struct {
	cursors   map[string]int64
	cursorErr error
	claimed   *store.ClaimedPlayer
	claimErr  error
}

func (f *fakeClaimStore) LastMoveTime(_ context.Context, playerID string) (int64, error) {
	return f.cursors[playerID], f.cursorErr
}

func (f *fakeClaimStore) ClaimNextPlayer(context.Context) (*store.ClaimedPlayer, error) {
	return f.claimed, f.claimErr
}

func setup(t *testing.T, st ClaimStore) (*Orchestrator, *coord.Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := coord.NewClient("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	fetchQ := coord.NewQueue(rdb, types.QueueFetch)
	cfg := config.UpstreamConfig{SeedUser: "seeduser"}
	return New(cfg, st, fetchQ, slog.New(slog.DiscardHandler)), fetchQ
}

func drainFetchTasks(t *testing.T, q *coord.Queue) []types.FetchTask {
	t.Helper()
	var out []types.FetchTask
	for {
		task, err := q.Dequeue(t.Context(), 50*time.Millisecond)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if task == nil {
			return out
		}
		if task.Name != types.TaskFetchPlayerGames {
			t.Fatalf("unexpected task name %s", task.Name)
		}
		var ft types.FetchTask
		if err := task.Decode(&ft); err != nil {
			t.Fatalf("decode: %v", err)
		}
		out = append(out, ft)
	}
}

func TestTickBothBranches(t *testing.T) {
	// The global cursor is ahead of the seed's own; the seed fetch must use
	// the per-player value or games behind the global max would be skipped.
	st := &fakeClaimStore{
		cursors: map[string]int64{"seeduser": 5000, "": 9999},
		claimed: &store.ClaimedPlayer{PlayerID: "bob", Depth: 1, LastMoveTime: 1234},
	}
	o, fetchQ := setup(t, st)

	o.Tick(t.Context())

	tasks := drainFetchTasks(t, fetchQ)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 fetch tasks, got %d", len(tasks))
	}
	seed, claim := tasks[0], tasks[1]
	if seed.PlayerID != "seeduser" || seed.Since != 5000 || seed.Depth != 0 {
		t.Errorf("unexpected seed task: %+v", seed)
	}
	// The claim echoes the previous cursor, which becomes the fetch window.
	if claim.PlayerID != "bob" || claim.Since != 1234 || claim.Depth != 1 {
		t.Errorf("unexpected claim task: %+v", claim)
	}
}

func TestTickNoEligiblePlayer(t *testing.T) {
	st := &fakeClaimStore{claimed: nil}
	o, fetchQ := setup(t, st)

	o.Tick(t.Context())

	tasks := drainFetchTasks(t, fetchQ)
	if len(tasks) != 1 {
		t.Fatalf("expected only the seed task, got %d", len(tasks))
	}
	if tasks[0].Since != 0 {
		t.Errorf("fresh store should fetch from 0, got %d", tasks[0].Since)
	}
}

func TestTickBranchIsolation(t *testing.T) {
	// Seed branch failure must not stop the claim branch.
	st := &fakeClaimStore{
		cursorErr: errors.New("store down"),
		claimed:   &store.ClaimedPlayer{PlayerID: "bob", Depth: 1},
	}
	o, fetchQ := setup(t, st)

	o.Tick(t.Context())

	tasks := drainFetchTasks(t, fetchQ)
	if len(tasks) != 1 || tasks[0].PlayerID != "bob" {
		t.Fatalf("claim branch should still run, got %+v", tasks)
	}
}

func TestTickClaimFailureIsSwallowed(t *testing.T) {
	st := &fakeClaimStore{claimErr: errors.New("store down")}
	o, fetchQ := setup(t, st)

	// Must not panic or propagate.
	o.Tick(t.Context())

	tasks := drainFetchTasks(t, fetchQ)
	if len(tasks) != 1 || tasks[0].PlayerID != "seeduser" {
		t.Fatalf("seed branch should still run, got %+v", tasks)
	}
}
