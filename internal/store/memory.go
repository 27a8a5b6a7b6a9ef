package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used for development and handler tests.
// It enforces the same referential rules as the Postgres backend: moves,
// links, and metrics require an existing game row.
type MemoryStore struct {
	mu      sync.RWMutex
	games   map[string]Game
	players map[string]Player
	links   map[string]map[string]GamePlayer // game_id -> player_id
	moves   map[string][]GameMove
	metrics map[string]Metrics

	// now is swappable in tests.
	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games:   make(map[string]Game),
		players: make(map[string]Player),
		links:   make(map[string]map[string]GamePlayer),
		moves:   make(map[string][]GameMove),
		metrics: make(map[string]Metrics),
		now:     time.Now,
	}
}

func (s *MemoryStore) UpsertGame(_ context.Context, g Game) (Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[g.GameID] = g
	return g, nil
}

func (s *MemoryStore) UpsertGames(ctx context.Context, gs []Game) ([]Game, error) {
	out := make([]Game, 0, len(gs))
	for _, g := range gs {
		row, err := s.UpsertGame(ctx, g)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *MemoryStore) Games(_ context.Context, skip, limit int) ([]Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]Game, 0, len(s.games))
	for _, g := range s.games {
		all = append(all, g)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].GameID < all[j].GameID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	if skip >= len(all) {
		return []Game{}, nil
	}
	all = all[skip:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) UpsertPlayer(_ context.Context, p Player) (Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertPlayerLocked(p), nil
}

func (s *MemoryStore) upsertPlayerLocked(p Player) Player {
	if existing, ok := s.players[p.PlayerID]; ok {
		// Never regress the crawl cursor on re-ingestion.
		p.LastFetchedAt = existing.LastFetchedAt
	}
	s.players[p.PlayerID] = p
	return p
}

func (s *MemoryStore) UpsertPlayers(_ context.Context, ps []Player) ([]Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Player, 0, len(ps))
	for _, p := range ps {
		out = append(out, s.upsertPlayerLocked(p))
	}
	return out, nil
}

func (s *MemoryStore) Player(_ context.Context, playerID string) (Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[playerID]
	if !ok {
		return Player{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) MarkPlayerFetched(_ context.Context, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[playerID]
	if !ok {
		return ErrNotFound
	}
	now := s.now().UTC()
	p.LastFetchedAt = &now
	s.players[playerID] = p
	return nil
}

func (s *MemoryStore) ClaimNextPlayer(_ context.Context) (*ClaimedPlayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	cutoff := now.Add(-fetchInterval)

	var best *Player
	for id := range s.players {
		p := s.players[id]
		if p.Depth > maxClaimDepth {
			continue
		}
		if p.LastFetchedAt != nil && !p.LastFetchedAt.Before(cutoff) {
			continue
		}
		if best == nil || staleBefore(p, *best) {
			candidate := p
			best = &candidate
		}
	}
	if best == nil {
		return nil, nil
	}

	claimed := &ClaimedPlayer{PlayerID: best.PlayerID, Depth: best.Depth}
	if best.LastFetchedAt != nil {
		claimed.LastMoveTime = best.LastFetchedAt.UnixMilli()
	}

	best.LastFetchedAt = &now
	s.players[best.PlayerID] = *best
	return claimed, nil
}

// staleBefore orders claim candidates: never-fetched first, then oldest
// fetch time, with the player id as a deterministic tie-break.
func staleBefore(a, b Player) bool {
	switch {
	case a.LastFetchedAt == nil && b.LastFetchedAt == nil:
		return a.PlayerID < b.PlayerID
	case a.LastFetchedAt == nil:
		return true
	case b.LastFetchedAt == nil:
		return false
	case !a.LastFetchedAt.Equal(*b.LastFetchedAt):
		return a.LastFetchedAt.Before(*b.LastFetchedAt)
	default:
		return a.PlayerID < b.PlayerID
	}
}

func (s *MemoryStore) LinkPlayer(_ context.Context, gp GamePlayer) (GamePlayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linkPlayerLocked(gp)
}

func (s *MemoryStore) linkPlayerLocked(gp GamePlayer) (GamePlayer, error) {
	if _, ok := s.games[gp.GameID]; !ok {
		return GamePlayer{}, ErrNotFound
	}
	if _, ok := s.players[gp.PlayerID]; !ok {
		return GamePlayer{}, ErrNotFound
	}
	byPlayer, ok := s.links[gp.GameID]
	if !ok {
		byPlayer = make(map[string]GamePlayer)
		s.links[gp.GameID] = byPlayer
	}
	if existing, ok := byPlayer[gp.PlayerID]; ok {
		return existing, nil // conflict does nothing
	}
	byPlayer[gp.PlayerID] = gp
	return gp, nil
}

func (s *MemoryStore) LinkPlayers(_ context.Context, gps []GamePlayer) ([]GamePlayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]GamePlayer, 0, len(gps))
	for _, gp := range gps {
		row, err := s.linkPlayerLocked(gp)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *MemoryStore) GamePlayers(_ context.Context, gameID string) ([]GamePlayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byPlayer := s.links[gameID]
	out := make([]GamePlayer, 0, len(byPlayer))
	for _, gp := range byPlayer {
		out = append(out, gp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Color < out[j].Color })
	return out, nil
}

func (s *MemoryStore) InsertMoves(_ context.Context, gameID string, moves []GameMove) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[gameID]; !ok {
		return ErrNotFound
	}
	rows := make([]GameMove, len(moves))
	copy(rows, moves)
	s.moves[gameID] = rows
	return nil
}

// Moves returns a game's move rows in order. Test helper; the HTTP surface
// does not expose it.
func (s *MemoryStore) Moves(gameID string) []GameMove {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]GameMove, len(s.moves[gameID]))
	copy(out, s.moves[gameID])
	return out
}

func (s *MemoryStore) LastMoveTime(_ context.Context, playerID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	for id, g := range s.games {
		if playerID != "" {
			if _, ok := s.links[id][playerID]; !ok {
				continue
			}
		}
		if g.LastMoveAt.After(latest) {
			latest = g.LastMoveAt
		}
	}
	if latest.IsZero() {
		return 0, nil
	}
	return latest.UnixMilli(), nil
}

func (s *MemoryStore) PGN(_ context.Context, gameID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[gameID]
	if !ok {
		return "", ErrNotFound
	}
	return g.PGN, nil
}

func (s *MemoryStore) GamesNeedingAnalysis(_ context.Context, plugins []string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.games))
	for id := range s.games {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []string
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		m := s.metrics[id]
		if missingAny(m, plugins) {
			out = append(out, id)
		}
	}
	return out, nil
}

func missingAny(m Metrics, plugins []string) bool {
	for _, name := range plugins {
		if _, ok := m[name]; !ok {
			return true
		}
	}
	return false
}

func (s *MemoryStore) MergeMetrics(_ context.Context, gameID string, m Metrics) (GameMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[gameID]; !ok {
		return GameMetrics{}, ErrNotFound
	}
	existing, ok := s.metrics[gameID]
	if !ok {
		existing = make(Metrics)
		s.metrics[gameID] = existing
	}
	for k, v := range m {
		existing[k] = v
	}
	return GameMetrics{GameID: gameID, Metrics: cloneMetrics(existing)}, nil
}

func (s *MemoryStore) GameMetrics(_ context.Context, gameID string) (GameMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[gameID]
	if !ok {
		return GameMetrics{}, ErrNotFound
	}
	return GameMetrics{GameID: gameID, Metrics: cloneMetrics(m)}, nil
}

func cloneMetrics(m Metrics) Metrics {
	out := make(Metrics, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *MemoryStore) Close() {}

// Verify MemoryStore implements the store contract.
var _ Store = (*MemoryStore)(nil)
