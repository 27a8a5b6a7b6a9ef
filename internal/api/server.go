// Package api exposes the store over HTTP. Every pipeline component talks to
// persistence through this surface, so all writes here are idempotent.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/castlegraph/castlegraph/internal/chessmoves"
	"github.com/castlegraph/castlegraph/internal/store"
)

// Server is the store API HTTP server.
type Server struct {
	mux    *http.ServeMux
	addr   string
	logger *slog.Logger
	store  store.Store

	httpServer *http.Server
}

// NewServer creates the server and registers all routes.
func NewServer(addr string, st store.Store, logger *slog.Logger) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		addr:   addr,
		logger: logger.With("component", "store_api"),
		store:  st,
	}

	s.registerRoutes()
	return s
}

// Handler returns the route multiplexer, used directly by handler tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("store API starting", "addr", s.addr)
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.mux}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	// Health
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Games
	s.mux.HandleFunc("POST /games/{$}", s.handleUpsertGame)
	s.mux.HandleFunc("POST /games/batch", s.handleUpsertGames)
	s.mux.HandleFunc("GET /games/{$}", s.handleListGames)
	s.mux.HandleFunc("GET /games/get_last_move_played_time", s.handleLastMoveTime)
	// The per-player cursor path shares its shape with the per-game reads,
	// which ServeMux rejects as ambiguous, so all two-segment GETs under
	// /games/ dispatch through one handler.
	s.mux.HandleFunc("GET /games/{id}/{action}", s.handleGameSubresource)

	// Associations and moves
	s.mux.HandleFunc("POST /games/{id}/players/{$}", s.handleLinkPlayer)
	s.mux.HandleFunc("POST /games/players/batch", s.handleLinkPlayers)
	s.mux.HandleFunc("POST /games/{id}/moves/{$}", s.handleInsertMoves)

	// Analysis metrics
	s.mux.HandleFunc("POST /games/{id}/metrics", s.handleMergeMetrics)
	s.mux.HandleFunc("POST /games/analysis/queue", s.handleAnalysisQueue)

	// Players
	s.mux.HandleFunc("POST /players/{$}", s.handleUpsertPlayer)
	s.mux.HandleFunc("POST /players/batch", s.handleUpsertPlayers)
	s.mux.HandleFunc("GET /players/process/next", s.handleClaimNext)
	s.mux.HandleFunc("PUT /players/{id}/fetched", s.handleMarkFetched)
	s.mux.HandleFunc("GET /players/{id}", s.handleGetPlayer)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Games ---

func (s *Server) handleUpsertGame(w http.ResponseWriter, r *http.Request) {
	var g store.Game
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	stored, err := s.store.UpsertGame(r.Context(), g)
	if err != nil {
		s.storeError(w, "upsert game", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stored)
}

func (s *Server) handleUpsertGames(w http.ResponseWriter, r *http.Request) {
	var gs []store.Game
	if err := json.NewDecoder(r.Body).Decode(&gs); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	stored, err := s.store.UpsertGames(r.Context(), gs)
	if err != nil {
		s.storeError(w, "upsert games", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stored)
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", 100)
	games, err := s.store.Games(r.Context(), skip, limit)
	if err != nil {
		s.storeError(w, "list games", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, games)
}

func (s *Server) handleGameSubresource(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("id") == "get_last_move_played_time" {
		s.handlePlayerLastMoveTime(w, r)
		return
	}
	switch r.PathValue("action") {
	case "pgn":
		s.handlePGN(w, r)
	case "players":
		s.handleGamePlayers(w, r)
	case "metrics":
		s.handleGameMetrics(w, r)
	default:
		s.jsonError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleLastMoveTime(w http.ResponseWriter, r *http.Request) {
	s.writeLastMoveTime(w, r, "")
}

func (s *Server) handlePlayerLastMoveTime(w http.ResponseWriter, r *http.Request) {
	s.writeLastMoveTime(w, r, r.PathValue("action"))
}

func (s *Server) writeLastMoveTime(w http.ResponseWriter, r *http.Request, playerID string) {
	ms, err := s.store.LastMoveTime(r.Context(), playerID)
	if err != nil {
		s.storeError(w, "last move time", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]int64{"last_move_time": ms})
}

func (s *Server) handlePGN(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("id")
	pgn, err := s.store.PGN(r.Context(), gameID)
	if err != nil {
		s.storeError(w, "read pgn", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"game_id": gameID, "pgn": pgn})
}

// --- Associations and Moves ---

func (s *Server) handleLinkPlayer(w http.ResponseWriter, r *http.Request) {
	var gp store.GamePlayer
	if err := json.NewDecoder(r.Body).Decode(&gp); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	gp.GameID = r.PathValue("id")
	stored, err := s.store.LinkPlayer(r.Context(), gp)
	if err != nil {
		s.storeError(w, "link player", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stored)
}

func (s *Server) handleLinkPlayers(w http.ResponseWriter, r *http.Request) {
	var gps []store.GamePlayer
	if err := json.NewDecoder(r.Body).Decode(&gps); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	stored, err := s.store.LinkPlayers(r.Context(), gps)
	if err != nil {
		s.storeError(w, "link players", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stored)
}

func (s *Server) handleGamePlayers(w http.ResponseWriter, r *http.Request) {
	links, err := s.store.GamePlayers(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, "list game players", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, links)
}

// MovesRequest carries the raw upstream move string plus the context needed
// to replay non-standard starting positions.
type MovesRequest struct {
	Moves      string `json:"moves"`
	Variant    string `json:"variant,omitempty"`
	InitialFEN string `json:"initial_fen,omitempty"`
}

func (s *Server) handleInsertMoves(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("id")
	var req MovesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	sans, err := chessmoves.Enumerate(req.Moves, req.InitialFEN)
	if err != nil {
		// The game row stays; a bad move list just yields zero move rows.
		s.logger.Warn("unparseable move sequence",
			"game_id", gameID, "variant", req.Variant, "error", err)
		s.jsonResponse(w, http.StatusOK, map[string]int{"inserted": 0})
		return
	}

	moves := make([]store.GameMove, len(sans))
	for i, san := range sans {
		moves[i] = store.GameMove{GameID: gameID, MoveNumber: i + 1, SAN: san}
	}
	if err := s.store.InsertMoves(r.Context(), gameID, moves); err != nil {
		s.storeError(w, "insert moves", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]int{"inserted": len(moves)})
}

// --- Metrics ---

func (s *Server) handleMergeMetrics(w http.ResponseWriter, r *http.Request) {
	var m store.Metrics
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	merged, err := s.store.MergeMetrics(r.Context(), r.PathValue("id"), m)
	if err != nil {
		s.storeError(w, "merge metrics", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, merged)
}

func (s *Server) handleGameMetrics(w http.ResponseWriter, r *http.Request) {
	gm, err := s.store.GameMetrics(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		// Absent metrics read as null, not as an error.
		s.jsonResponse(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		s.storeError(w, "read metrics", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, gm)
}

func (s *Server) handleAnalysisQueue(w http.ResponseWriter, r *http.Request) {
	var plugins []string
	if err := json.NewDecoder(r.Body).Decode(&plugins); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	limit := queryInt(r, "limit", 100)
	ids, err := s.store.GamesNeedingAnalysis(r.Context(), plugins, limit)
	if err != nil {
		s.storeError(w, "games needing analysis", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, ids)
}

// --- Players ---

func (s *Server) handleUpsertPlayer(w http.ResponseWriter, r *http.Request) {
	var p store.Player
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	stored, err := s.store.UpsertPlayer(r.Context(), p)
	if err != nil {
		s.storeError(w, "upsert player", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stored)
}

func (s *Server) handleUpsertPlayers(w http.ResponseWriter, r *http.Request) {
	var ps []store.Player
	if err := json.NewDecoder(r.Body).Decode(&ps); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	stored, err := s.store.UpsertPlayers(r.Context(), ps)
	if err != nil {
		s.storeError(w, "upsert players", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stored)
}

func (s *Server) handleClaimNext(w http.ResponseWriter, r *http.Request) {
	claimed, err := s.store.ClaimNextPlayer(r.Context())
	if err != nil {
		s.storeError(w, "claim next player", err)
		return
	}
	if claimed == nil {
		s.jsonError(w, http.StatusNotFound, "no eligible player")
		return
	}
	s.jsonResponse(w, http.StatusOK, claimed)
}

func (s *Server) handleMarkFetched(w http.ResponseWriter, r *http.Request) {
	playerID := r.PathValue("id")
	if err := s.store.MarkPlayerFetched(r.Context(), playerID); err != nil {
		s.storeError(w, "mark player fetched", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok", "player_id": playerID})
}

func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.Player(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, "read player", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, p)
}

// --- Helpers ---

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.jsonError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Error(op+" failed", "error", err)
	s.jsonError(w, http.StatusInternalServerError, "store error")
}

func (s *Server) jsonError(w http.ResponseWriter, status int, msg string) {
	s.jsonResponse(w, status, map[string]string{"error": msg})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
