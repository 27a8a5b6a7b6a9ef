package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Metrics tracks operational counters for the pipeline.
type Metrics struct {
	// Fetch metrics
	FetchesTotal      atomic.Int64
	FetchesRetried    atomic.Int64
	FetchesRateLimit  atomic.Int64
	GamesStreamed     atomic.Int64
	LockContentions   atomic.Int64

	// Ingest metrics
	GamesIngested   atomic.Int64
	PlayersUpserted atomic.Int64
	MovesInserted   atomic.Int64
	IngestFailures  atomic.Int64

	// Analysis metrics
	AnalysesDispatched atomic.Int64
	AnalysesCompleted  atomic.Int64
	PluginFailures     atomic.Int64
	EngineLaunches     atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	metrics := []struct {
		name  string
		help  string
		value int64
	}{
		{"castlegraph_fetches_total", "Total fetch tasks handled", m.FetchesTotal.Load()},
		{"castlegraph_fetches_retried_total", "Total fetch tasks requeued", m.FetchesRetried.Load()},
		{"castlegraph_fetches_rate_limited_total", "Total upstream 429 responses", m.FetchesRateLimit.Load()},
		{"castlegraph_games_streamed_total", "Total games streamed from upstream", m.GamesStreamed.Load()},
		{"castlegraph_lock_contentions_total", "Total upstream lease contentions", m.LockContentions.Load()},
		{"castlegraph_games_ingested_total", "Total games ingested", m.GamesIngested.Load()},
		{"castlegraph_players_upserted_total", "Total player upserts", m.PlayersUpserted.Load()},
		{"castlegraph_moves_inserted_total", "Total move rows inserted", m.MovesInserted.Load()},
		{"castlegraph_ingest_failures_total", "Total ingest store failures", m.IngestFailures.Load()},
		{"castlegraph_analyses_dispatched_total", "Total analyzer tasks dispatched", m.AnalysesDispatched.Load()},
		{"castlegraph_analyses_completed_total", "Total analyzer tasks completed", m.AnalysesCompleted.Load()},
		{"castlegraph_plugin_failures_total", "Total plugin failures", m.PluginFailures.Load()},
		{"castlegraph_engine_launches_total", "Total engine launches", m.EngineLaunches.Load()},
	}

	for _, metric := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", metric.name)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// StartServer starts the metrics HTTP server.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Snapshot returns all counters as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"fetches_total":       m.FetchesTotal.Load(),
		"fetches_retried":     m.FetchesRetried.Load(),
		"fetches_rate_limit":  m.FetchesRateLimit.Load(),
		"games_streamed":      m.GamesStreamed.Load(),
		"lock_contentions":    m.LockContentions.Load(),
		"games_ingested":      m.GamesIngested.Load(),
		"players_upserted":    m.PlayersUpserted.Load(),
		"moves_inserted":      m.MovesInserted.Load(),
		"ingest_failures":     m.IngestFailures.Load(),
		"analyses_dispatched": m.AnalysesDispatched.Load(),
		"analyses_completed":  m.AnalysesCompleted.Load(),
		"plugin_failures":     m.PluginFailures.Load(),
		"engine_launches":     m.EngineLaunches.Load(),
	}
}
