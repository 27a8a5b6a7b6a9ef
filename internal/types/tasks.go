package types

// Task names routed by the queue workers.
const (
	TaskFetchPlayerGames = "fetch_player_games"
	TaskProcessGame      = "process_game"
	TaskAnalyzeGame      = "analyze_game"
)

// Queue names. The fetch queue is additionally serialized by the global
// upstream lock, so its nominal concurrency does not matter for correctness.
const (
	QueueFetch   = "fetch"
	QueueIngest  = "ingest"
	QueueAnalyze = "analyze"
)

// FetchTask asks the fetcher to pull one batch of games for a player.
// Since is a cursor in milliseconds since epoch; 0 means "from the beginning"
// (the fetcher will still consult the store for a resume point).
type FetchTask struct {
	PlayerID string `json:"player_id"`
	Since    int64  `json:"since"`
	Depth    int    `json:"depth"`
}

// IngestTask carries one raw game to the ingestor. Depth is the depth of the
// player whose fetch produced the game; its opponents sit at Depth+1.
type IngestTask struct {
	Game  Game `json:"game"`
	Depth int  `json:"depth"`
}

// AnalyzeTask asks the analyzer to run missing plugins for one game.
type AnalyzeTask struct {
	GameID string `json:"game_id"`
}
