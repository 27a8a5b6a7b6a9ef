package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for castlegraph.
type Config struct {
	Upstream     UpstreamConfig     `mapstructure:"upstream"     yaml:"upstream"`
	Store        StoreConfig        `mapstructure:"store"        yaml:"store"`
	Coordination CoordinationConfig `mapstructure:"coordination" yaml:"coordination"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Analysis     AnalysisConfig     `mapstructure:"analysis"     yaml:"analysis"`
	Worker       WorkerConfig       `mapstructure:"worker"       yaml:"worker"`
	Logging      LoggingConfig      `mapstructure:"logging"      yaml:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"      yaml:"metrics"`
}

// UpstreamConfig controls access to the game provider API.
type UpstreamConfig struct {
	BaseURL        string        `mapstructure:"base_url"        yaml:"base_url"`
	Token          string        `mapstructure:"token"           yaml:"token"`
	SeedUser       string        `mapstructure:"seed_user"       yaml:"seed_user"`
	BatchMax       int           `mapstructure:"batch_max"       yaml:"batch_max"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	LockWait       time.Duration `mapstructure:"lock_wait"       yaml:"lock_wait"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"        yaml:"lock_ttl"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"     yaml:"retry_delay"`
	MaxRetries     int           `mapstructure:"max_retries"     yaml:"max_retries"`
}

// StoreConfig controls the store service and its clients.
type StoreConfig struct {
	// Driver selects the persistence backend of the store service:
	// "postgres" or "memory".
	Driver      string `mapstructure:"driver"       yaml:"driver"`
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	// BaseURL is where workers reach the store service.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// ListenAddr is where the store service binds.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// CoordinationConfig controls the Redis-backed coordination service.
type CoordinationConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// OrchestratorConfig controls the ingestion orchestrator.
type OrchestratorConfig struct {
	Period time.Duration `mapstructure:"period" yaml:"period"`
}

// AnalysisConfig controls the analysis scheduler and analyzer.
type AnalysisConfig struct {
	Period         time.Duration `mapstructure:"period"          yaml:"period"`
	CandidateLimit int           `mapstructure:"candidate_limit" yaml:"candidate_limit"`
	EnqueueTarget  int           `mapstructure:"enqueue_target"  yaml:"enqueue_target"`
	DedupTTL       time.Duration `mapstructure:"dedup_ttl"       yaml:"dedup_ttl"`
	EnginePath     string        `mapstructure:"engine_path"     yaml:"engine_path"`
	EngineMoveTime time.Duration `mapstructure:"engine_move_time" yaml:"engine_move_time"`
}

// WorkerConfig controls the queue consumers.
type WorkerConfig struct {
	IngestConcurrency  int `mapstructure:"ingest_concurrency"  yaml:"ingest_concurrency"`
	AnalyzeConcurrency int `mapstructure:"analyze_concurrency" yaml:"analyze_concurrency"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the operational metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			BaseURL:        "https://lichess.org",
			BatchMax:       1000,
			RequestTimeout: 120 * time.Second,
			LockWait:       10 * time.Second,
			LockTTL:        300 * time.Second,
			RetryDelay:     10 * time.Second,
			MaxRetries:     5,
		},
		Store: StoreConfig{
			Driver:     "postgres",
			BaseURL:    "http://localhost:8000",
			ListenAddr: ":8000",
		},
		Coordination: CoordinationConfig{
			URL: "redis://localhost:6379/0",
		},
		Orchestrator: OrchestratorConfig{
			Period: 60 * time.Second,
		},
		Analysis: AnalysisConfig{
			Period:         60 * time.Second,
			CandidateLimit: 1000,
			EnqueueTarget:  100,
			DedupTTL:       time.Hour,
			EnginePath:     "stockfish",
			EngineMoveTime: 100 * time.Millisecond,
		},
		Worker: WorkerConfig{
			IngestConcurrency:  8,
			AnalyzeConcurrency: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
