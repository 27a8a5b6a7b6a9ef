package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment.
// Priority (highest to lowest): env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	// Environment variable support
	v.SetEnvPrefix("CASTLEGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The deployment contract recognizes these exact unprefixed names.
	bindLegacyEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("castlegraph")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".castlegraph"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// bindLegacyEnv maps the four canonical deployment variables onto their
// config keys. Unknown variables are ignored.
func bindLegacyEnv(v *viper.Viper) {
	v.BindEnv("upstream.token", "UPSTREAM_TOKEN")
	v.BindEnv("upstream.seed_user", "UPSTREAM_USERNAME")
	v.BindEnv("store.base_url", "STORE_BASE_URL")
	v.BindEnv("coordination.url", "COORDINATION_URL")
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("upstream.base_url", cfg.Upstream.BaseURL)
	v.SetDefault("upstream.batch_max", cfg.Upstream.BatchMax)
	v.SetDefault("upstream.request_timeout", cfg.Upstream.RequestTimeout)
	v.SetDefault("upstream.lock_wait", cfg.Upstream.LockWait)
	v.SetDefault("upstream.lock_ttl", cfg.Upstream.LockTTL)
	v.SetDefault("upstream.retry_delay", cfg.Upstream.RetryDelay)
	v.SetDefault("upstream.max_retries", cfg.Upstream.MaxRetries)

	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.base_url", cfg.Store.BaseURL)
	v.SetDefault("store.listen_addr", cfg.Store.ListenAddr)

	v.SetDefault("coordination.url", cfg.Coordination.URL)

	v.SetDefault("orchestrator.period", cfg.Orchestrator.Period)

	v.SetDefault("analysis.period", cfg.Analysis.Period)
	v.SetDefault("analysis.candidate_limit", cfg.Analysis.CandidateLimit)
	v.SetDefault("analysis.enqueue_target", cfg.Analysis.EnqueueTarget)
	v.SetDefault("analysis.dedup_ttl", cfg.Analysis.DedupTTL)
	v.SetDefault("analysis.engine_path", cfg.Analysis.EnginePath)
	v.SetDefault("analysis.engine_move_time", cfg.Analysis.EngineMoveTime)

	v.SetDefault("worker.ingest_concurrency", cfg.Worker.IngestConcurrency)
	v.SetDefault("worker.analyze_concurrency", cfg.Worker.AnalyzeConcurrency)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
