package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if err := validateBaseURL("upstream.base_url", cfg.Upstream.BaseURL); err != nil {
		return err
	}
	if cfg.Upstream.SeedUser == "" {
		return fmt.Errorf("upstream.seed_user (UPSTREAM_USERNAME) is required")
	}
	if cfg.Upstream.BatchMax < 1 || cfg.Upstream.BatchMax > 1000 {
		return fmt.Errorf("upstream.batch_max must be 1-1000, got %d", cfg.Upstream.BatchMax)
	}
	if cfg.Upstream.RequestTimeout <= 0 {
		return fmt.Errorf("upstream.request_timeout must be > 0")
	}
	if cfg.Upstream.LockWait <= 0 {
		return fmt.Errorf("upstream.lock_wait must be > 0")
	}
	if cfg.Upstream.LockTTL <= cfg.Upstream.LockWait {
		return fmt.Errorf("upstream.lock_ttl must be > upstream.lock_wait")
	}
	if cfg.Upstream.MaxRetries < 0 {
		return fmt.Errorf("upstream.max_retries must be >= 0, got %d", cfg.Upstream.MaxRetries)
	}

	if cfg.Store.Driver != "postgres" && cfg.Store.Driver != "memory" {
		return fmt.Errorf("store.driver must be 'postgres' or 'memory', got %q", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.DatabaseURL == "" {
		return fmt.Errorf("store.database_url is required for the postgres driver")
	}
	if err := validateBaseURL("store.base_url", cfg.Store.BaseURL); err != nil {
		return err
	}

	if cfg.Coordination.URL == "" {
		return fmt.Errorf("coordination.url (COORDINATION_URL) is required")
	}

	if cfg.Orchestrator.Period <= 0 {
		return fmt.Errorf("orchestrator.period must be > 0")
	}
	if cfg.Analysis.Period <= 0 {
		return fmt.Errorf("analysis.period must be > 0")
	}
	if cfg.Analysis.CandidateLimit < 1 {
		return fmt.Errorf("analysis.candidate_limit must be >= 1, got %d", cfg.Analysis.CandidateLimit)
	}
	if cfg.Analysis.EnqueueTarget < 1 {
		return fmt.Errorf("analysis.enqueue_target must be >= 1, got %d", cfg.Analysis.EnqueueTarget)
	}
	if cfg.Analysis.DedupTTL <= 0 {
		return fmt.Errorf("analysis.dedup_ttl must be > 0")
	}

	if cfg.Worker.IngestConcurrency < 1 {
		return fmt.Errorf("worker.ingest_concurrency must be >= 1, got %d", cfg.Worker.IngestConcurrency)
	}
	if cfg.Worker.AnalyzeConcurrency < 1 {
		return fmt.Errorf("worker.analyze_concurrency must be >= 1, got %d", cfg.Worker.AnalyzeConcurrency)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

func validateBaseURL(key, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got %q", key, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must have a host", key)
	}
	return nil
}
