// Package coord implements the coordination service primitives shared by all
// pipeline processes: a named lock lease with bounded blocking acquisition,
// set-if-absent deduplication keys with TTL, and the Redis-list work queues
// that connect the orchestrator, fetcher, ingestor, and analyzer.
package coord

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewClient creates a Redis client from a connection URL.
// Format: redis://[:password@]host:port[/db]
func NewClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("coordination: invalid URL: %w", err)
	}
	return redis.NewClient(opts), nil
}
