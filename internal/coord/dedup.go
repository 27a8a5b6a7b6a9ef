package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AnalysisPendingKey is the dedup key marking a game as queued for analysis.
func AnalysisPendingKey(gameID string) string {
	return "analysis_pending:" + gameID
}

// Dedup provides set-if-absent keys with TTL, used to suppress duplicate
// in-flight work across racing schedulers.
type Dedup struct {
	rdb *redis.Client
}

// NewDedup creates a Dedup on the given Redis client.
func NewDedup(rdb *redis.Client) *Dedup {
	return &Dedup{rdb: rdb}
}

// TrySet sets key to value with the given TTL if it does not exist yet.
// Returns false when the key was already present.
func (d *Dedup) TrySet(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup set %q: %w", key, err)
	}
	return ok, nil
}

// Clear removes a dedup key. Clearing an absent key is not an error.
func (d *Dedup) Clear(ctx context.Context, key string) error {
	if err := d.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("dedup clear %q: %w", key, err)
	}
	return nil
}
