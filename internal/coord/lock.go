package coord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// UpstreamAPILock serializes all requests against the upstream provider
// across every worker process in the fleet.
const UpstreamAPILock = "upstream_api_lock"

// ErrNotAcquired is returned when a lock could not be acquired within the
// caller's wait window.
var ErrNotAcquired = errors.New("lock not acquired within wait window")

// acquirePollInterval is how often a blocked acquirer re-attempts SET NX.
const acquirePollInterval = 100 * time.Millisecond

// releaseScript deletes the lock only if the caller still holds it. A lease
// that expired and was re-acquired by another holder is left untouched.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker hands out named lock leases backed by Redis SET NX PX.
type Locker struct {
	rdb *redis.Client
}

// NewLocker creates a Locker on the given Redis client.
func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// Acquire blocks up to wait for the named lock, polling SET NX. The lease
// expires after ttl as a safety net in case the holder crashes. Returns
// ErrNotAcquired when the wait window elapses.
func (l *Locker) Acquire(ctx context.Context, name string, ttl, wait time.Duration) (*Lease, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.rdb.SetNX(ctx, name, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %q: %w", name, err)
		}
		if ok {
			return &Lease{rdb: l.rdb, name: name, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}
}

// Lease is a held lock. Release it on every exit path; a release that races
// against TTL expiry is harmless.
type Lease struct {
	rdb   *redis.Client
	name  string
	token string
}

// Release drops the lease if it is still held by this owner.
func (le *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, le.rdb, []string{le.name}, le.token).Err(); err != nil {
		return fmt.Errorf("release lock %q: %w", le.name, err)
	}
	return nil
}
