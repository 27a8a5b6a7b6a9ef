package coord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Task is one unit of work on a queue. Payload is an opaque JSON document
// decoded by the registered handler.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewTask builds a Task with a fresh ID and the payload marshaled to JSON.
func NewTask(name string, payload any) (*Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return &Task{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    body,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the task payload into v.
func (t *Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Name, err)
	}
	return nil
}

// Queue is a named FIFO work queue over a Redis list, with a companion
// sorted set holding tasks scheduled for later delivery (retry backoff).
type Queue struct {
	rdb  *redis.Client
	name string
}

// NewQueue creates a queue handle. Queues are shared by name across
// processes; creating a handle performs no I/O.
func NewQueue(rdb *redis.Client, name string) *Queue {
	return &Queue{rdb: rdb, name: name}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) listKey() string    { return "castlegraph:queue:" + q.name }
func (q *Queue) delayedKey() string { return "castlegraph:delayed:" + q.name }

// Enqueue pushes a new task with the given name and payload.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any) error {
	t, err := NewTask(name, payload)
	if err != nil {
		return err
	}
	return q.EnqueueTask(ctx, t)
}

// EnqueueTask pushes an existing task for immediate delivery.
func (q *Queue) EnqueueTask(ctx context.Context, t *Task) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	if err := q.rdb.LPush(ctx, q.listKey(), body).Err(); err != nil {
		return fmt.Errorf("enqueue %s on %s: %w", t.Name, q.name, err)
	}
	return nil
}

// EnqueueTaskIn schedules a task for delivery after the given delay.
func (q *Queue) EnqueueTaskIn(ctx context.Context, t *Task, delay time.Duration) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	if err := q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: due, Member: body}).Err(); err != nil {
		return fmt.Errorf("enqueue delayed %s on %s: %w", t.Name, q.name, err)
	}
	return nil
}

// Dequeue promotes any due delayed tasks, then blocks up to timeout for the
// next task. Returns (nil, nil) when the wait times out.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}

	vals, err := q.rdb.BRPop(ctx, timeout, q.listKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue from %s: %w", q.name, err)
	}

	var t Task
	if err := json.Unmarshal([]byte(vals[1]), &t); err != nil {
		return nil, fmt.Errorf("malformed task on %s: %w", q.name, err)
	}
	return &t, nil
}

// promoteDue moves delayed tasks whose due time has passed onto the list.
// ZRem guards against two consumers promoting the same member.
func (q *Queue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return fmt.Errorf("scan delayed %s: %w", q.name, err)
	}

	for _, m := range members {
		removed, err := q.rdb.ZRem(ctx, q.delayedKey(), m).Result()
		if err != nil {
			return fmt.Errorf("promote delayed %s: %w", q.name, err)
		}
		if removed == 0 {
			continue // another consumer won the race
		}
		if err := q.rdb.LPush(ctx, q.listKey(), m).Err(); err != nil {
			return fmt.Errorf("promote delayed %s: %w", q.name, err)
		}
	}
	return nil
}

// Len returns the number of immediately deliverable tasks.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.listKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("len of %s: %w", q.name, err)
	}
	return n, nil
}
