package coord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// HandlerFunc processes one dequeued task. Returning a *RetryError requeues
// the task after its delay; any other error is logged and the task dropped —
// idempotent writes plus the periodic timers provide recovery.
type HandlerFunc func(ctx context.Context, task *Task) error

// RetryError asks the worker to re-deliver the task after Delay.
type RetryError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry in %s: %v", e.Delay, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// Retry wraps err so the worker requeues the task after delay.
func Retry(err error, delay time.Duration) error {
	return &RetryError{Err: err, Delay: delay}
}

// dequeueWait bounds each blocking poll so workers notice context
// cancellation promptly.
const dequeueWait = time.Second

// Worker consumes one queue with a pool of goroutines, dispatching tasks to
// registered handlers by task name.
type Worker struct {
	queue       *Queue
	handlers    map[string]HandlerFunc
	concurrency int
	maxAttempts int
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewWorker creates a worker pool for the queue. maxAttempts caps retries
// per task (the initial delivery does not count as an attempt).
func NewWorker(q *Queue, concurrency, maxAttempts int, logger *slog.Logger) *Worker {
	return &Worker{
		queue:       q,
		handlers:    make(map[string]HandlerFunc),
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "worker", "queue", q.Name()),
	}
}

// Handle registers the handler for a task name.
func (w *Worker) Handle(name string, h HandlerFunc) {
	w.handlers[name] = h
}

// Run launches the consumer goroutines. It returns immediately; use Wait to
// block until the context is canceled and all workers have drained.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("starting consumers", "concurrency", w.concurrency)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.consume(ctx, i)
	}
}

// Wait blocks until all consumers have exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) consume(ctx context.Context, id int) {
	defer w.wg.Done()
	logger := w.logger.With("consumer_id", id)

	for {
		if ctx.Err() != nil {
			return
		}

		task, err := w.queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if task == nil {
			continue // poll timeout
		}

		w.dispatch(ctx, logger, task)
	}
}

func (w *Worker) dispatch(ctx context.Context, logger *slog.Logger, task *Task) {
	handler, ok := w.handlers[task.Name]
	if !ok {
		logger.Error("no handler for task", "task", task.Name, "task_id", task.ID)
		return
	}

	err := handler(ctx, task)
	if err == nil {
		return
	}

	var retry *RetryError
	if errors.As(err, &retry) {
		if task.Attempt >= w.maxAttempts {
			logger.Error("task exhausted retries",
				"task", task.Name, "task_id", task.ID,
				"attempts", task.Attempt, "error", retry.Err)
			return
		}
		task.Attempt++
		if qerr := w.queue.EnqueueTaskIn(ctx, task, retry.Delay); qerr != nil {
			logger.Error("requeue failed", "task", task.Name, "task_id", task.ID, "error", qerr)
			return
		}
		logger.Warn("task requeued",
			"task", task.Name, "task_id", task.ID,
			"attempt", task.Attempt, "delay", retry.Delay, "error", retry.Err)
		return
	}

	// Task-boundary policy: log and swallow. The next periodic tick
	// re-attempts anything durable that was missed.
	logger.Error("task failed", "task", task.Name, "task_id", task.ID, "error", err)
}
