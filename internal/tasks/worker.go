package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"muni-portal/internal/metrics"

	"go.uber.org/zap"
)

// HandlerFunc executes one task. Any returned error abandons the rest of the
// task's chain; there is no retry.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Worker consumes envelopes from the queue and dispatches tasks to registered
// handlers.
type Worker struct {
	queue    *Queue
	handlers map[string]HandlerFunc
	logr     *zap.Logger

	// PollTimeout bounds each blocking pop so shutdown is responsive.
	PollTimeout time.Duration
}

func NewWorker(queue *Queue, logr *zap.Logger) *Worker {
	return &Worker{
		queue:       queue,
		handlers:    make(map[string]HandlerFunc),
		logr:        logr,
		PollTimeout: 5 * time.Second,
	}
}

// Register binds a handler to a task type. Registering twice panics; that is
// a wiring bug.
func (w *Worker) Register(taskType string, h HandlerFunc) {
	if _, dup := w.handlers[taskType]; dup {
		panic(fmt.Sprintf("tasks: duplicate handler for %q", taskType))
	}
	w.handlers[taskType] = h
}

// Run processes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logr.Info("task worker started")
	for {
		select {
		case <-ctx.Done():
			w.logr.Info("task worker stopping")
			return ctx.Err()
		default:
		}

		env, err := w.queue.pop(ctx, w.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logr.Error("failed to dequeue tasks", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if env == nil {
			continue
		}

		w.runChain(ctx, env)
	}
}

// runChain executes the envelope's tasks in order, stopping at the first
// failure.
func (w *Worker) runChain(ctx context.Context, env *envelope) {
	for i, task := range env.Tasks {
		if err := w.runTask(ctx, task); err != nil {
			w.logr.Error("task failed, abandoning chain",
				zap.String("task_id", task.ID),
				zap.String("task_type", task.Type),
				zap.Int("step", i),
				zap.Int("remaining", len(env.Tasks)-i-1),
				zap.Error(err))
			return
		}
	}
}

func (w *Worker) runTask(ctx context.Context, task Task) error {
	handler, ok := w.handlers[task.Type]
	if !ok {
		metrics.TasksFailed.WithLabelValues(task.Type).Inc()
		return fmt.Errorf("no handler registered for task type %q", task.Type)
	}

	start := time.Now()
	err := handler(ctx, task.Payload)
	metrics.TaskDuration.WithLabelValues(task.Type).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TasksFailed.WithLabelValues(task.Type).Inc()
		return err
	}

	metrics.TasksCompleted.WithLabelValues(task.Type).Inc()
	w.logr.Info("task completed",
		zap.String("task_id", task.ID),
		zap.String("task_type", task.Type),
		zap.Duration("duration", time.Since(start)))
	return nil
}
