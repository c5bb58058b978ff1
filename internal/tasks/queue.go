package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Task type identifiers handled by the worker.
const (
	TypeCreateServiceRequest = "service_request.create"
	TypeCreateAttachment     = "attachment.create"
	TypeSetStatus            = "service_request.set_status"
	TypeSendWebPush          = "webpush.send"
)

// Task is one unit of background work.
type Task struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewTask builds a task with a fresh ID and a JSON-encoded payload.
func NewTask(taskType string, payload any) (Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("marshal task payload: %w", err)
	}
	return Task{
		ID:      uuid.New().String(),
		Type:    taskType,
		Payload: data,
	}, nil
}

// envelope is the queue wire unit. A single task travels as a one-element
// chain. Tasks within an envelope run sequentially on one worker; ordering
// across envelopes is not guaranteed.
type envelope struct {
	ID    string `json:"id"`
	Tasks []Task `json:"tasks"`
}

// Enqueuer is the producer side of the queue, implemented by Queue and by
// test fakes.
type Enqueuer interface {
	Enqueue(ctx context.Context, task Task) error
	EnqueueChain(ctx context.Context, chain ...Task) error
}

// Queue is a Redis-list-backed task queue.
type Queue struct {
	rdb *redis.Client
	key string
}

func NewQueue(rdb *redis.Client, key string) *Queue {
	return &Queue{rdb: rdb, key: key}
}

// Enqueue schedules a single task.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	return q.push(ctx, envelope{ID: uuid.New().String(), Tasks: []Task{task}})
}

// EnqueueChain schedules an ordered chain of tasks. The chain executes
// sequentially; a failing step abandons the rest.
func (q *Queue) EnqueueChain(ctx context.Context, chain ...Task) error {
	if len(chain) == 0 {
		return errors.New("empty task chain")
	}
	return q.push(ctx, envelope{ID: uuid.New().String(), Tasks: chain})
}

func (q *Queue) push(ctx context.Context, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal task envelope: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("enqueue tasks: %w", err)
	}
	return nil
}

// pop blocks up to timeout for the next envelope. Returns nil when the
// timeout elapses with an empty queue.
func (q *Queue) pop(ctx context.Context, timeout time.Duration) (*envelope, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue tasks: %w", err)
	}
	// BLPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply of length %d", len(res))
	}

	var env envelope
	if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
		return nil, fmt.Errorf("unmarshal task envelope: %w", err)
	}
	return &env, nil
}

// Len returns the number of queued envelopes.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
