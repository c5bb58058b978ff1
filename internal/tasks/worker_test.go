package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recorder collects task executions across goroutines.
type recorder struct {
	mu   sync.Mutex
	runs []string
}

func (r *recorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, name)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	w := NewWorker(newTestQueue(t), zap.NewNop())
	noop := func(context.Context, json.RawMessage) error { return nil }

	w.Register("x", noop)
	assert.Panics(t, func() { w.Register("x", noop) })
}

func TestChainStopsAtFirstFailure(t *testing.T) {
	q := newTestQueue(t)
	w := NewWorker(q, zap.NewNop())
	w.PollTimeout = 50 * time.Millisecond

	rec := &recorder{}
	w.Register("ok", func(context.Context, json.RawMessage) error {
		rec.record("ok")
		return nil
	})
	w.Register("boom", func(context.Context, json.RawMessage) error {
		rec.record("boom")
		return errors.New("boom")
	})
	w.Register("after", func(context.Context, json.RawMessage) error {
		rec.record("after")
		return nil
	})

	mk := func(typ string) Task {
		task, err := NewTask(typ, struct{}{})
		require.NoError(t, err)
		return task
	}
	ctx := context.Background()
	require.NoError(t, q.EnqueueChain(ctx, mk("ok"), mk("boom"), mk("after")))

	runCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	_ = w.Run(runCtx)

	assert.Equal(t, []string{"ok", "boom"}, rec.snapshot())
}

func TestChainsExecuteSequentially(t *testing.T) {
	q := newTestQueue(t)
	w := NewWorker(q, zap.NewNop())
	w.PollTimeout = 50 * time.Millisecond

	rec := &recorder{}
	w.Register("step", func(_ context.Context, payload json.RawMessage) error {
		var p struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.Unmarshal(payload, &p))
		rec.record(p.Name)
		return nil
	})

	mk := func(name string) Task {
		task, err := NewTask("step", map[string]string{"name": name})
		require.NoError(t, err)
		return task
	}
	ctx := context.Background()
	require.NoError(t, q.EnqueueChain(ctx, mk("a"), mk("b"), mk("c")))

	runCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	_ = w.Run(runCtx)

	assert.Equal(t, []string{"a", "b", "c"}, rec.snapshot())
}

func TestUnknownTaskTypeDoesNotStopWorker(t *testing.T) {
	q := newTestQueue(t)
	w := NewWorker(q, zap.NewNop())
	w.PollTimeout = 50 * time.Millisecond

	rec := &recorder{}
	w.Register("known", func(context.Context, json.RawMessage) error {
		rec.record("known")
		return nil
	})

	ctx := context.Background()
	unknown, err := NewTask("mystery", struct{}{})
	require.NoError(t, err)
	known, err := NewTask("known", struct{}{})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, unknown))
	require.NoError(t, q.Enqueue(ctx, known))

	runCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	_ = w.Run(runCtx)

	assert.Equal(t, []string{"known"}, rec.snapshot())
}
