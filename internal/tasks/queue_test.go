package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewQueue(rdb, "test:tasks")
}

func TestNewTaskEncodesPayload(t *testing.T) {
	task, err := NewTask(TypeSetStatus, SetStatusPayload{ServiceRequestID: 7, Status: "Initial"})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, TypeSetStatus, task.Type)
	assert.JSONEq(t, `{"service_request_id":7,"status":"Initial"}`, string(task.Payload))
}

func TestEnqueueAndPop(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	task, err := NewTask(TypeSendWebPush, SendWebPushPayload{NotificationID: 42})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, task))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	env, err := q.pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, env)
	require.Len(t, env.Tasks, 1)
	assert.Equal(t, task.ID, env.Tasks[0].ID)
	assert.Equal(t, TypeSendWebPush, env.Tasks[0].Type)
}

func TestEnqueueChainKeepsOrder(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	var chain []Task
	for _, id := range []int64{1, 2, 3} {
		task, err := NewTask(TypeCreateAttachment, CreateAttachmentPayload{AttachmentID: id})
		require.NoError(t, err)
		chain = append(chain, task)
	}
	require.NoError(t, q.EnqueueChain(ctx, chain...))

	// A chain travels as a single envelope.
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	env, err := q.pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, env)
	require.Len(t, env.Tasks, 3)
	for i, task := range env.Tasks {
		assert.Equal(t, chain[i].ID, task.ID)
	}
}

func TestEnqueueChainRejectsEmpty(t *testing.T) {
	q := newTestQueue(t)
	assert.Error(t, q.EnqueueChain(context.Background()))
}

func TestPopEmptyReturnsNil(t *testing.T) {
	q := newTestQueue(t)

	env, err := q.pop(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestEnvelopeOrderAcrossEnqueues(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first, err := NewTask(TypeCreateServiceRequest, CreateServiceRequestPayload{ServiceRequestID: 1})
	require.NoError(t, err)
	second, err := NewTask(TypeCreateServiceRequest, CreateServiceRequestPayload{ServiceRequestID: 2})
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	env1, err := q.pop(ctx, time.Second)
	require.NoError(t, err)
	env2, err := q.pop(ctx, time.Second)
	require.NoError(t, err)

	assert.Equal(t, first.ID, env1.Tasks[0].ID)
	assert.Equal(t, second.ID, env2.Tasks[0].ID)
}
