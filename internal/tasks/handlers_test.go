package tasks

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"go.uber.org/zap"

	"muni-portal/internal/collaborator"
	"muni-portal/internal/storage"
)

type stubAPI struct {
	authErr      error
	taskID       int64
	taskFields   []collaborator.FormField
	attachments  []string
	attachedBody string
	statusCalls  []string
}

func (s *stubAPI) Authenticate(ctx context.Context) error { return s.authErr }

func (s *stubAPI) CreateTask(ctx context.Context, fields []collaborator.FormField) (int64, error) {
	s.taskFields = fields
	return s.taskID, nil
}

func (s *stubAPI) GetTask(ctx context.Context, objID int64) (*collaborator.TaskDetail, error) {
	return &collaborator.TaskDetail{}, nil
}

func (s *stubAPI) CreateAttachment(ctx context.Context, objID int64, filename, contentType string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.attachments = append(s.attachments, filename)
	s.attachedBody = string(data)
	return nil
}

func (s *stubAPI) SetTaskStatus(ctx context.Context, objID int64, status string) error {
	s.statusCalls = append(s.statusCalls, status)
	return nil
}

type captureQueue struct {
	tasks  []Task
	chains [][]Task
}

func (q *captureQueue) Enqueue(ctx context.Context, task Task) error {
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *captureQueue) EnqueueChain(ctx context.Context, chain ...Task) error {
	q.chains = append(q.chains, chain)
	return nil
}

func newTestHandlers(t *testing.T, api *stubAPI) (*Handlers, sqlmock.Sqlmock, *captureQueue, *storage.Store) {
	t.Helper()

	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	db := bun.NewDB(sqldb, pgdialect.New())
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)

	queue := &captureQueue{}
	h := NewHandlers(db, queue, store, func() collaborator.API { return api }, WebPushConfig{}, zap.NewNop())
	return h, mock, queue, store
}

func mustPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestCreateServiceRequestStoresRemoteIDAndFlushesPending(t *testing.T) {
	api := &stubAPI{taskID: 99}
	h, mock, queue, _ := newTestHandlers(t, api)

	mock.ExpectExec(`UPDATE "service_requests"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM "service_request_attachments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "service_request_id", "file", "content_type", "exists_on_collaborator"}).
			AddRow(int64(4), int64(1), "service_request_attachments/a.jpg", "image/jpeg", false).
			AddRow(int64(5), int64(1), "service_request_attachments/b.jpg", "image/jpeg", false))

	fields := []collaborator.FormField{{FieldID: "F1", FieldValue: "Water"}}
	err := h.CreateServiceRequest(context.Background(), mustPayload(t, CreateServiceRequestPayload{
		ServiceRequestID: 1,
		FormFields:       fields,
	}))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, fields, api.taskFields)

	require.Len(t, queue.tasks, 2)
	for i, want := range []int64{4, 5} {
		assert.Equal(t, TypeCreateAttachment, queue.tasks[i].Type)
		var p CreateAttachmentPayload
		require.NoError(t, json.Unmarshal(queue.tasks[i].Payload, &p))
		assert.Equal(t, want, p.AttachmentID)
	}
}

func TestCreateAttachmentRequiresRemoteID(t *testing.T) {
	api := &stubAPI{}
	h, mock, _, _ := newTestHandlers(t, api)

	mock.ExpectQuery(`SELECT (.+) FROM "service_request_attachments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "service_request_id", "file", "exists_on_collaborator", "service_request__id", "service_request__collaborator_object_id"}).
			AddRow(int64(4), int64(1), "service_request_attachments/a.jpg", false, int64(1), nil))

	err := h.CreateAttachment(context.Background(), mustPayload(t, CreateAttachmentPayload{AttachmentID: 4}))
	assert.ErrorIs(t, err, ErrMissingRemoteID)
	assert.Empty(t, api.attachments)
}

func TestCreateAttachmentRejectsAlreadyPushed(t *testing.T) {
	api := &stubAPI{}
	h, mock, _, _ := newTestHandlers(t, api)

	mock.ExpectQuery(`SELECT (.+) FROM "service_request_attachments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "service_request_id", "file", "exists_on_collaborator", "service_request__id", "service_request__collaborator_object_id"}).
			AddRow(int64(4), int64(1), "service_request_attachments/a.jpg", true, int64(1), int64(99)))

	err := h.CreateAttachment(context.Background(), mustPayload(t, CreateAttachmentPayload{AttachmentID: 4}))
	assert.ErrorIs(t, err, ErrAlreadyPushed)
	assert.Empty(t, api.attachments)
}

func TestCreateAttachmentPushesStoredFile(t *testing.T) {
	api := &stubAPI{}
	h, mock, _, store := newTestHandlers(t, api)

	rel, err := store.Save("service_request_attachments", "pothole.jpg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT (.+) FROM "service_request_attachments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "service_request_id", "file", "content_type", "exists_on_collaborator", "service_request__id", "service_request__collaborator_object_id"}).
			AddRow(int64(4), int64(1), rel, "image/jpeg", false, int64(1), int64(99)))
	mock.ExpectExec(`UPDATE "service_request_attachments"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = h.CreateAttachment(context.Background(), mustPayload(t, CreateAttachmentPayload{AttachmentID: 4}))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, api.attachments, 1)
	assert.Equal(t, rel, api.attachments[0])
	assert.Equal(t, "jpeg-bytes", api.attachedBody)
}

func TestSetStatusRequiresRemoteID(t *testing.T) {
	api := &stubAPI{}
	h, mock, _, _ := newTestHandlers(t, api)

	mock.ExpectQuery(`SELECT (.+) FROM "service_requests"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "collaborator_object_id", "created_at"}).
			AddRow(int64(1), "5b7e1d0e-2f4b-4a3b-9c1d-000000000001", nil, time.Now()))

	err := h.SetStatus(context.Background(), mustPayload(t, SetStatusPayload{ServiceRequestID: 1, Status: collaborator.StatusInitial}))
	assert.ErrorIs(t, err, ErrMissingRemoteID)
	assert.Empty(t, api.statusCalls)
}

func TestSetStatusCallsRemote(t *testing.T) {
	api := &stubAPI{}
	h, mock, _, _ := newTestHandlers(t, api)

	mock.ExpectQuery(`SELECT (.+) FROM "service_requests"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "collaborator_object_id", "created_at"}).
			AddRow(int64(1), "5b7e1d0e-2f4b-4a3b-9c1d-000000000001", int64(99), time.Now()))

	err := h.SetStatus(context.Background(), mustPayload(t, SetStatusPayload{ServiceRequestID: 1, Status: collaborator.StatusRegistered}))
	require.NoError(t, err)
	assert.Equal(t, []string{collaborator.StatusRegistered}, api.statusCalls)
}
