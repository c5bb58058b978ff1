package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"muni-portal/internal/collaborator"
	"muni-portal/internal/models"
	"muni-portal/internal/storage"
	"muni-portal/internal/tasks"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"go.uber.org/zap"
)

type countingAPI struct {
	authErr   error
	getErr    error
	authCalls int
	getCalls  []int64
	detail    collaborator.TaskDetail
}

func (a *countingAPI) Authenticate(ctx context.Context) error {
	a.authCalls++
	return a.authErr
}

func (a *countingAPI) CreateTask(ctx context.Context, fields []collaborator.FormField) (int64, error) {
	return 0, nil
}

func (a *countingAPI) GetTask(ctx context.Context, objID int64) (*collaborator.TaskDetail, error) {
	a.getCalls = append(a.getCalls, objID)
	if a.getErr != nil {
		return nil, a.getErr
	}
	d := a.detail
	d.ObjID = objID
	return &d, nil
}

func (a *countingAPI) CreateAttachment(ctx context.Context, objID int64, filename, contentType string, body io.Reader) error {
	return nil
}

func (a *countingAPI) SetTaskStatus(ctx context.Context, objID int64, status string) error {
	return nil
}

func newRefreshTestService(t *testing.T, api *countingAPI) (*ServiceRequestService, sqlmock.Sqlmock) {
	t.Helper()

	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	svc := NewServiceRequestService(
		bun.NewDB(sqldb, pgdialect.New()),
		nil, nil,
		func() collaborator.API { return api },
		"WC033",
		zap.NewNop(),
	)
	return svc, mock
}

func TestSubmitValidationNamesEveryMissingField(t *testing.T) {
	in := SubmitServiceRequestInput{}

	err := in.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	for _, field := range []string{"type", "user_name", "user_surname", "user_mobile_number", "description"} {
		assert.Equal(t, []string{"This field is required."}, verr.Fields[field], field)
	}
	assert.Len(t, verr.Fields, 5)
}

func TestSubmitValidationPassesWithRequiredFields(t *testing.T) {
	in := SubmitServiceRequestInput{
		Type:             "Water",
		UserName:         "Thandi",
		UserSurname:      "Mokoena",
		UserMobileNumber: "0821234567",
		Description:      "Burst pipe on the corner",
	}
	assert.NoError(t, in.Validate())
}

func TestSubmitValidationOptionalFieldsStayOptional(t *testing.T) {
	in := SubmitServiceRequestInput{
		Type:             "Refuse",
		UserName:         "Sipho",
		UserSurname:      "Dlamini",
		UserMobileNumber: "0837654321",
		Description:      "Missed collection",
		// no email, address, coordinates
	}
	assert.NoError(t, in.Validate())
}

func TestFormFieldsMapping(t *testing.T) {
	svc := &ServiceRequestService{demarcationCode: "WC033"}
	requestDate := time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)

	sr := &models.ServiceRequest{
		Type:             "Water",
		UserName:         "Thandi",
		UserSurname:      "Mokoena",
		UserMobileNumber: "0821234567",
		UserEmailAddress: "thandi@example.org",
		StreetName:       "Main Road",
		StreetNumber:     "12",
		Suburb:           "Rosedale",
		Description:      "Burst pipe",
		Coordinates:      "-33.9,18.4",
		RequestDate:      requestDate,
		DemarcationCode:  "WC033",
	}

	fields := svc.formFields(sr)
	byID := map[string]string{}
	for _, f := range fields {
		byID[f.FieldID] = f.FieldValue
	}

	assert.Equal(t, "Water", byID[collaborator.FieldType])
	assert.Equal(t, "Thandi", byID[collaborator.FieldUserName])
	assert.Equal(t, "Mokoena", byID[collaborator.FieldUserSurname])
	assert.Equal(t, "0821234567", byID[collaborator.FieldUserMobileNumber])
	assert.Equal(t, "thandi@example.org", byID[collaborator.FieldUserEmailAddress])
	assert.Equal(t, "Main Road", byID[collaborator.FieldStreetName])
	assert.Equal(t, "12", byID[collaborator.FieldStreetNumber])
	assert.Equal(t, "Rosedale", byID[collaborator.FieldSuburb])
	assert.Equal(t, "Burst pipe", byID[collaborator.FieldDescription])
	assert.Equal(t, "-33.9,18.4", byID[collaborator.FieldCoordinates])
	assert.Equal(t, requestDate.Format(time.RFC3339), byID[collaborator.FieldRequestDate])
	assert.Equal(t, "WC033", byID[collaborator.FieldDemarcationCode])

	// Reference and status fields belong to the remote side and are never
	// sent on create.
	_, hasStatus := byID[collaborator.FieldStatus]
	assert.False(t, hasStatus)
	_, hasMobileRef := byID[collaborator.FieldMobileReference]
	assert.False(t, hasMobileRef)
}

func TestListSkipsRemoteCallsWithoutObjectID(t *testing.T) {
	api := &countingAPI{}
	svc, mock := newRefreshTestService(t, api)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM "service_requests"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "collaborator_object_id", "status"}).
			AddRow(int64(2), userID.String(), nil, "assigned").
			AddRow(int64(1), userID.String(), nil, "assigned"))

	rows, err := svc.List(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Zero(t, api.authCalls)
	assert.Empty(t, api.getCalls)
}

func TestListMergesAndPersistsRemoteState(t *testing.T) {
	api := &countingAPI{detail: collaborator.TaskDetail{
		Status:            "In Progress",
		OnPremisReference: "OP-123",
		MobileReference:   "MOB-9",
	}}
	svc, mock := newRefreshTestService(t, api)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM "service_requests"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "collaborator_object_id", "status"}).
			AddRow(int64(2), userID.String(), int64(77), "assigned").
			AddRow(int64(1), userID.String(), int64(42), "assigned"))
	mock.ExpectExec(`UPDATE "service_requests"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "service_requests"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rows, err := svc.List(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.NoError(t, mock.ExpectationsWereMet())

	// One login per read, one fetch per remote row.
	assert.Equal(t, 1, api.authCalls)
	assert.Equal(t, []int64{77, 42}, api.getCalls)

	for _, sr := range rows {
		assert.Equal(t, "In Progress", sr.Status)
		assert.Equal(t, "OP-123", sr.OnPremisReference)
		assert.Equal(t, "MOB-9", sr.MobileReference)
	}
}

func TestGetUnchangedRemoteStateSkipsPersist(t *testing.T) {
	api := &countingAPI{detail: collaborator.TaskDetail{Status: "assigned"}}
	svc, mock := newRefreshTestService(t, api)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM "service_requests"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "collaborator_object_id", "status", "on_premis_reference", "mobile_reference"}).
			AddRow(int64(1), userID.String(), int64(42), "assigned", "", ""))

	sr, err := svc.Get(context.Background(), userID, 1)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, []int64{42}, api.getCalls)
	assert.Equal(t, "assigned", sr.Status)
}

func TestListFailsWhenAuthenticateFails(t *testing.T) {
	api := &countingAPI{authErr: errors.New("502 bad gateway")}
	svc, mock := newRefreshTestService(t, api)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM "service_requests"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "collaborator_object_id", "status"}).
			AddRow(int64(1), userID.String(), int64(42), "assigned"))

	_, err := svc.List(context.Background(), userID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collaborator authenticate")
}

func TestGetFailsWhenRemoteFetchFails(t *testing.T) {
	api := &countingAPI{getErr: errors.New("timeout")}
	svc, mock := newRefreshTestService(t, api)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM "service_requests"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "collaborator_object_id", "status"}).
			AddRow(int64(1), userID.String(), int64(42), "assigned"))

	_, err := svc.Get(context.Background(), userID, 1)
	require.Error(t, err)
	assert.Equal(t, []int64{42}, api.getCalls)
}

type fakeQueue struct {
	tasks  []tasks.Task
	chains [][]tasks.Task
}

func (q *fakeQueue) Enqueue(ctx context.Context, task tasks.Task) error {
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *fakeQueue) EnqueueChain(ctx context.Context, chain ...tasks.Task) error {
	q.chains = append(q.chains, chain)
	return nil
}

func newAttachmentTestService(t *testing.T) (*ServiceRequestService, sqlmock.Sqlmock, *fakeQueue, *countingAPI) {
	t.Helper()

	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	store, err := storage.New(t.TempDir())
	require.NoError(t, err)

	queue := &fakeQueue{}
	api := &countingAPI{}
	svc := NewServiceRequestService(
		bun.NewDB(sqldb, pgdialect.New()),
		queue, store,
		func() collaborator.API { return api },
		"WC033",
		zap.NewNop(),
	)
	return svc, mock, queue, api
}

func TestAddAttachmentsBuildsOrderedChain(t *testing.T) {
	svc, mock, queue, api := newAttachmentTestService(t)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM "service_requests"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "collaborator_object_id", "status"}).
			AddRow(int64(1), userID.String(), int64(77), "registered"))
	for _, id := range []int64{11, 12} {
		mock.ExpectQuery(`INSERT INTO "service_request_attachments"`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(id, time.Now()))
	}

	created, err := svc.AddAttachments(context.Background(), userID, 1, []AttachmentUpload{
		{Filename: "front.jpg", ContentType: "image/jpeg", Body: strings.NewReader("one")},
		{Filename: "back.jpg", ContentType: "image/jpeg", Body: strings.NewReader("two")},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, queue.chains, 1)
	chain := queue.chains[0]
	require.Len(t, chain, 4)

	assert.Equal(t, tasks.TypeCreateAttachment, chain[0].Type)
	assert.Equal(t, tasks.TypeCreateAttachment, chain[1].Type)
	assert.Equal(t, tasks.TypeSetStatus, chain[2].Type)
	assert.Equal(t, tasks.TypeSetStatus, chain[3].Type)

	var first, second tasks.CreateAttachmentPayload
	require.NoError(t, json.Unmarshal(chain[0].Payload, &first))
	require.NoError(t, json.Unmarshal(chain[1].Payload, &second))
	assert.Equal(t, int64(11), first.AttachmentID)
	assert.Equal(t, int64(12), second.AttachmentID)

	var initial, registered tasks.SetStatusPayload
	require.NoError(t, json.Unmarshal(chain[2].Payload, &initial))
	require.NoError(t, json.Unmarshal(chain[3].Payload, &registered))
	assert.Equal(t, collaborator.StatusInitial, initial.Status)
	assert.Equal(t, collaborator.StatusRegistered, registered.Status)

	assert.Zero(t, api.authCalls)
}

func TestAddAttachmentsWithoutRemoteIDEnqueuesNothing(t *testing.T) {
	svc, mock, queue, api := newAttachmentTestService(t)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM "service_requests"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "collaborator_object_id", "status"}).
			AddRow(int64(1), userID.String(), nil, "assigned"))
	mock.ExpectQuery(`INSERT INTO "service_request_attachments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), time.Now()))

	created, err := svc.AddAttachments(context.Background(), userID, 1, []AttachmentUpload{
		{Filename: "front.jpg", ContentType: "image/jpeg", Body: strings.NewReader("one")},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.NoError(t, mock.ExpectationsWereMet())

	// The row waits for the parent-creation task; pushing now would fail
	// and double pushing later.
	assert.Empty(t, queue.chains)
	assert.Empty(t, queue.tasks)
	assert.Zero(t, api.authCalls)
}
