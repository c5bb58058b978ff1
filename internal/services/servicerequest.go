package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"muni-portal/internal/collaborator"
	"muni-portal/internal/models"
	"muni-portal/internal/storage"
	"muni-portal/internal/tasks"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

var (
	ErrServiceRequestNotFound = errors.New("service request not found")
	ErrAttachmentNotFound     = errors.New("attachment not found")
)

// requiredMessage matches the per-field error the mobile clients expect.
const requiredMessage = "This field is required."

// ValidationError carries per-field messages for a rejected submission.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %d field(s)", len(e.Fields))
}

// SubmitServiceRequestInput is the citizen-facing submission body.
type SubmitServiceRequestInput struct {
	Type                   string     `json:"type"`
	UserName               string     `json:"user_name"`
	UserSurname            string     `json:"user_surname"`
	UserMobileNumber       string     `json:"user_mobile_number"`
	UserEmailAddress       string     `json:"user_email_address"`
	MunicipalAccountNumber string     `json:"municipal_account_number"`
	StreetName             string     `json:"street_name"`
	StreetNumber           string     `json:"street_number"`
	Suburb                 string     `json:"suburb"`
	Description            string     `json:"description"`
	Coordinates            string     `json:"coordinates"`
	RequestDate            *time.Time `json:"request_date"`
}

// Validate checks the mandatory fields and returns a ValidationError naming
// every missing one at once.
func (in *SubmitServiceRequestInput) Validate() error {
	fields := map[string][]string{}
	require := func(name, value string) {
		if value == "" {
			fields[name] = append(fields[name], requiredMessage)
		}
	}
	require("type", in.Type)
	require("user_name", in.UserName)
	require("user_surname", in.UserSurname)
	require("user_mobile_number", in.UserMobileNumber)
	require("description", in.Description)

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// AttachmentUpload is one file from a multipart submission.
type AttachmentUpload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// ServiceRequestService owns the local case records and the hand-off to the
// background queue. It never calls Collaborator synchronously on writes; reads
// refresh from the remote record when one exists.
type ServiceRequestService struct {
	db              *bun.DB
	queue           tasks.Enqueuer
	store           *storage.Store
	newAPI          func() collaborator.API
	demarcationCode string
	logr            *zap.Logger
}

func NewServiceRequestService(db *bun.DB, queue tasks.Enqueuer, store *storage.Store, newAPI func() collaborator.API, demarcationCode string, logr *zap.Logger) *ServiceRequestService {
	return &ServiceRequestService{
		db:              db,
		queue:           queue,
		store:           store,
		newAPI:          newAPI,
		demarcationCode: demarcationCode,
		logr:            logr,
	}
}

// Submit stores the request locally and enqueues the Collaborator mirror
// task. The local row is the source of truth until the remote id arrives.
func (s *ServiceRequestService) Submit(ctx context.Context, userID uuid.UUID, in SubmitServiceRequestInput) (*models.ServiceRequest, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	requestDate := time.Now().UTC()
	if in.RequestDate != nil {
		requestDate = in.RequestDate.UTC()
	}

	sr := &models.ServiceRequest{
		UserID:                 userID,
		Type:                   in.Type,
		UserName:               in.UserName,
		UserSurname:            in.UserSurname,
		UserMobileNumber:       in.UserMobileNumber,
		UserEmailAddress:       in.UserEmailAddress,
		MunicipalAccountNumber: in.MunicipalAccountNumber,
		StreetName:             in.StreetName,
		StreetNumber:           in.StreetNumber,
		Suburb:                 in.Suburb,
		Description:            in.Description,
		Coordinates:            in.Coordinates,
		RequestDate:            requestDate,
		Status:                 models.ServiceRequestStatusAssigned,
		DemarcationCode:        s.demarcationCode,
	}

	if _, err := s.db.NewInsert().Model(sr).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert service request: %w", err)
	}

	task, err := tasks.NewTask(tasks.TypeCreateServiceRequest, tasks.CreateServiceRequestPayload{
		ServiceRequestID: sr.ID,
		FormFields:       s.formFields(sr),
	})
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue service request task: %w", err)
	}

	s.logr.Info("service request submitted",
		zap.Int64("service_request_id", sr.ID),
		zap.String("type", sr.Type))
	return sr, nil
}

// formFields maps the local record onto the positional Collaborator template
// fields.
func (s *ServiceRequestService) formFields(sr *models.ServiceRequest) []collaborator.FormField {
	return []collaborator.FormField{
		{FieldID: collaborator.FieldType, FieldValue: sr.Type},
		{FieldID: collaborator.FieldUserName, FieldValue: sr.UserName},
		{FieldID: collaborator.FieldUserSurname, FieldValue: sr.UserSurname},
		{FieldID: collaborator.FieldUserMobileNumber, FieldValue: sr.UserMobileNumber},
		{FieldID: collaborator.FieldUserEmailAddress, FieldValue: sr.UserEmailAddress},
		{FieldID: collaborator.FieldStreetName, FieldValue: sr.StreetName},
		{FieldID: collaborator.FieldStreetNumber, FieldValue: sr.StreetNumber},
		{FieldID: collaborator.FieldSuburb, FieldValue: sr.Suburb},
		{FieldID: collaborator.FieldDescription, FieldValue: sr.Description},
		{FieldID: collaborator.FieldCoordinates, FieldValue: sr.Coordinates},
		{FieldID: collaborator.FieldRequestDate, FieldValue: sr.RequestDate.Format(time.RFC3339)},
		{FieldID: collaborator.FieldDemarcationCode, FieldValue: sr.DemarcationCode},
	}
}

// List returns the caller's requests, newest first, refreshed from
// Collaborator where a remote record exists.
func (s *ServiceRequestService) List(ctx context.Context, userID uuid.UUID) ([]*models.ServiceRequest, error) {
	var rows []*models.ServiceRequest
	err := s.db.NewSelect().
		Model(&rows).
		Where("sr.user_id = ?", userID).
		Order("sr.id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list service requests: %w", err)
	}

	if err := s.refreshAll(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Get returns one of the caller's requests by id, refreshed from
// Collaborator when a remote record exists.
func (s *ServiceRequestService) Get(ctx context.Context, userID uuid.UUID, id int64) (*models.ServiceRequest, error) {
	sr, err := s.getLocal(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if err := s.refreshAll(ctx, []*models.ServiceRequest{sr}); err != nil {
		return nil, err
	}
	return sr, nil
}

// getLocal loads one of the caller's requests without touching Collaborator.
func (s *ServiceRequestService) getLocal(ctx context.Context, userID uuid.UUID, id int64) (*models.ServiceRequest, error) {
	sr := new(models.ServiceRequest)
	err := s.db.NewSelect().
		Model(sr).
		Where("sr.id = ?", id).
		Where("sr.user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrServiceRequestNotFound
		}
		return nil, fmt.Errorf("load service request: %w", err)
	}
	return sr, nil
}

// refreshAll merges remote state into the given rows and persists any
// changes. A remote failure surfaces to the caller.
func (s *ServiceRequestService) refreshAll(ctx context.Context, rows []*models.ServiceRequest) error {
	var api collaborator.API
	for _, sr := range rows {
		if sr.CollaboratorObjectID == nil {
			continue
		}
		if api == nil {
			api = s.newAPI()
			if err := api.Authenticate(ctx); err != nil {
				return fmt.Errorf("collaborator authenticate: %w", err)
			}
		}
		if err := s.refresh(ctx, api, sr); err != nil {
			return fmt.Errorf("refresh service request %d: %w", sr.ID, err)
		}
	}
	return nil
}

func (s *ServiceRequestService) refresh(ctx context.Context, api collaborator.API, sr *models.ServiceRequest) error {
	detail, err := api.GetTask(ctx, *sr.CollaboratorObjectID)
	if err != nil {
		return err
	}

	if detail.Status == sr.Status &&
		detail.OnPremisReference == sr.OnPremisReference &&
		detail.MobileReference == sr.MobileReference {
		return nil
	}

	sr.Status = detail.Status
	sr.OnPremisReference = detail.OnPremisReference
	sr.MobileReference = detail.MobileReference
	sr.UpdatedAt = time.Now().UTC()

	_, err = s.db.NewUpdate().
		Model(sr).
		Column("status", "on_premis_reference", "mobile_reference", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("persist refreshed state: %w", err)
	}
	return nil
}

// AddAttachments stores the uploads. When the request already exists on
// Collaborator it enqueues one chain pushing them all, then marking the
// remote task Initial and Registered; push order follows upload order. Until
// the remote id arrives nothing is enqueued and the rows wait for the
// parent-creation task to pick them up.
func (s *ServiceRequestService) AddAttachments(ctx context.Context, userID uuid.UUID, requestID int64, uploads []AttachmentUpload) ([]*models.ServiceRequestAttachment, error) {
	sr, err := s.getLocal(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}

	created := make([]*models.ServiceRequestAttachment, 0, len(uploads))
	chain := make([]tasks.Task, 0, len(uploads)+2)
	for _, upload := range uploads {
		path, err := s.store.Save("service_request_attachments", upload.Filename, upload.Body)
		if err != nil {
			return nil, fmt.Errorf("store attachment: %w", err)
		}

		att := &models.ServiceRequestAttachment{
			ServiceRequestID: requestID,
			File:             path,
			ContentType:      upload.ContentType,
		}
		if _, err := s.db.NewInsert().Model(att).Exec(ctx); err != nil {
			return nil, fmt.Errorf("insert attachment: %w", err)
		}
		created = append(created, att)

		task, err := tasks.NewTask(tasks.TypeCreateAttachment, tasks.CreateAttachmentPayload{AttachmentID: att.ID})
		if err != nil {
			return nil, err
		}
		chain = append(chain, task)
	}

	if sr.CollaboratorObjectID == nil {
		s.logr.Info("attachments stored, awaiting remote record",
			zap.Int64("service_request_id", requestID),
			zap.Int("count", len(created)))
		return created, nil
	}

	for _, status := range []string{collaborator.StatusInitial, collaborator.StatusRegistered} {
		task, err := tasks.NewTask(tasks.TypeSetStatus, tasks.SetStatusPayload{
			ServiceRequestID: requestID,
			Status:           status,
		})
		if err != nil {
			return nil, err
		}
		chain = append(chain, task)
	}

	if err := s.queue.EnqueueChain(ctx, chain...); err != nil {
		return nil, fmt.Errorf("enqueue attachment chain: %w", err)
	}

	s.logr.Info("attachments queued",
		zap.Int64("service_request_id", requestID),
		zap.Int("count", len(created)))
	return created, nil
}

// ListAttachments returns the attachments of one of the caller's requests.
func (s *ServiceRequestService) ListAttachments(ctx context.Context, userID uuid.UUID, requestID int64) ([]*models.ServiceRequestAttachment, error) {
	sr := new(models.ServiceRequest)
	err := s.db.NewSelect().
		Model(sr).
		Where("sr.id = ?", requestID).
		Where("sr.user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrServiceRequestNotFound
		}
		return nil, fmt.Errorf("load service request: %w", err)
	}

	var rows []*models.ServiceRequestAttachment
	err = s.db.NewSelect().
		Model(&rows).
		Where("sra.service_request_id = ?", requestID).
		Order("sra.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return rows, nil
}

// GetAttachment returns one attachment scoped to the caller.
func (s *ServiceRequestService) GetAttachment(ctx context.Context, userID uuid.UUID, requestID, attachmentID int64) (*models.ServiceRequestAttachment, error) {
	att := new(models.ServiceRequestAttachment)
	err := s.db.NewSelect().
		Model(att).
		Relation("ServiceRequest").
		Where("sra.id = ?", attachmentID).
		Where("sra.service_request_id = ?", requestID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttachmentNotFound
		}
		return nil, fmt.Errorf("load attachment: %w", err)
	}
	if att.ServiceRequest == nil || att.ServiceRequest.UserID != userID {
		return nil, ErrAttachmentNotFound
	}
	return att, nil
}

// OpenAttachment returns the attachment row and a reader over its stored
// file. The caller closes the reader.
func (s *ServiceRequestService) OpenAttachment(ctx context.Context, userID uuid.UUID, requestID, attachmentID int64) (*models.ServiceRequestAttachment, io.ReadCloser, error) {
	att, err := s.GetAttachment(ctx, userID, requestID, attachmentID)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.store.Open(att.File)
	if err != nil {
		return nil, nil, fmt.Errorf("open attachment file: %w", err)
	}
	return att, f, nil
}
