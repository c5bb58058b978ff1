package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"muni-portal/internal/collaborator"
	"muni-portal/internal/models"
	"muni-portal/internal/storage"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Precondition violations surfaced by the attachment push task. These are
// defensive checks, not recovery paths: the error propagates and the chain
// stops.
var (
	ErrMissingRemoteID = errors.New("service request must have a collaborator object id before an attachment can be created for it")
	ErrAlreadyPushed   = errors.New("attachment already exists on collaborator")
)

// CreateServiceRequestPayload carries the local row ID and the pre-built
// remote form fields.
type CreateServiceRequestPayload struct {
	ServiceRequestID int64                    `json:"service_request_id"`
	FormFields       []collaborator.FormField `json:"form_fields"`
}

type CreateAttachmentPayload struct {
	AttachmentID int64 `json:"attachment_id"`
}

type SetStatusPayload struct {
	ServiceRequestID int64  `json:"service_request_id"`
	Status           string `json:"status"`
}

type SendWebPushPayload struct {
	NotificationID int64 `json:"notification_id"`
}

// WebPushConfig holds the VAPID material the delivery task signs with.
type WebPushConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// Handlers implements the background task bodies. NewAPI returns a fresh
// Collaborator session per task, mirroring the one-login-per-job model of the
// remote API.
type Handlers struct {
	db     *bun.DB
	queue  Enqueuer
	store  *storage.Store
	newAPI func() collaborator.API
	push   WebPushConfig
	logr   *zap.Logger
}

func NewHandlers(db *bun.DB, queue Enqueuer, store *storage.Store, newAPI func() collaborator.API, push WebPushConfig, logr *zap.Logger) *Handlers {
	return &Handlers{
		db:     db,
		queue:  queue,
		store:  store,
		newAPI: newAPI,
		push:   push,
		logr:   logr,
	}
}

// RegisterAll binds every task type to its handler.
func (h *Handlers) RegisterAll(w *Worker) {
	w.Register(TypeCreateServiceRequest, h.CreateServiceRequest)
	w.Register(TypeCreateAttachment, h.CreateAttachment)
	w.Register(TypeSetStatus, h.SetStatus)
	w.Register(TypeSendWebPush, h.SendWebPush)
}

// CreateServiceRequest creates the remote record, writes the assigned object
// ID back to the local row, then schedules a push for every attachment
// uploaded while the request had no remote ID.
func (h *Handlers) CreateServiceRequest(ctx context.Context, payload json.RawMessage) error {
	var p CreateServiceRequestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	api := h.newAPI()
	if err := api.Authenticate(ctx); err != nil {
		return err
	}
	objID, err := api.CreateTask(ctx, p.FormFields)
	if err != nil {
		return err
	}

	_, err = h.db.NewUpdate().
		Model((*models.ServiceRequest)(nil)).
		Set("collaborator_object_id = ?", objID).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", p.ServiceRequestID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store collaborator object id: %w", err)
	}

	h.logr.Info("service request created on collaborator",
		zap.Int64("service_request_id", p.ServiceRequestID),
		zap.Int64("collaborator_object_id", objID))

	// There may be attachments waiting on the remote ID.
	var pending []models.ServiceRequestAttachment
	err = h.db.NewSelect().
		Model(&pending).
		Where("service_request_id = ?", p.ServiceRequestID).
		Where("exists_on_collaborator = FALSE").
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("list pending attachments: %w", err)
	}

	for _, att := range pending {
		task, err := NewTask(TypeCreateAttachment, CreateAttachmentPayload{AttachmentID: att.ID})
		if err != nil {
			return err
		}
		if err := h.queue.Enqueue(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// CreateAttachment pushes one stored file to the remote task. The parent must
// already have a remote ID and the attachment must not have been pushed
// before.
func (h *Handlers) CreateAttachment(ctx context.Context, payload json.RawMessage) error {
	var p CreateAttachmentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	att := new(models.ServiceRequestAttachment)
	err := h.db.NewSelect().
		Model(att).
		Relation("ServiceRequest").
		Where("sra.id = ?", p.AttachmentID).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("load attachment %d: %w", p.AttachmentID, err)
	}

	if att.ServiceRequest == nil || att.ServiceRequest.CollaboratorObjectID == nil {
		return ErrMissingRemoteID
	}
	if att.ExistsOnCollaborator {
		return ErrAlreadyPushed
	}

	f, err := h.store.Open(att.File)
	if err != nil {
		return err
	}
	defer f.Close()

	api := h.newAPI()
	if err := api.Authenticate(ctx); err != nil {
		return err
	}
	if err := api.CreateAttachment(ctx, *att.ServiceRequest.CollaboratorObjectID, att.File, att.ContentType, f); err != nil {
		return err
	}

	_, err = h.db.NewUpdate().
		Model((*models.ServiceRequestAttachment)(nil)).
		Set("exists_on_collaborator = TRUE").
		Where("id = ?", p.AttachmentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark attachment pushed: %w", err)
	}

	h.logr.Info("attachment pushed to collaborator",
		zap.Int64("attachment_id", p.AttachmentID),
		zap.Int64("collaborator_object_id", *att.ServiceRequest.CollaboratorObjectID))
	return nil
}

// SetStatus updates the remote task's status field.
func (h *Handlers) SetStatus(ctx context.Context, payload json.RawMessage) error {
	var p SetStatusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	sr := new(models.ServiceRequest)
	err := h.db.NewSelect().
		Model(sr).
		Where("id = ?", p.ServiceRequestID).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("load service request %d: %w", p.ServiceRequestID, err)
	}
	if sr.CollaboratorObjectID == nil {
		return ErrMissingRemoteID
	}

	api := h.newAPI()
	if err := api.Authenticate(ctx); err != nil {
		return err
	}
	return api.SetTaskStatus(ctx, *sr.CollaboratorObjectID, p.Status)
}

// SendWebPush delivers a notification to every stored subscription and
// records one result row per delivery attempt.
func (h *Handlers) SendWebPush(ctx context.Context, payload json.RawMessage) error {
	var p SendWebPushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	notification := new(models.WebPushNotification)
	err := h.db.NewSelect().
		Model(notification).
		Where("id = ?", p.NotificationID).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("load notification %d: %w", p.NotificationID, err)
	}

	var subs []models.WebPushSubscription
	if err := h.db.NewSelect().Model(&subs).Order("id ASC").Scan(ctx); err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	message, err := json.Marshal(map[string]string{
		"title": notification.Title,
		"body":  notification.Body,
		"url":   notification.URL,
	})
	if err != nil {
		return err
	}

	failures := 0
	for _, sub := range subs {
		statusCode := 0
		resp, err := webpush.SendNotificationWithContext(ctx, message, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			Subscriber:      h.push.Subject,
			VAPIDPublicKey:  h.push.PublicKey,
			VAPIDPrivateKey: h.push.PrivateKey,
			TTL:             60,
		})
		if err != nil {
			failures++
			h.logr.Warn("web push delivery failed",
				zap.Int64("notification_id", notification.ID),
				zap.Int64("subscription_id", sub.ID),
				zap.Error(err))
		} else {
			statusCode = resp.StatusCode
			resp.Body.Close()
			if statusCode >= 400 {
				failures++
			}
		}

		result := &models.WebPushNotificationResult{
			NotificationID: notification.ID,
			SubscriptionID: sub.ID,
			StatusCode:     statusCode,
		}
		if _, err := h.db.NewInsert().Model(result).Exec(ctx); err != nil {
			return fmt.Errorf("record delivery result: %w", err)
		}
	}

	status := models.WebPushNotificationStatusSent
	if failures > 0 && failures == len(subs) {
		status = models.WebPushNotificationStatusFailed
	}
	_, err = h.db.NewUpdate().
		Model((*models.WebPushNotification)(nil)).
		Set("status = ?", status).
		Where("id = ?", notification.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update notification status: %w", err)
	}
	return nil
}
