package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"muni-portal/internal/models"
	"muni-portal/internal/tasks"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

var ErrNotificationNotFound = errors.New("notification not found")

// SubscribeInput is the browser PushSubscription JSON shape.
type SubscribeInput struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (in *SubscribeInput) Validate() error {
	fields := map[string][]string{}
	if in.Endpoint == "" {
		fields["endpoint"] = append(fields["endpoint"], requiredMessage)
	}
	if in.Keys.P256dh == "" {
		fields["keys.p256dh"] = append(fields["keys.p256dh"], requiredMessage)
	}
	if in.Keys.Auth == "" {
		fields["keys.auth"] = append(fields["keys.auth"], requiredMessage)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// WebPushService manages subscriptions and staff-authored notifications.
// Delivery itself runs on the task queue.
type WebPushService struct {
	db    *bun.DB
	queue tasks.Enqueuer
	logr  *zap.Logger
}

func NewWebPushService(db *bun.DB, queue tasks.Enqueuer, logr *zap.Logger) *WebPushService {
	return &WebPushService{db: db, queue: queue, logr: logr}
}

// Subscribe upserts a subscription keyed on its endpoint. Re-subscribing with
// the same endpoint rebinds it to the caller and refreshes the keys.
func (s *WebPushService) Subscribe(ctx context.Context, userID uuid.UUID, in SubscribeInput) (*models.WebPushSubscription, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	sub := &models.WebPushSubscription{
		UserID:   userID,
		Endpoint: in.Endpoint,
		P256dh:   in.Keys.P256dh,
		Auth:     in.Keys.Auth,
	}
	_, err := s.db.NewInsert().
		Model(sub).
		On("CONFLICT (endpoint) DO UPDATE").
		Set("user_id = EXCLUDED.user_id").
		Set("p256dh = EXCLUDED.p256dh").
		Set("auth = EXCLUDED.auth").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}
	return sub, nil
}

// Unsubscribe removes the caller's subscription for the given endpoint. It is
// idempotent.
func (s *WebPushService) Unsubscribe(ctx context.Context, userID uuid.UUID, endpoint string) error {
	_, err := s.db.NewDelete().
		Model((*models.WebPushSubscription)(nil)).
		Where("user_id = ?", userID).
		Where("endpoint = ?", endpoint).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// ListSubscriptions returns every stored subscription, for the admin surface.
func (s *WebPushService) ListSubscriptions(ctx context.Context) ([]*models.WebPushSubscription, error) {
	var rows []*models.WebPushSubscription
	err := s.db.NewSelect().
		Model(&rows).
		Order("wps.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return rows, nil
}

// CreateNotification stores a PENDING notification without sending it.
func (s *WebPushService) CreateNotification(ctx context.Context, title, body, url string) (*models.WebPushNotification, error) {
	fields := map[string][]string{}
	if title == "" {
		fields["title"] = append(fields["title"], requiredMessage)
	}
	if body == "" {
		fields["body"] = append(fields["body"], requiredMessage)
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	n := &models.WebPushNotification{
		Title:  title,
		Body:   body,
		URL:    url,
		Status: models.WebPushNotificationStatusPending,
	}
	if _, err := s.db.NewInsert().Model(n).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

// SendNotification enqueues delivery of a stored notification to every
// subscription.
func (s *WebPushService) SendNotification(ctx context.Context, id int64) error {
	n := new(models.WebPushNotification)
	err := s.db.NewSelect().
		Model(n).
		Where("wpn.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotificationNotFound
		}
		return fmt.Errorf("load notification: %w", err)
	}

	task, err := tasks.NewTask(tasks.TypeSendWebPush, tasks.SendWebPushPayload{NotificationID: n.ID})
	if err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue web push task: %w", err)
	}

	s.logr.Info("web push delivery queued", zap.Int64("notification_id", n.ID))
	return nil
}

// ListNotifications returns all notifications, newest first.
func (s *WebPushService) ListNotifications(ctx context.Context) ([]*models.WebPushNotification, error) {
	var rows []*models.WebPushNotification
	err := s.db.NewSelect().
		Model(&rows).
		Order("wpn.id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return rows, nil
}

// ListResults returns the per-subscription delivery outcomes of one
// notification.
func (s *WebPushService) ListResults(ctx context.Context, notificationID int64) ([]*models.WebPushNotificationResult, error) {
	var rows []*models.WebPushNotificationResult
	err := s.db.NewSelect().
		Model(&rows).
		Where("wpr.notification_id = ?", notificationID).
		Order("wpr.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list notification results: %w", err)
	}
	return rows, nil
}
