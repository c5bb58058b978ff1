package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Webhook is an append-only log of inbound Collaborator webhook payloads.
type Webhook struct {
	bun.BaseModel `bun:"table:webhooks,alias:wh"`

	ID        int64           `bun:"id,pk,autoincrement" json:"id"`
	Data      json.RawMessage `bun:"data,type:jsonb,notnull" json:"data"`
	CreatedAt time.Time       `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

const (
	WebPushNotificationStatusPending = "PENDING"
	WebPushNotificationStatusSent    = "SENT"
	WebPushNotificationStatusFailed  = "FAILED"
)

// WebPushSubscription stores one browser push subscription for a user.
type WebPushSubscription struct {
	bun.BaseModel `bun:"table:webpush_subscriptions,alias:wps"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	UserID    uuid.UUID `bun:"user_id,type:uuid,notnull" json:"-"`
	Endpoint  string    `bun:"endpoint,notnull" json:"endpoint"`
	P256dh    string    `bun:"p256dh,notnull" json:"p256dh"`
	Auth      string    `bun:"auth,notnull" json:"auth"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// WebPushNotification is an outbound notification authored by staff. Status is
// updated by the delivery task.
type WebPushNotification struct {
	bun.BaseModel `bun:"table:webpush_notifications,alias:wpn"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	Title     string    `bun:"title,notnull" json:"title"`
	Body      string    `bun:"body,notnull" json:"body"`
	URL       string    `bun:"url,default:''" json:"url,omitempty"`
	Status    string    `bun:"status,notnull,default:'PENDING'" json:"status"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// WebPushNotificationResult records the delivery outcome per subscription.
type WebPushNotificationResult struct {
	bun.BaseModel `bun:"table:webpush_notification_results,alias:wpr"`

	ID             int64     `bun:"id,pk,autoincrement" json:"id"`
	NotificationID int64     `bun:"notification_id,notnull" json:"notification_id"`
	SubscriptionID int64     `bun:"subscription_id,notnull" json:"subscription_id"`
	StatusCode     int       `bun:"status_code,notnull" json:"status_code"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}
