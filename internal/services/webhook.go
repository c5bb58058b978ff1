package services

import (
	"context"
	"encoding/json"
	"fmt"

	"muni-portal/internal/models"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// WebhookService records inbound Collaborator webhook payloads verbatim.
// Nothing is interpreted at ingest time; the rows exist for audit and manual
// inspection.
type WebhookService struct {
	db   *bun.DB
	logr *zap.Logger
}

func NewWebhookService(db *bun.DB, logr *zap.Logger) *WebhookService {
	return &WebhookService{db: db, logr: logr}
}

// Record stores one payload. Invalid JSON is rejected; otherwise the body is
// kept exactly as received.
func (s *WebhookService) Record(ctx context.Context, payload json.RawMessage) (*models.Webhook, error) {
	if !json.Valid(payload) {
		return nil, &ValidationError{Fields: map[string][]string{
			"data": {"Invalid JSON payload."},
		}}
	}

	wh := &models.Webhook{Data: payload}
	if _, err := s.db.NewInsert().Model(wh).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert webhook: %w", err)
	}

	s.logr.Info("collaborator webhook recorded", zap.Int64("webhook_id", wh.ID))
	return wh, nil
}

// List returns recorded payloads, newest first.
func (s *WebhookService) List(ctx context.Context) ([]*models.Webhook, error) {
	var rows []*models.Webhook
	err := s.db.NewSelect().
		Model(&rows).
		Order("wh.id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return rows, nil
}
