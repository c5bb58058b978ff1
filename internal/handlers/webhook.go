package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"muni-portal/internal/services"

	"go.uber.org/zap"
)

// maxWebhookBody caps inbound webhook payload size.
const maxWebhookBody = 1 << 20

// WebhookHandler records inbound Collaborator notifications.
type WebhookHandler struct {
	service *services.WebhookService
	logr    *zap.Logger
}

func NewWebhookHandler(svc *services.WebhookService, logr *zap.Logger) *WebhookHandler {
	return &WebhookHandler{service: svc, logr: logr}
}

// Receive handles POST /webhooks/collaborator. The payload is stored
// verbatim; a 201 only acknowledges receipt.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Unreadable body"})
		return
	}

	wh, err := h.service.Record(r.Context(), json.RawMessage(body))
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to record webhook", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to record webhook"})
		return
	}

	writeJSON(w, http.StatusCreated, wh)
}
