package handlers

import (
	"encoding/json"
	"net/http"

	"muni-portal/internal/middleware"
	"muni-portal/internal/services"

	"go.uber.org/zap"
)

// WebPushHandler manages the caller's own push subscriptions. Staff-facing
// notification endpoints live on the admin handler.
type WebPushHandler struct {
	service *services.WebPushService
	logr    *zap.Logger
}

func NewWebPushHandler(svc *services.WebPushService, logr *zap.Logger) *WebPushHandler {
	return &WebPushHandler{service: svc, logr: logr}
}

// Subscribe handles POST /webpush/subscribe with the browser
// PushSubscription JSON.
func (h *WebPushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
		return
	}

	var req services.SubscribeInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}

	sub, err := h.service.Subscribe(r.Context(), userID, req)
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to save subscription", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to save subscription"})
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// Unsubscribe handles POST /webpush/unsubscribe.
func (h *WebPushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
		return
	}

	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{
			"endpoint": {"This field is required."},
		})
		return
	}

	if err := h.service.Unsubscribe(r.Context(), userID, req.Endpoint); err != nil {
		h.logr.Error("failed to remove subscription", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to remove subscription"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
