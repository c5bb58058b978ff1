package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"muni-portal/internal/middleware"
	"muni-portal/internal/services"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxAttachmentMemory bounds the in-memory portion of multipart parsing;
// larger files spill to disk.
const maxAttachmentMemory = 10 << 20

// ServiceRequestHandler owns the citizen-facing case endpoints. All routes
// require an authenticated user and are scoped to that user's records.
type ServiceRequestHandler struct {
	service *services.ServiceRequestService
	logr    *zap.Logger
}

func NewServiceRequestHandler(svc *services.ServiceRequestService, logr *zap.Logger) *ServiceRequestHandler {
	return &ServiceRequestHandler{service: svc, logr: logr}
}

// Create handles POST /service-requests.
func (h *ServiceRequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
		return
	}

	var req services.SubmitServiceRequestInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}

	sr, err := h.service.Submit(r.Context(), userID, req)
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to submit service request", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to submit service request"})
		return
	}

	writeJSON(w, http.StatusCreated, sr)
}

// List handles GET /service-requests.
func (h *ServiceRequestHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
		return
	}

	rows, err := h.service.List(r.Context(), userID)
	if err != nil {
		h.logr.Error("failed to list service requests", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list service requests"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(rows),
		"results": rows,
	})
}

// Get handles GET /service-requests/{id}.
func (h *ServiceRequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid service request id"})
		return
	}

	sr, err := h.service.Get(r.Context(), userID, id)
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to load service request", zap.Error(err), zap.Int64("id", id))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to load service request"})
		return
	}

	writeJSON(w, http.StatusOK, sr)
}

// CreateAttachments handles POST /service-requests/{id}/attachments. The
// body is multipart form data with one or more "files" parts.
func (h *ServiceRequestHandler) CreateAttachments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid service request id"})
		return
	}

	if err := r.ParseMultipartForm(maxAttachmentMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid multipart body"})
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string][]string{
			"files": {"This field is required."},
		})
		return
	}

	uploads := make([]services.AttachmentUpload, 0, len(files))
	opened := make([]interface{ Close() error }, 0, len(files))
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Unreadable file part"})
			return
		}
		opened = append(opened, f)
		uploads = append(uploads, services.AttachmentUpload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Body:        f,
		})
	}

	created, err := h.service.AddAttachments(r.Context(), userID, id, uploads)
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to store attachments", zap.Error(err), zap.Int64("service_request_id", id))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to store attachments"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"count":   len(created),
		"results": created,
	})
}

// ListAttachments handles GET /service-requests/{id}/attachments.
func (h *ServiceRequestHandler) ListAttachments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid service request id"})
		return
	}

	rows, err := h.service.ListAttachments(r.Context(), userID, id)
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to list attachments", zap.Error(err), zap.Int64("service_request_id", id))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list attachments"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(rows),
		"results": rows,
	})
}

// GetAttachment handles GET /service-requests/{id}/attachments/{attachmentID}.
func (h *ServiceRequestHandler) GetAttachment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid service request id"})
		return
	}
	attachmentID, err := strconv.ParseInt(chi.URLParam(r, "attachmentID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid attachment id"})
		return
	}

	att, f, err := h.service.OpenAttachment(r.Context(), userID, id, attachmentID)
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to load attachment", zap.Error(err), zap.Int64("attachment_id", attachmentID))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to load attachment"})
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", att.ContentType)
	if _, err := io.Copy(w, f); err != nil {
		h.logr.Warn("failed to stream attachment", zap.Error(err), zap.Int64("attachment_id", attachmentID))
	}
}
