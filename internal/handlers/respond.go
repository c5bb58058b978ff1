package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"muni-portal/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	enc := json.NewEncoder(w)
	_ = enc.Encode(data)
}

// writeServiceError maps service-layer sentinels onto HTTP responses.
// Validation failures return the per-field message map the mobile clients
// parse.
func writeServiceError(w http.ResponseWriter, err error) bool {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, verr.Fields)
		return true
	}

	switch {
	case errors.Is(err, services.ErrPageNotFound),
		errors.Is(err, services.ErrServiceRequestNotFound),
		errors.Is(err, services.ErrAttachmentNotFound),
		errors.Is(err, services.ErrNotificationNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return true
	case errors.Is(err, services.ErrChildNotAllowed),
		errors.Is(err, services.ErrSingletonExceeded),
		errors.Is(err, services.ErrDuplicateSlug),
		errors.Is(err, services.ErrInvalidPageType),
		errors.Is(err, services.ErrRootMustBeHome),
		errors.Is(err, services.ErrMoveIntoSubtree):
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return true
	case errors.Is(err, services.ErrEmailTaken):
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return true
	}
	return false
}

func writeSnippetError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, services.ErrSnippetNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return true
	case errors.Is(err, services.ErrSnippetInUse):
		writeJSON(w, http.StatusConflict, map[string]string{"detail": err.Error()})
		return true
	}
	return false
}
