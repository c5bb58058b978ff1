package handlers

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"muni-portal/internal/storage"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// MediaHandler serves stored media files. Paths are relative to the media
// root and sanitized by the store.
type MediaHandler struct {
	store *storage.Store
	logr  *zap.Logger
}

func NewMediaHandler(store *storage.Store, logr *zap.Logger) *MediaHandler {
	return &MediaHandler{store: store, logr: logr}
}

// Serve handles GET /media/*.
func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	if rel == "" {
		http.NotFound(w, r)
		return
	}

	f, err := h.store.Open(rel)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	if ct := mime.TypeByExtension(filepath.Ext(rel)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if _, err := io.Copy(w, f); err != nil {
		h.logr.Warn("media stream interrupted", zap.Error(err), zap.String("path", rel))
	}
}
