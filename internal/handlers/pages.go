package handlers

import (
	"net/http"
	"strconv"

	"muni-portal/internal/models"
	"muni-portal/internal/services"
	"muni-portal/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// PagesHandler serves the public read-only content API.
type PagesHandler struct {
	pages      *services.PageService
	serializer *services.PageSerializer
	logr       *zap.Logger
}

func NewPagesHandler(pages *services.PageService, serializer *services.PageSerializer, logr *zap.Logger) *PagesHandler {
	return &PagesHandler{pages: pages, serializer: serializer, logr: logr}
}

// List handles GET /pages. The type filter accepts repeated or
// comma-separated values; child_of narrows to one parent's live children.
func (h *PagesHandler) List(w http.ResponseWriter, r *http.Request) {
	types := utils.ParseQueryList(r.URL.Query(), "type")

	if childOf := r.URL.Query().Get("child_of"); childOf != "" {
		parentID, err := strconv.ParseInt(childOf, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid child_of parameter"})
			return
		}
		h.listChildren(w, r, parentID, types)
		return
	}

	var pages []*models.Page
	if len(types) == 0 {
		all, err := h.pages.ListLive(r.Context())
		if err != nil {
			h.logr.Error("failed to list pages", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list pages"})
			return
		}
		pages = all
	}
	for _, t := range types {
		pt := models.PageType(t)
		if !pt.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"detail": "Unknown page type: " + t,
			})
			return
		}
		batch, err := h.pages.ListByType(r.Context(), pt)
		if err != nil {
			h.logr.Error("failed to list pages", zap.Error(err), zap.String("type", t))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list pages"})
			return
		}
		pages = append(pages, batch...)
	}

	results := make([]map[string]any, 0, len(pages))
	for _, p := range pages {
		payload, err := h.serializer.Serialize(r.Context(), p)
		if err != nil {
			h.logr.Error("failed to serialize page", zap.Error(err), zap.Int64("page_id", p.ID))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to serialize page"})
			return
		}
		results = append(results, payload)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(results),
		"results": results,
	})
}

func (h *PagesHandler) listChildren(w http.ResponseWriter, r *http.Request, parentID int64, types []string) {
	want := make(map[models.PageType]bool, len(types))
	for _, t := range types {
		pt := models.PageType(t)
		if !pt.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"detail": "Unknown page type: " + t,
			})
			return
		}
		want[pt] = true
	}

	children, err := h.pages.GetChildren(r.Context(), parentID)
	if err != nil {
		h.logr.Error("failed to list children", zap.Error(err), zap.Int64("parent_id", parentID))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list pages"})
		return
	}

	results := make([]map[string]any, 0, len(children))
	for _, p := range children {
		if !p.Live {
			continue
		}
		if len(want) > 0 && !want[p.Type] {
			continue
		}
		payload, err := h.serializer.Serialize(r.Context(), p)
		if err != nil {
			h.logr.Error("failed to serialize page", zap.Error(err), zap.Int64("page_id", p.ID))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to serialize page"})
			return
		}
		results = append(results, payload)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(results),
		"results": results,
	})
}

// Get handles GET /pages/{id}.
func (h *PagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid page id"})
		return
	}

	page, err := h.pages.GetPage(r.Context(), id)
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to load page", zap.Error(err), zap.Int64("page_id", id))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to load page"})
		return
	}
	if !page.Live {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}

	payload, err := h.serializer.Serialize(r.Context(), page)
	if err != nil {
		h.logr.Error("failed to serialize page", zap.Error(err), zap.Int64("page_id", id))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to serialize page"})
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// Find handles GET /pages/find?html_path=/services/water/. It resolves a
// URL path to its page payload.
func (h *PagesHandler) Find(w http.ResponseWriter, r *http.Request) {
	htmlPath := r.URL.Query().Get("html_path")
	if htmlPath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "html_path parameter is required"})
		return
	}

	page, err := h.pages.FindByPath(r.Context(), htmlPath)
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to resolve path", zap.Error(err), zap.String("html_path", htmlPath))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to resolve path"})
		return
	}
	if !page.Live {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}

	payload, err := h.serializer.Serialize(r.Context(), page)
	if err != nil {
		h.logr.Error("failed to serialize page", zap.Error(err), zap.Int64("page_id", page.ID))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to serialize page"})
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
