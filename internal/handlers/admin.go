package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"muni-portal/internal/models"
	"muni-portal/internal/services"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AdminHandler is the staff surface: page tree management, reusable
// snippets, webhook inspection and push notifications. Routes are gated on
// the staff role.
type AdminHandler struct {
	pages    *services.PageService
	snippets *services.SnippetService
	webhooks *services.WebhookService
	webpush  *services.WebPushService
	logr     *zap.Logger
}

func NewAdminHandler(pages *services.PageService, snippets *services.SnippetService, webhooks *services.WebhookService, webpush *services.WebPushService, logr *zap.Logger) *AdminHandler {
	return &AdminHandler{
		pages:    pages,
		snippets: snippets,
		webhooks: webhooks,
		webpush:  webpush,
		logr:     logr,
	}
}

func urlID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil
}

type createPageReq struct {
	ParentID         *int64  `json:"parent_id"`
	PageType         string  `json:"page_type"`
	Title            string  `json:"title"`
	Slug             string  `json:"slug"`
	Overview         string  `json:"overview"`
	Body             string  `json:"body"`
	OfficeHours      string  `json:"office_hours"`
	IconClasses      string  `json:"icon_classes"`
	JobTitle         string  `json:"job_title"`
	MembersLabel     string  `json:"members_label"`
	ProfileImageID   *int64  `json:"profile_image_id"`
	PoliticalPartyID *int64  `json:"political_party_id"`
	HeadOfServiceID  *int64  `json:"head_of_service_id"`
}

// CreatePage handles POST /admin/pages.
func (h *AdminHandler) CreatePage(w http.ResponseWriter, r *http.Request) {
	var req createPageReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}

	page, err := h.pages.CreatePage(r.Context(), services.CreatePageInput{
		ParentID:         req.ParentID,
		Type:             models.PageType(req.PageType),
		Title:            req.Title,
		Slug:             req.Slug,
		Overview:         req.Overview,
		Body:             req.Body,
		OfficeHours:      req.OfficeHours,
		IconClasses:      req.IconClasses,
		JobTitle:         req.JobTitle,
		MembersLabel:     req.MembersLabel,
		ProfileImageID:   req.ProfileImageID,
		PoliticalPartyID: req.PoliticalPartyID,
		HeadOfServiceID:  req.HeadOfServiceID,
	})
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to create page", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to create page"})
		return
	}

	writeJSON(w, http.StatusCreated, page)
}

type updatePageReq struct {
	Title            *string `json:"title"`
	Slug             *string `json:"slug"`
	Live             *bool   `json:"live"`
	Overview         *string `json:"overview"`
	Body             *string `json:"body"`
	OfficeHours      *string `json:"office_hours"`
	IconClasses      *string `json:"icon_classes"`
	JobTitle         *string `json:"job_title"`
	MembersLabel     *string `json:"members_label"`
	ProfileImageID   *int64  `json:"profile_image_id"`
	PoliticalPartyID *int64  `json:"political_party_id"`
	HeadOfServiceID  *int64  `json:"head_of_service_id"`
}

// UpdatePage handles PATCH /admin/pages/{id}. Absent fields are left alone.
func (h *AdminHandler) UpdatePage(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid page id"})
		return
	}

	var req updatePageReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}

	page, err := h.pages.UpdatePage(r.Context(), id, services.UpdatePageInput{
		Title:            req.Title,
		Slug:             req.Slug,
		Live:             req.Live,
		Overview:         req.Overview,
		Body:             req.Body,
		OfficeHours:      req.OfficeHours,
		IconClasses:      req.IconClasses,
		JobTitle:         req.JobTitle,
		MembersLabel:     req.MembersLabel,
		ProfileImageID:   req.ProfileImageID,
		PoliticalPartyID: req.PoliticalPartyID,
		HeadOfServiceID:  req.HeadOfServiceID,
	})
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to update page", zap.Error(err), zap.Int64("page_id", id))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to update page"})
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// MovePage handles POST /admin/pages/{id}/move.
func (h *AdminHandler) MovePage(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid page id"})
		return
	}

	var req struct {
		NewParentID int64 `json:"new_parent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewParentID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string][]string{
			"new_parent_id": {"This field is required."},
		})
		return
	}

	page, err := h.pages.MovePage(r.Context(), id, req.NewParentID)
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to move page", zap.Error(err), zap.Int64("page_id", id))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to move page"})
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// DeletePage handles DELETE /admin/pages/{id}. The whole subtree goes with
// it.
func (h *AdminHandler) DeletePage(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid page id"})
		return
	}

	if err := h.pages.DeletePage(r.Context(), id); err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to delete page", zap.Error(err), zap.Int64("page_id", id))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to delete page"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetPageContacts handles PUT /admin/pages/{id}/contacts.
func (h *AdminHandler) SetPageContacts(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid page id"})
		return
	}

	var req struct {
		ContactIDs []int64 `json:"contact_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}

	if _, err := h.pages.GetPage(r.Context(), id); err != nil {
		if writeServiceError(w, err) {
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to load page"})
		return
	}

	if err := h.snippets.SetPageContacts(r.Context(), id, req.ContactIDs); err != nil {
		h.logr.Error("failed to set page contacts", zap.Error(err), zap.Int64("page_id", id))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to set page contacts"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetGroupMembers handles PUT /admin/pages/{id}/members for councillor
// groups.
func (h *AdminHandler) SetGroupMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid page id"})
		return
	}

	var req struct {
		CouncillorIDs []int64 `json:"councillor_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}

	if err := h.pages.SetGroupMembers(r.Context(), id, req.CouncillorIDs); err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to set group members", zap.Error(err), zap.Int64("page_id", id))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to set group members"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateContactType handles POST /admin/contact-types.
func (h *AdminHandler) CreateContactType(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label       string `json:"label"`
		IconClasses string `json:"icon_classes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}

	ct, err := h.snippets.CreateContactType(r.Context(), req.Label, req.IconClasses)
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to create contact type", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to create contact type"})
		return
	}
	writeJSON(w, http.StatusCreated, ct)
}

// ListContactTypes handles GET /admin/contact-types.
func (h *AdminHandler) ListContactTypes(w http.ResponseWriter, r *http.Request) {
	rows, err := h.snippets.ListContactTypes(r.Context())
	if err != nil {
		h.logr.Error("failed to list contact types", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list contact types"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "results": rows})
}

// CreateContact handles POST /admin/contacts.
func (h *AdminHandler) CreateContact(w http.ResponseWriter, r *http.Request) {
	var req services.ContactInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}

	cd, err := h.snippets.CreateContact(r.Context(), req)
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to create contact", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to create contact"})
		return
	}
	writeJSON(w, http.StatusCreated, cd)
}

// UpdateContact handles PUT /admin/contacts/{id}.
func (h *AdminHandler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid contact id"})
		return
	}

	var req services.ContactInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}

	cd, err := h.snippets.UpdateContact(r.Context(), id, req)
	if err != nil {
		if writeSnippetError(w, err) || writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to update contact", zap.Error(err), zap.Int64("contact_id", id))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to update contact"})
		return
	}
	writeJSON(w, http.StatusOK, cd)
}

// DeleteContact handles DELETE /admin/contacts/{id}.
func (h *AdminHandler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid contact id"})
		return
	}

	if err := h.snippets.DeleteContact(r.Context(), id); err != nil {
		if writeSnippetError(w, err) {
			return
		}
		h.logr.Error("failed to delete contact", zap.Error(err), zap.Int64("contact_id", id))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to delete contact"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListContacts handles GET /admin/contacts.
func (h *AdminHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	rows, err := h.snippets.ListContacts(r.Context())
	if err != nil {
		h.logr.Error("failed to list contacts", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list contacts"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "results": rows})
}

// CreateParty handles POST /admin/parties.
func (h *AdminHandler) CreateParty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string `json:"name"`
		Abbreviation string `json:"abbreviation"`
		LogoImageID  *int64 `json:"logo_image_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}

	party, err := h.snippets.CreateParty(r.Context(), req.Name, req.Abbreviation, req.LogoImageID)
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to create party", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to create party"})
		return
	}
	writeJSON(w, http.StatusCreated, party)
}

// ListParties handles GET /admin/parties.
func (h *AdminHandler) ListParties(w http.ResponseWriter, r *http.Request) {
	rows, err := h.snippets.ListParties(r.Context())
	if err != nil {
		h.logr.Error("failed to list parties", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list parties"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "results": rows})
}

// UploadImage handles POST /admin/images as multipart form data with a
// "file" part and optional "title" field.
func (h *AdminHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAttachmentMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid multipart body"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string][]string{
			"file": {"This field is required."},
		})
		return
	}
	defer file.Close()

	img, err := h.snippets.UploadImage(r.Context(), header.Filename, r.FormValue("title"), file)
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to upload image", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to upload image"})
		return
	}
	writeJSON(w, http.StatusCreated, img)
}

// ListImages handles GET /admin/images.
func (h *AdminHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	rows, err := h.snippets.ListImages(r.Context())
	if err != nil {
		h.logr.Error("failed to list images", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list images"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "results": rows})
}

// ListWebhooks handles GET /admin/webhooks.
func (h *AdminHandler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	rows, err := h.webhooks.List(r.Context())
	if err != nil {
		h.logr.Error("failed to list webhooks", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list webhooks"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "results": rows})
}

// ListSubscriptions handles GET /admin/webpush/subscriptions.
func (h *AdminHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.webpush.ListSubscriptions(r.Context())
	if err != nil {
		h.logr.Error("failed to list subscriptions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list subscriptions"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "results": rows})
}

// CreateNotification handles POST /admin/webpush/notifications. The
// notification is stored PENDING; delivery starts when send=true or via the
// send endpoint.
func (h *AdminHandler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		URL   string `json:"url"`
		Send  bool   `json:"send"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}

	n, err := h.webpush.CreateNotification(r.Context(), req.Title, req.Body, req.URL)
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to create notification", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to create notification"})
		return
	}

	if req.Send {
		if err := h.webpush.SendNotification(r.Context(), n.ID); err != nil {
			h.logr.Error("failed to queue notification", zap.Error(err), zap.Int64("notification_id", n.ID))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to queue notification"})
			return
		}
	}

	writeJSON(w, http.StatusCreated, n)
}

// SendNotification handles POST /admin/webpush/notifications/{id}/send.
func (h *AdminHandler) SendNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid notification id"})
		return
	}

	if err := h.webpush.SendNotification(r.Context(), id); err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logr.Error("failed to queue notification", zap.Error(err), zap.Int64("notification_id", id))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to queue notification"})
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// ListNotifications handles GET /admin/webpush/notifications.
func (h *AdminHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	rows, err := h.webpush.ListNotifications(r.Context())
	if err != nil {
		h.logr.Error("failed to list notifications", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list notifications"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "results": rows})
}

// ListNotificationResults handles GET /admin/webpush/notifications/{id}/results.
func (h *AdminHandler) ListNotificationResults(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid notification id"})
		return
	}

	rows, err := h.webpush.ListResults(r.Context(), id)
	if err != nil {
		h.logr.Error("failed to list notification results", zap.Error(err), zap.Int64("notification_id", id))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list notification results"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "results": rows})
}
