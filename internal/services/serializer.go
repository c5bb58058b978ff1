package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"muni-portal/internal/models"

	"github.com/microcosm-cc/bluemonday"
	"github.com/uptrace/bun"
	"github.com/yuin/goldmark"
)

// PageSummary is the related-page shape embedded in every payload.
type PageSummary struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Slug        string  `json:"slug"`
	URL         string  `json:"url"`
	IconClasses *string `json:"icon_classes"`
}

// ImagePayload describes an uploaded image.
type ImagePayload struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Alt    string `json:"alt"`
}

// PersonSummary extends PageSummary with the person fields the list views
// show.
type PersonSummary struct {
	PageSummary
	ProfileImage          *ImagePayload `json:"profile_image"`
	ProfileImageThumbnail *ImagePayload `json:"profile_image_thumbnail"`
	JobTitle              *string       `json:"job_title"`
}

// ContactPayload flattens a page contact through its snippet.
type ContactPayload struct {
	Value      string                    `json:"value"`
	Type       *models.ContactDetailType `json:"type"`
	Annotation *string                   `json:"annotation"`
}

// PartyPayload is the political party snippet with its logo thumbnail.
type PartyPayload struct {
	Name              string        `json:"name"`
	Abbreviation      string        `json:"abbreviation"`
	LogoImage          *ImagePayload `json:"logo_image"`
	LogoImageThumbnail *ImagePayload `json:"logo_image_thumbnail"`
}

// PageSerializer computes read-only API projections from current DB state at
// request time. There is no caching layer; every call reflects the live rows.
type PageSerializer struct {
	db        *bun.DB
	pages     *PageService
	md        goldmark.Markdown
	sanitizer *bluemonday.Policy
}

func NewPageSerializer(db *bun.DB, pages *PageService) *PageSerializer {
	return &PageSerializer{
		db:        db,
		pages:     pages,
		md:        goldmark.New(),
		sanitizer: bluemonday.UGCPolicy(),
	}
}

// Serialize builds the full typed payload for one page.
func (s *PageSerializer) Serialize(ctx context.Context, page *models.Page) (map[string]any, error) {
	url, err := s.pages.URLPath(ctx, page)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"id":        page.ID,
		"page_type": page.Type,
		"title":     page.Title,
		"slug":      page.Slug,
		"url":       url,
	}

	ancestors, err := s.pages.GetAncestors(ctx, page)
	if err != nil {
		return nil, err
	}
	payload["ancestor_pages"], err = s.summaries(ctx, ancestors)
	if err != nil {
		return nil, err
	}

	children, err := s.pages.GetChildren(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	switch page.Type {
	case models.PageTypeCouncillorList, models.PageTypeAdministrationIndex:
		payload["child_pages"], err = s.personSummaries(ctx, children)
	default:
		payload["child_pages"], err = s.summaries(ctx, children)
	}
	if err != nil {
		return nil, err
	}

	switch page.Type {
	case models.PageTypeService:
		payload["icon_classes"] = page.IconClasses
		s.addRichText(payload, "overview", page.Overview)
		s.addRichText(payload, "office_hours", page.OfficeHours)
		if err := s.addHeadOfService(ctx, payload, page); err != nil {
			return nil, err
		}
		if err := s.addContacts(ctx, payload, page.ID, "service_contacts"); err != nil {
			return nil, err
		}

	case models.PageTypeServicePoint:
		s.addRichText(payload, "overview", page.Overview)
		s.addRichText(payload, "office_hours", page.OfficeHours)
		if err := s.addContacts(ctx, payload, page.ID, "service_point_contacts"); err != nil {
			return nil, err
		}

	case models.PageTypePerson, models.PageTypeAdministrator:
		if err := s.addPersonFields(ctx, payload, page); err != nil {
			return nil, err
		}

	case models.PageTypeCouncillor:
		if err := s.addPersonFields(ctx, payload, page); err != nil {
			return nil, err
		}
		if err := s.addPoliticalParty(ctx, payload, page); err != nil {
			return nil, err
		}
		if err := s.addCouncillorGroups(ctx, payload, page.ID); err != nil {
			return nil, err
		}

	case models.PageTypeCouncillorGroup:
		s.addRichText(payload, "overview", page.Overview)
		payload["icon_classes"] = page.IconClasses
		payload["members_label"] = page.MembersLabel
		if err := s.addGroupMembers(ctx, payload, page.ID); err != nil {
			return nil, err
		}

	case models.PageTypePoliticalRepsIndex, models.PageTypeCouncillorList, models.PageTypeAdministrationIndex:
		s.addRichText(payload, "overview", page.Overview)

	case models.PageTypeNotice:
		payload["body"] = page.Body
		payload["body_html"] = s.renderRichText(page.Body)
		payload["publication_date"] = page.LastPublishedAt
	}

	return payload, nil
}

// SerializeSummary builds the related-page shape for one page.
func (s *PageSerializer) SerializeSummary(ctx context.Context, page *models.Page) (PageSummary, error) {
	url, err := s.pages.URLPath(ctx, page)
	if err != nil {
		return PageSummary{}, err
	}
	summary := PageSummary{
		ID:    page.ID,
		Title: page.Title,
		Slug:  page.Slug,
		URL:   url,
	}
	if page.IconClasses != "" {
		summary.IconClasses = &page.IconClasses
	}
	return summary, nil
}

func (s *PageSerializer) summaries(ctx context.Context, pages []*models.Page) ([]PageSummary, error) {
	out := make([]PageSummary, 0, len(pages))
	for _, p := range pages {
		summary, err := s.SerializeSummary(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *PageSerializer) personSummaries(ctx context.Context, pages []*models.Page) ([]PersonSummary, error) {
	out := make([]PersonSummary, 0, len(pages))
	for _, p := range pages {
		summary, err := s.personSummary(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *PageSerializer) personSummary(ctx context.Context, page *models.Page) (PersonSummary, error) {
	base, err := s.SerializeSummary(ctx, page)
	if err != nil {
		return PersonSummary{}, err
	}
	summary := PersonSummary{PageSummary: base}
	if page.JobTitle != "" {
		summary.JobTitle = &page.JobTitle
	}
	if page.ProfileImageID != nil {
		img, err := s.image(ctx, *page.ProfileImageID)
		if err != nil {
			return PersonSummary{}, err
		}
		if img != nil {
			summary.ProfileImage = imagePayload(img)
			summary.ProfileImageThumbnail = thumbnailPayload(img)
		}
	}
	return summary, nil
}

func (s *PageSerializer) addPersonFields(ctx context.Context, payload map[string]any, page *models.Page) error {
	payload["job_title"] = page.JobTitle
	s.addRichText(payload, "overview", page.Overview)

	payload["profile_image"] = nil
	payload["profile_image_thumbnail"] = nil
	if page.ProfileImageID != nil {
		img, err := s.image(ctx, *page.ProfileImageID)
		if err != nil {
			return err
		}
		if img != nil {
			payload["profile_image"] = imagePayload(img)
			payload["profile_image_thumbnail"] = thumbnailPayload(img)
		}
	}
	return s.addContacts(ctx, payload, page.ID, "person_contacts")
}

func (s *PageSerializer) addContacts(ctx context.Context, payload map[string]any, pageID int64, key string) error {
	var rows []models.PageContact
	err := s.db.NewSelect().
		Model(&rows).
		Relation("Contact").
		Relation("Contact.Type").
		Where("pc.page_id = ?", pageID).
		Order("pc.sort_order ASC", "pc.id ASC").
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("list page contacts: %w", err)
	}

	contacts := make([]ContactPayload, 0, len(rows))
	for _, row := range rows {
		if row.Contact == nil {
			continue
		}
		contacts = append(contacts, ContactPayload{
			Value:      row.Contact.Value,
			Type:       row.Contact.Type,
			Annotation: row.Contact.Annotation,
		})
	}
	payload[key] = contacts
	return nil
}

func (s *PageSerializer) addHeadOfService(ctx context.Context, payload map[string]any, page *models.Page) error {
	payload["head_of_service"] = nil
	if page.HeadOfServiceID == nil {
		return nil
	}
	head, err := s.pages.GetPage(ctx, *page.HeadOfServiceID)
	if err != nil {
		if err == ErrPageNotFound {
			return nil
		}
		return err
	}
	summary, err := s.personSummary(ctx, head)
	if err != nil {
		return err
	}
	payload["head_of_service"] = summary
	return nil
}

func (s *PageSerializer) addPoliticalParty(ctx context.Context, payload map[string]any, page *models.Page) error {
	payload["political_party"] = nil
	if page.PoliticalPartyID == nil {
		return nil
	}

	party := new(models.PoliticalParty)
	err := s.db.NewSelect().
		Model(party).
		Relation("LogoImage").
		Where("pp.id = ?", *page.PoliticalPartyID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("load political party: %w", err)
	}

	pp := PartyPayload{
		Name:         party.Name,
		Abbreviation: party.Abbreviation,
	}
	if party.LogoImage != nil {
		pp.LogoImage = imagePayload(party.LogoImage)
		pp.LogoImageThumbnail = thumbnailPayload(party.LogoImage)
	}
	payload["political_party"] = pp
	return nil
}

func (s *PageSerializer) addCouncillorGroups(ctx context.Context, payload map[string]any, councillorID int64) error {
	var rows []models.CouncillorGroupMember
	err := s.db.NewSelect().
		Model(&rows).
		Where("councillor_page_id = ?", councillorID).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("list councillor groups: %w", err)
	}

	groups := make([]int64, 0, len(rows))
	for _, row := range rows {
		groups = append(groups, row.GroupPageID)
	}
	payload["councillor_groups"] = groups
	return nil
}

func (s *PageSerializer) addGroupMembers(ctx context.Context, payload map[string]any, groupID int64) error {
	var rows []models.CouncillorGroupMember
	err := s.db.NewSelect().
		Model(&rows).
		Relation("Councillor").
		Where("cgm.group_page_id = ?", groupID).
		Order("cgm.id ASC").
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("list group members: %w", err)
	}

	councillors := make([]PersonSummary, 0, len(rows))
	for _, row := range rows {
		if row.Councillor == nil {
			continue
		}
		summary, err := s.personSummary(ctx, row.Councillor)
		if err != nil {
			return err
		}
		councillors = append(councillors, summary)
	}
	payload["councillors"] = councillors
	payload["councillors_count"] = len(councillors)
	return nil
}

// addRichText emits the raw markdown under key and the rendered, sanitized
// HTML under key_html.
func (s *PageSerializer) addRichText(payload map[string]any, key, value string) {
	payload[key] = value
	payload[key+"_html"] = s.renderRichText(value)
}

func (s *PageSerializer) renderRichText(value string) string {
	if value == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(value), &buf); err != nil {
		// Fall back to the sanitized source rather than dropping content.
		return s.sanitizer.Sanitize(value)
	}
	return s.sanitizer.Sanitize(buf.String())
}

// image loads one image row. A dangling reference serializes as no image
// rather than failing the whole page.
func (s *PageSerializer) image(ctx context.Context, id int64) (*models.Image, error) {
	img := new(models.Image)
	err := s.db.NewSelect().
		Model(img).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load image: %w", err)
	}
	return img, nil
}

func imagePayload(img *models.Image) *ImagePayload {
	return &ImagePayload{
		URL:    "/media/" + img.File,
		Width:  img.Width,
		Height: img.Height,
		Alt:    img.Title,
	}
}

// thumbnailPayload describes a max-100x100 rendition. Dimensions are scaled
// down preserving aspect ratio; the rendition itself is served by URL.
func thumbnailPayload(img *models.Image) *ImagePayload {
	width, height := img.Width, img.Height
	if width > 100 || height > 100 {
		if width >= height {
			height = height * 100 / width
			width = 100
		} else {
			width = width * 100 / height
			height = 100
		}
	}
	return &ImagePayload{
		URL:    fmt.Sprintf("/media/images/%d/rendition?spec=max-100x100", img.ID),
		Width:  width,
		Height: height,
		Alt:    img.Title,
	}
}
