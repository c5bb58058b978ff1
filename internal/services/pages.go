package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"muni-portal/internal/models"

	"github.com/uptrace/bun"
)

// Page tree rule violations. Handlers map these to 400/409 responses.
var (
	ErrPageNotFound      = errors.New("page not found")
	ErrChildNotAllowed   = errors.New("page type not allowed under this parent")
	ErrSingletonExceeded = errors.New("parent already holds the maximum number of pages of this type")
	ErrDuplicateSlug     = errors.New("a sibling page already uses this slug")
	ErrInvalidPageType   = errors.New("unknown page type")
	ErrRootMustBeHome    = errors.New("only a home page may be created at the root")
	ErrMoveIntoSubtree   = errors.New("cannot move a page under itself or its own subtree")
)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// PageService owns the content tree: creation rules, slugs, URL paths and
// tree traversal. The allowed-children whitelist and the per-parent limits
// are static, type-indexed sets.
type PageService struct {
	db *bun.DB
}

func NewPageService(db *bun.DB) *PageService {
	return &PageService{db: db}
}

// CreatePageInput carries the writable fields for page creation.
type CreatePageInput struct {
	ParentID         *int64
	Type             models.PageType
	Title            string
	Slug             string
	Overview         string
	Body             string
	OfficeHours      string
	IconClasses      string
	JobTitle         string
	MembersLabel     string
	ProfileImageID   *int64
	PoliticalPartyID *int64
	HeadOfServiceID  *int64
}

// CreatePage validates tree rules and inserts the page.
func (s *PageService) CreatePage(ctx context.Context, in CreatePageInput) (*models.Page, error) {
	if !in.Type.Valid() {
		return nil, ErrInvalidPageType
	}

	if in.ParentID == nil {
		if in.Type != models.PageTypeHome {
			return nil, ErrRootMustBeHome
		}
	} else {
		parent, err := s.GetPage(ctx, *in.ParentID)
		if err != nil {
			return nil, err
		}
		if err := s.checkPlacement(ctx, parent, in.Type); err != nil {
			return nil, err
		}
	}

	slug := in.Slug
	if slug == "" {
		slug = Slugify(in.Title)
	}
	taken, err := s.slugTaken(ctx, in.ParentID, slug, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrDuplicateSlug
	}

	sortOrder, err := s.nextSortOrder(ctx, in.ParentID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	page := &models.Page{
		ParentID:         in.ParentID,
		Type:             in.Type,
		Title:            in.Title,
		Slug:             slug,
		Live:             true,
		SortOrder:        sortOrder,
		Overview:         in.Overview,
		Body:             in.Body,
		OfficeHours:      in.OfficeHours,
		IconClasses:      in.IconClasses,
		JobTitle:         in.JobTitle,
		MembersLabel:     in.MembersLabel,
		ProfileImageID:   in.ProfileImageID,
		PoliticalPartyID: in.PoliticalPartyID,
		HeadOfServiceID:  in.HeadOfServiceID,
		CreatedAt:        now,
		UpdatedAt:        now,
		LastPublishedAt:  &now,
	}
	if _, err := s.db.NewInsert().Model(page).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert page: %w", err)
	}
	return page, nil
}

// UpdatePageInput carries the mutable content fields. Nil pointers leave the
// column untouched.
type UpdatePageInput struct {
	Title            *string
	Slug             *string
	Live             *bool
	Overview         *string
	Body             *string
	OfficeHours      *string
	IconClasses      *string
	JobTitle         *string
	MembersLabel     *string
	ProfileImageID   *int64
	PoliticalPartyID *int64
	HeadOfServiceID  *int64
}

func (s *PageService) UpdatePage(ctx context.Context, id int64, in UpdatePageInput) (*models.Page, error) {
	page, err := s.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		page.Title = *in.Title
	}
	if in.Slug != nil && *in.Slug != page.Slug {
		taken, err := s.slugTaken(ctx, page.ParentID, *in.Slug, page.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrDuplicateSlug
		}
		page.Slug = *in.Slug
	}
	if in.Live != nil {
		page.Live = *in.Live
	}
	if in.Overview != nil {
		page.Overview = *in.Overview
	}
	if in.Body != nil {
		page.Body = *in.Body
	}
	if in.OfficeHours != nil {
		page.OfficeHours = *in.OfficeHours
	}
	if in.IconClasses != nil {
		page.IconClasses = *in.IconClasses
	}
	if in.JobTitle != nil {
		page.JobTitle = *in.JobTitle
	}
	if in.MembersLabel != nil {
		page.MembersLabel = *in.MembersLabel
	}
	if in.ProfileImageID != nil {
		page.ProfileImageID = in.ProfileImageID
	}
	if in.PoliticalPartyID != nil {
		page.PoliticalPartyID = in.PoliticalPartyID
	}
	if in.HeadOfServiceID != nil {
		page.HeadOfServiceID = in.HeadOfServiceID
	}

	now := time.Now()
	page.UpdatedAt = now
	page.LastPublishedAt = &now

	if _, err := s.db.NewUpdate().Model(page).WherePK().Exec(ctx); err != nil {
		return nil, fmt.Errorf("update page: %w", err)
	}
	return page, nil
}

// MovePage re-parents a page, re-checking the child whitelist, singleton
// limits and sibling slug uniqueness under the new parent.
func (s *PageService) MovePage(ctx context.Context, id int64, newParentID int64) (*models.Page, error) {
	page, err := s.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}
	parent, err := s.GetPage(ctx, newParentID)
	if err != nil {
		return nil, err
	}

	// Re-parenting into the page's own subtree would close a parent cycle.
	current := parent
	for {
		if current.ID == page.ID {
			return nil, ErrMoveIntoSubtree
		}
		if current.ParentID == nil {
			break
		}
		current, err = s.GetPage(ctx, *current.ParentID)
		if err != nil {
			return nil, err
		}
	}

	if err := s.checkPlacement(ctx, parent, page.Type); err != nil {
		return nil, err
	}
	taken, err := s.slugTaken(ctx, &newParentID, page.Slug, page.ID)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrDuplicateSlug
	}

	sortOrder, err := s.nextSortOrder(ctx, &newParentID)
	if err != nil {
		return nil, err
	}

	page.ParentID = &newParentID
	page.SortOrder = sortOrder
	page.UpdatedAt = time.Now()
	if _, err := s.db.NewUpdate().Model(page).WherePK().Exec(ctx); err != nil {
		return nil, fmt.Errorf("move page: %w", err)
	}
	return page, nil
}

// DeletePage removes a page and its whole subtree.
func (s *PageService) DeletePage(ctx context.Context, id int64) error {
	children, err := s.GetChildren(ctx, id)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.DeletePage(ctx, child.ID); err != nil {
			return err
		}
	}

	res, err := s.db.NewDelete().
		Model((*models.Page)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPageNotFound
	}
	return nil
}

func (s *PageService) GetPage(ctx context.Context, id int64) (*models.Page, error) {
	page := new(models.Page)
	err := s.db.NewSelect().
		Model(page).
		Where("pg.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPageNotFound
		}
		return nil, fmt.Errorf("get page: %w", err)
	}
	return page, nil
}

// GetChildren lists a page's live children in tree order.
func (s *PageService) GetChildren(ctx context.Context, id int64) ([]*models.Page, error) {
	var children []*models.Page
	err := s.db.NewSelect().
		Model(&children).
		Where("parent_id = ?", id).
		Order("sort_order ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return children, nil
}

// GetAncestors walks parent links from the root down to the page's direct
// parent.
func (s *PageService) GetAncestors(ctx context.Context, page *models.Page) ([]*models.Page, error) {
	var ancestors []*models.Page
	current := page
	for current.ParentID != nil {
		parent, err := s.GetPage(ctx, *current.ParentID)
		if err != nil {
			return nil, err
		}
		ancestors = append([]*models.Page{parent}, ancestors...)
		current = parent
	}
	return ancestors, nil
}

// ListByType returns live pages of one type.
func (s *PageService) ListByType(ctx context.Context, t models.PageType) ([]*models.Page, error) {
	var pages []*models.Page
	err := s.db.NewSelect().
		Model(&pages).
		Where("page_type = ?", t).
		Where("live = TRUE").
		Order("sort_order ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pages by type: %w", err)
	}
	return pages, nil
}

// SetGroupMembers replaces a councillor group's membership. Every member must
// be a councillor page.
func (s *PageService) SetGroupMembers(ctx context.Context, groupID int64, councillorIDs []int64) error {
	group, err := s.GetPage(ctx, groupID)
	if err != nil {
		return err
	}
	if group.Type != models.PageTypeCouncillorGroup {
		return ErrInvalidPageType
	}
	for _, id := range councillorIDs {
		member, err := s.GetPage(ctx, id)
		if err != nil {
			return err
		}
		if member.Type != models.PageTypeCouncillor {
			return ErrInvalidPageType
		}
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*models.CouncillorGroupMember)(nil)).
			Where("group_page_id = ?", groupID).
			Exec(ctx)
		if err != nil {
			return err
		}
		for _, id := range councillorIDs {
			row := &models.CouncillorGroupMember{
				GroupPageID:  groupID,
				CouncillorID: id,
			}
			if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListLive returns every live page in tree order.
func (s *PageService) ListLive(ctx context.Context) ([]*models.Page, error) {
	var pages []*models.Page
	err := s.db.NewSelect().
		Model(&pages).
		Where("live = TRUE").
		Order("parent_id ASC NULLS FIRST", "sort_order ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list live pages: %w", err)
	}
	return pages, nil
}

// FindByPath resolves a slash-separated slug path, starting at the root home
// page. An empty path resolves to the home page itself.
func (s *PageService) FindByPath(ctx context.Context, htmlPath string) (*models.Page, error) {
	root := new(models.Page)
	err := s.db.NewSelect().
		Model(root).
		Where("parent_id IS NULL").
		Where("page_type = ?", models.PageTypeHome).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPageNotFound
		}
		return nil, fmt.Errorf("get root page: %w", err)
	}

	current := root
	for _, part := range strings.Split(strings.Trim(htmlPath, "/"), "/") {
		if part == "" {
			continue
		}
		next := new(models.Page)
		err := s.db.NewSelect().
			Model(next).
			Where("parent_id = ?", current.ID).
			Where("slug = ?", part).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrPageNotFound
			}
			return nil, fmt.Errorf("resolve path segment %q: %w", part, err)
		}
		current = next
	}
	return current, nil
}

// URLPath derives the page's URL from its ancestor slugs. The home page is
// "/".
func (s *PageService) URLPath(ctx context.Context, page *models.Page) (string, error) {
	if page.ParentID == nil {
		return "/", nil
	}
	ancestors, err := s.GetAncestors(ctx, page)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, a := range ancestors {
		if a.ParentID == nil {
			continue // root home page contributes no segment
		}
		parts = append(parts, a.Slug)
	}
	parts = append(parts, page.Slug)
	return "/" + strings.Join(parts, "/") + "/", nil
}

// checkPlacement enforces the child-type whitelist and the per-parent count
// limit.
func (s *PageService) checkPlacement(ctx context.Context, parent *models.Page, childType models.PageType) error {
	if !parent.Type.AllowsChild(childType) {
		return ErrChildNotAllowed
	}

	limit := models.MaxCountPerParent(childType)
	if limit == 0 {
		return nil
	}
	count, err := s.db.NewSelect().
		Model((*models.Page)(nil)).
		Where("parent_id = ?", parent.ID).
		Where("page_type = ?", childType).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("count sibling pages: %w", err)
	}
	if count >= limit {
		return ErrSingletonExceeded
	}
	return nil
}

func (s *PageService) slugTaken(ctx context.Context, parentID *int64, slug string, excludeID int64) (bool, error) {
	q := s.db.NewSelect().
		Model((*models.Page)(nil)).
		Where("slug = ?", slug)
	if parentID == nil {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("parent_id = ?", *parentID)
	}
	if excludeID != 0 {
		q = q.Where("id != ?", excludeID)
	}
	count, err := q.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("check sibling slugs: %w", err)
	}
	return count > 0, nil
}

func (s *PageService) nextSortOrder(ctx context.Context, parentID *int64) (int, error) {
	q := s.db.NewSelect().Model((*models.Page)(nil))
	if parentID == nil {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("parent_id = ?", *parentID)
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count siblings: %w", err)
	}
	return count, nil
}

// Slugify lowercases a title and squashes everything outside [a-z0-9] into
// single hyphens.
func Slugify(title string) string {
	slug := strings.ToLower(title)
	slug = slugPattern.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}
