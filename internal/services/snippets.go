package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"muni-portal/internal/models"
	"muni-portal/internal/storage"

	"github.com/uptrace/bun"
)

var (
	ErrSnippetNotFound = errors.New("snippet not found")
	ErrSnippetInUse    = errors.New("snippet is referenced by a page")
)

// SnippetService manages the reusable content referenced by pages: contact
// details and their types, political parties and images.
type SnippetService struct {
	db    *bun.DB
	store *storage.Store
}

func NewSnippetService(db *bun.DB, store *storage.Store) *SnippetService {
	return &SnippetService{db: db, store: store}
}

func (s *SnippetService) CreateContactType(ctx context.Context, label, iconClasses string) (*models.ContactDetailType, error) {
	if label == "" {
		return nil, &ValidationError{Fields: map[string][]string{"label": {requiredMessage}}}
	}
	ct := &models.ContactDetailType{
		Label:       label,
		Slug:        Slugify(label),
		IconClasses: iconClasses,
	}
	if _, err := s.db.NewInsert().Model(ct).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert contact type: %w", err)
	}
	return ct, nil
}

func (s *SnippetService) ListContactTypes(ctx context.Context) ([]*models.ContactDetailType, error) {
	var rows []*models.ContactDetailType
	err := s.db.NewSelect().Model(&rows).Order("cdt.label ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list contact types: %w", err)
	}
	return rows, nil
}

type ContactInput struct {
	TypeID     int64   `json:"type_id"`
	Value      string  `json:"value"`
	Annotation *string `json:"annotation"`
	Purpose    string  `json:"purpose"`
}

func (in *ContactInput) validate() error {
	fields := map[string][]string{}
	if in.TypeID == 0 {
		fields["type_id"] = append(fields["type_id"], requiredMessage)
	}
	if in.Value == "" {
		fields["value"] = append(fields["value"], requiredMessage)
	}
	if in.Purpose == "" {
		fields["purpose"] = append(fields["purpose"], requiredMessage)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func (s *SnippetService) CreateContact(ctx context.Context, in ContactInput) (*models.ContactDetail, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	cd := &models.ContactDetail{
		TypeID:     in.TypeID,
		Value:      in.Value,
		Annotation: in.Annotation,
		Purpose:    in.Purpose,
	}
	if _, err := s.db.NewInsert().Model(cd).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert contact: %w", err)
	}
	return cd, nil
}

func (s *SnippetService) UpdateContact(ctx context.Context, id int64, in ContactInput) (*models.ContactDetail, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	cd := new(models.ContactDetail)
	err := s.db.NewSelect().Model(cd).Where("cd.id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnippetNotFound
		}
		return nil, fmt.Errorf("load contact: %w", err)
	}
	cd.TypeID = in.TypeID
	cd.Value = in.Value
	cd.Annotation = in.Annotation
	cd.Purpose = in.Purpose
	if _, err := s.db.NewUpdate().Model(cd).WherePK().Exec(ctx); err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	return cd, nil
}

// DeleteContact refuses to remove a contact still attached to pages.
func (s *SnippetService) DeleteContact(ctx context.Context, id int64) error {
	used, err := s.db.NewSelect().
		Model((*models.PageContact)(nil)).
		Where("contact_id = ?", id).
		Exists(ctx)
	if err != nil {
		return err
	}
	if used {
		return ErrSnippetInUse
	}
	res, err := s.db.NewDelete().
		Model((*models.ContactDetail)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSnippetNotFound
	}
	return nil
}

func (s *SnippetService) ListContacts(ctx context.Context) ([]*models.ContactDetail, error) {
	var rows []*models.ContactDetail
	err := s.db.NewSelect().
		Model(&rows).
		Relation("Type").
		Order("cd.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return rows, nil
}

// SetPageContacts replaces a page's contact list with the given contact ids,
// preserving the given order.
func (s *SnippetService) SetPageContacts(ctx context.Context, pageID int64, contactIDs []int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*models.PageContact)(nil)).
			Where("page_id = ?", pageID).
			Exec(ctx)
		if err != nil {
			return err
		}
		for i, contactID := range contactIDs {
			pc := &models.PageContact{
				PageID:    pageID,
				ContactID: contactID,
				SortOrder: i,
			}
			if _, err := tx.NewInsert().Model(pc).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SnippetService) CreateParty(ctx context.Context, name, abbreviation string, logoImageID *int64) (*models.PoliticalParty, error) {
	fields := map[string][]string{}
	if name == "" {
		fields["name"] = append(fields["name"], requiredMessage)
	}
	if abbreviation == "" {
		fields["abbreviation"] = append(fields["abbreviation"], requiredMessage)
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	party := &models.PoliticalParty{
		Name:         name,
		Abbreviation: abbreviation,
		LogoImageID:  logoImageID,
	}
	if _, err := s.db.NewInsert().Model(party).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert party: %w", err)
	}
	return party, nil
}

func (s *SnippetService) ListParties(ctx context.Context) ([]*models.PoliticalParty, error) {
	var rows []*models.PoliticalParty
	err := s.db.NewSelect().
		Model(&rows).
		Relation("LogoImage").
		Order("pp.name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list parties: %w", err)
	}
	return rows, nil
}

// UploadImage stores the file and records its decoded dimensions. Title
// doubles as alt text and defaults to the filename.
func (s *SnippetService) UploadImage(ctx context.Context, filename, title string, r io.Reader) (*models.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &ValidationError{Fields: map[string][]string{
			"file": {"Unsupported or corrupt image file."},
		}}
	}

	path, err := s.store.Save("images", filename, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	if title == "" {
		title = filename
	}
	img := &models.Image{
		File:   path,
		Width:  cfg.Width,
		Height: cfg.Height,
		Title:  title,
	}
	if _, err := s.db.NewInsert().Model(img).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert image: %w", err)
	}
	return img, nil
}

func (s *SnippetService) ListImages(ctx context.Context) ([]*models.Image, error) {
	var rows []*models.Image
	err := s.db.NewSelect().Model(&rows).Order("img.id ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return rows, nil
}
