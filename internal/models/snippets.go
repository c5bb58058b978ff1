package models

import (
	"github.com/uptrace/bun"
)

// ContactDetailType classifies a contact detail (phone, email, physical
// address and so on).
type ContactDetailType struct {
	bun.BaseModel `bun:"table:contact_detail_types,alias:cdt"`

	ID          int64  `bun:"id,pk,autoincrement" json:"-"`
	Label       string `bun:"label,notnull,unique" json:"label"`
	Slug        string `bun:"slug,notnull,unique" json:"slug"`
	IconClasses string `bun:"icon_classes,default:''" json:"icon_classes"`
}

// ContactDetail is a reusable contact snippet referenced by pages.
type ContactDetail struct {
	bun.BaseModel `bun:"table:contact_details,alias:cd"`

	ID     int64 `bun:"id,pk,autoincrement" json:"id"`
	TypeID int64 `bun:"type_id,notnull" json:"type_id"`
	Value  string `bun:"value,notnull" json:"value"`
	// Optional public note of what this contact is for.
	Annotation *string `bun:"annotation" json:"annotation,omitempty"`
	// Internal reminder of what this represents.
	Purpose string `bun:"purpose,notnull" json:"purpose"`

	Type *ContactDetailType `bun:"rel:belongs-to,join:type_id=id" json:"-"`
}

// PageContact is an ordered join row associating a page with a contact
// detail. Ordering is insertion-based and owned by the page.
type PageContact struct {
	bun.BaseModel `bun:"table:page_contacts,alias:pc"`

	ID        int64 `bun:"id,pk,autoincrement" json:"id"`
	PageID    int64 `bun:"page_id,notnull" json:"page_id"`
	ContactID int64 `bun:"contact_id,notnull" json:"contact_id"`
	SortOrder int   `bun:"sort_order,notnull,default:0" json:"sort_order"`

	Contact *ContactDetail `bun:"rel:belongs-to,join:contact_id=id" json:"-"`
}

// PoliticalParty is a reusable snippet referenced by councillor pages.
type PoliticalParty struct {
	bun.BaseModel `bun:"table:political_parties,alias:pp"`

	ID           int64  `bun:"id,pk,autoincrement" json:"id"`
	Name         string `bun:"name,notnull" json:"name"`
	Abbreviation string `bun:"abbreviation,notnull" json:"abbreviation"`
	LogoImageID  *int64 `bun:"logo_image_id" json:"logo_image_id,omitempty"`

	LogoImage *Image `bun:"rel:belongs-to,join:logo_image_id=id" json:"-"`
}

// Image is an uploaded media file referenced by pages and snippets.
type Image struct {
	bun.BaseModel `bun:"table:images,alias:img"`

	ID     int64  `bun:"id,pk,autoincrement" json:"id"`
	File   string `bun:"file,notnull" json:"file"`
	Width  int    `bun:"width,notnull" json:"width"`
	Height int    `bun:"height,notnull" json:"height"`
	// Title doubles as alt text in API payloads.
	Title string `bun:"title,notnull" json:"title"`
}
