package models

import (
	"time"

	"github.com/uptrace/bun"
)

// PageType discriminates the page tree nodes. Each type mirrors one of the
// portal's content screens.
type PageType string

const (
	PageTypeHome                PageType = "home"
	PageTypeServicesIndex       PageType = "services_index"
	PageTypeService             PageType = "service"
	PageTypeServicePoint        PageType = "service_point"
	PageTypeMyMuni              PageType = "my_muni"
	PageTypePoliticalRepsIndex  PageType = "political_reps_index"
	PageTypeAdministrationIndex PageType = "administration_index"
	PageTypeAdministrator       PageType = "administrator"
	PageTypeCouncillorList      PageType = "councillor_list"
	PageTypeCouncillor          PageType = "councillor"
	PageTypeCouncillorGroup     PageType = "councillor_group"
	PageTypeNoticeIndex         PageType = "notice_index"
	PageTypeNotice              PageType = "notice"
	PageTypePerson              PageType = "person"
)

// subpageTypes is the static whitelist of allowed child types per parent type.
// Types absent from the map accept no children.
var subpageTypes = map[PageType][]PageType{
	PageTypeHome:                {PageTypeServicesIndex, PageTypeMyMuni},
	PageTypeServicesIndex:       {PageTypeService},
	PageTypeService:             {PageTypeServicePoint},
	PageTypeMyMuni:              {PageTypePoliticalRepsIndex, PageTypeAdministrationIndex, PageTypeNoticeIndex},
	PageTypePoliticalRepsIndex:  {PageTypeCouncillorGroup, PageTypeCouncillorList},
	PageTypeAdministrationIndex: {PageTypeAdministrator},
	PageTypeCouncillorList:      {PageTypeCouncillor},
	PageTypeNoticeIndex:         {PageTypeNotice},
}

// maxCountPerParent limits how many pages of a type may share one parent.
// Zero means unlimited.
var maxCountPerParent = map[PageType]int{
	PageTypeServicesIndex:       1,
	PageTypeMyMuni:              1,
	PageTypePoliticalRepsIndex:  1,
	PageTypeAdministrationIndex: 1,
	PageTypeCouncillorList:      1,
}

// AllowsChild reports whether a page of type t may have a child of type child.
func (t PageType) AllowsChild(child PageType) bool {
	for _, allowed := range subpageTypes[t] {
		if allowed == child {
			return true
		}
	}
	return false
}

// MaxCountPerParent returns how many pages of type t one parent may hold,
// or 0 when unlimited.
func MaxCountPerParent(t PageType) int {
	return maxCountPerParent[t]
}

// Valid reports whether t is a known page type.
func (t PageType) Valid() bool {
	switch t {
	case PageTypeHome, PageTypeServicesIndex, PageTypeService, PageTypeServicePoint,
		PageTypeMyMuni, PageTypePoliticalRepsIndex, PageTypeAdministrationIndex,
		PageTypeAdministrator, PageTypeCouncillorList, PageTypeCouncillor,
		PageTypeCouncillorGroup, PageTypeNoticeIndex, PageTypeNotice, PageTypePerson:
		return true
	}
	return false
}

// Page is one node in the content tree. Type-specific fields are nullable
// columns unused by the other types.
type Page struct {
	bun.BaseModel `bun:"table:pages,alias:pg"`

	ID        int64    `bun:"id,pk,autoincrement" json:"id"`
	ParentID  *int64   `bun:"parent_id" json:"parent_id,omitempty"`
	Type      PageType `bun:"page_type,notnull" json:"page_type"`
	Title     string   `bun:"title,notnull" json:"title"`
	Slug      string   `bun:"slug,notnull" json:"slug"`
	Live      bool     `bun:"live,notnull,default:true" json:"live"`
	SortOrder int      `bun:"sort_order,notnull,default:0" json:"sort_order"`

	// Rich text fields, stored as markdown and rendered on read.
	Overview    string `bun:"overview,default:''" json:"overview,omitempty"`
	Body        string `bun:"body,default:''" json:"body,omitempty"`
	OfficeHours string `bun:"office_hours,default:''" json:"office_hours,omitempty"`

	IconClasses  string `bun:"icon_classes,default:''" json:"icon_classes,omitempty"`
	JobTitle     string `bun:"job_title,default:''" json:"job_title,omitempty"`
	MembersLabel string `bun:"members_label,default:''" json:"members_label,omitempty"`

	ProfileImageID   *int64 `bun:"profile_image_id" json:"profile_image_id,omitempty"`
	PoliticalPartyID *int64 `bun:"political_party_id" json:"political_party_id,omitempty"`
	HeadOfServiceID  *int64 `bun:"head_of_service_id" json:"head_of_service_id,omitempty"`

	CreatedAt       time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
	LastPublishedAt *time.Time `bun:"last_published_at" json:"last_published_at,omitempty"`

	// Relations
	Parent         *Page           `bun:"rel:belongs-to,join:parent_id=id" json:"-"`
	ProfileImage   *Image          `bun:"rel:belongs-to,join:profile_image_id=id" json:"-"`
	PoliticalParty *PoliticalParty `bun:"rel:belongs-to,join:political_party_id=id" json:"-"`
	HeadOfService  *Page           `bun:"rel:belongs-to,join:head_of_service_id=id" json:"-"`
	Contacts       []*PageContact  `bun:"rel:has-many,join:id=page_id" json:"-"`
}

// CouncillorGroupMember links a councillor page to a councillor group page.
type CouncillorGroupMember struct {
	bun.BaseModel `bun:"table:councillor_group_members,alias:cgm"`

	ID           int64 `bun:"id,pk,autoincrement" json:"id"`
	GroupPageID  int64 `bun:"group_page_id,notnull" json:"group_page_id"`
	CouncillorID int64 `bun:"councillor_page_id,notnull" json:"councillor_page_id"`

	Councillor *Page `bun:"rel:belongs-to,join:councillor_page_id=id" json:"-"`
}
