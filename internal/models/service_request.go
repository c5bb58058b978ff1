package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Local status values mirrored from the Collaborator Web API. Status is a
// free-form string owned by the remote side; these are the two values the
// portal itself writes.
const (
	ServiceRequestStatusAssigned   = "assigned"
	ServiceRequestStatusRegistered = "registered"
)

// ServiceRequest is a citizen-submitted case record mirrored to the
// Collaborator Web API (template object id 9). CollaboratorObjectID stays nil
// until the remote system assigns one.
type ServiceRequest struct {
	bun.BaseModel `bun:"table:service_requests,alias:sr"`

	ID                     int64     `bun:"id,pk,autoincrement" json:"id"`
	UserID                 uuid.UUID `bun:"user_id,type:uuid,notnull" json:"-"`
	CollaboratorObjectID   *int64    `bun:"collaborator_object_id" json:"collaborator_object_id,omitempty"`
	Type                   string    `bun:"type" json:"type"`
	UserName               string    `bun:"user_name,notnull" json:"user_name"`
	UserSurname            string    `bun:"user_surname,notnull" json:"user_surname"`
	UserMobileNumber       string    `bun:"user_mobile_number,notnull" json:"user_mobile_number"`
	UserEmailAddress       string    `bun:"user_email_address" json:"user_email_address"`
	MunicipalAccountNumber string    `bun:"municipal_account_number" json:"municipal_account_number,omitempty"`
	StreetName             string    `bun:"street_name" json:"street_name"`
	StreetNumber           string    `bun:"street_number" json:"street_number"`
	Suburb                 string    `bun:"suburb" json:"suburb"`
	Description            string    `bun:"description,notnull" json:"description"`
	Coordinates            string    `bun:"coordinates" json:"coordinates,omitempty"`
	RequestDate            time.Time `bun:"request_date,notnull" json:"request_date"`
	MobileReference        string    `bun:"mobile_reference" json:"mobile_reference,omitempty"`
	OnPremisReference      string    `bun:"on_premis_reference" json:"on_premis_reference,omitempty"`
	Status                 string    `bun:"status" json:"status,omitempty"`
	DemarcationCode        string    `bun:"demarcation_code" json:"demarcation_code,omitempty"`
	CreatedAt              time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt              time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	Attachments []*ServiceRequestAttachment `bun:"rel:has-many,join:id=service_request_id" json:"-"`
}

// ServiceRequestAttachment is a file uploaded against a service request. The
// row is created immediately on upload; ExistsOnCollaborator flips to true
// only after the remote attachment call succeeds.
type ServiceRequestAttachment struct {
	bun.BaseModel `bun:"table:service_request_attachments,alias:sra"`

	ID                   int64     `bun:"id,pk,autoincrement" json:"id"`
	ServiceRequestID     int64     `bun:"service_request_id,notnull" json:"service_request_id"`
	File                 string    `bun:"file,notnull" json:"file"`
	ContentType          string    `bun:"content_type,notnull" json:"content_type"`
	ExistsOnCollaborator bool      `bun:"exists_on_collaborator,notnull,default:false" json:"exists_on_collaborator"`
	CreatedAt            time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`

	ServiceRequest *ServiceRequest `bun:"rel:belongs-to,join:service_request_id=id" json:"-"`
}
