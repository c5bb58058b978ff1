package collaborator

// FormField is one positional form field of the Collaborator Web API task
// template. Field identifiers are fixed by the remote template definition.
type FormField struct {
	FieldID    string `json:"FieldID"`
	FieldValue string `json:"FieldValue"`
}

// Service request template field identifiers (template object id 9).
const (
	FieldType             = "F1"
	FieldUserName         = "F2"
	FieldUserSurname      = "F3"
	FieldUserMobileNumber = "F4"
	FieldUserEmailAddress = "F5"
	FieldStreetName       = "F7"
	FieldStreetNumber     = "F8"
	FieldSuburb           = "F9"
	FieldDescription      = "F10"
	FieldCoordinates      = "F11"
	FieldRequestDate      = "F12"
	FieldMobileReference  = "F13"
	FieldOnPremReference  = "F14"
	FieldStatus           = "F15"
	FieldDemarcationCode  = "F20"
)

// Remote status values used to force attachment reprocessing.
const (
	StatusInitial    = "Initial"
	StatusRegistered = "Registered"
)

// TemplateID is the Collaborator template for service requests.
const TemplateID = 9

// TaskDetail is the remote system's view of a service request, decoded from
// the task's form fields.
type TaskDetail struct {
	ObjID             int64
	Type              string
	Status            string
	MobileReference   string
	OnPremisReference string
	Fields            map[string]string
}

// loginResponse, createTaskResponse and getTaskResponse mirror the remote
// payload envelopes.
type loginResponse struct {
	Data struct {
		Token string `json:"Token"`
	} `json:"Data"`
}

type createTaskResponse struct {
	Data struct {
		ObjID int64 `json:"ObjID"`
	} `json:"Data"`
}

type getTaskResponse struct {
	Data struct {
		ObjID      int64       `json:"ObjID"`
		Status     string      `json:"Status"`
		FormFields []FormField `json:"FormFields"`
	} `json:"Data"`
}
