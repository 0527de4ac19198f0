package common

import (
	"strings"
	"time"
)

// Kind identifies which form a submission came from.
type Kind string

const (
	KindContact       Kind = "contact"
	KindParticipation Kind = "participation"
)

// Attendance values accepted on the participation form.
const (
	AttendancePresent = "出席"
	AttendanceAbsent  = "欠席"
)

// DefaultAttendance is preselected on a fresh participation form.
const DefaultAttendance = AttendancePresent

// Submission statuses.
const (
	StatusReceived  = "received"
	StatusPersisted = "persisted"
	StatusDuplicate = "duplicate"
)

// Wire keys shared by both encodings.
const (
	FieldName           = "name"
	FieldEmail          = "email"
	FieldPhone          = "phone"
	FieldSubject        = "subject"
	FieldMessage        = "message"
	FieldPeriod         = "period"
	FieldAttendance     = "attendance"
	FieldRemarks        = "remarks"
	FieldTimestamp      = "timestamp"
	FieldIdempotencyKey = "idempotency_key"
)

// FormSubmission is one contact or participation request. Fields that do not
// belong to Kind stay empty.
type FormSubmission struct {
	ID             string    `json:"id"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Kind           Kind      `json:"kind"`
	CreationDate   time.Time `json:"creation_date"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone,omitempty"`
	Subject        string    `json:"subject,omitempty"`
	Message        string    `json:"message,omitempty"`
	Period         string    `json:"period,omitempty"`
	Attendance     string    `json:"attendance,omitempty"`
	Remarks        string    `json:"remarks,omitempty"`
	Status         string    `json:"status,omitempty"`
}

// NewSubmission returns the empty initial form for kind.
func NewSubmission(kind Kind) FormSubmission {
	s := FormSubmission{Kind: kind}
	if kind == KindParticipation {
		s.Attendance = DefaultAttendance
	}
	return s
}

// Get returns the value stored under a wire key.
func (s *FormSubmission) Get(key string) string {
	switch key {
	case FieldName:
		return s.Name
	case FieldEmail:
		return s.Email
	case FieldPhone:
		return s.Phone
	case FieldSubject:
		return s.Subject
	case FieldMessage:
		return s.Message
	case FieldPeriod:
		return s.Period
	case FieldAttendance:
		return s.Attendance
	case FieldRemarks:
		return s.Remarks
	case FieldIdempotencyKey:
		return s.IdempotencyKey
	}
	return ""
}

// Set stores value under a wire key and reports whether the key is known.
func (s *FormSubmission) Set(key, value string) bool {
	switch key {
	case FieldName:
		s.Name = value
	case FieldEmail:
		s.Email = value
	case FieldPhone:
		s.Phone = value
	case FieldSubject:
		s.Subject = value
	case FieldMessage:
		s.Message = value
	case FieldPeriod:
		s.Period = value
	case FieldAttendance:
		s.Attendance = value
	case FieldRemarks:
		s.Remarks = value
	case FieldIdempotencyKey:
		s.IdempotencyKey = value
	default:
		return false
	}
	return true
}

// Normalize trims every text field and fills in the attendance default.
func Normalize(s *FormSubmission) {
	for _, f := range SchemaFor(s.Kind).Fields {
		s.Set(f.Key, strings.TrimSpace(s.Get(f.Key)))
	}
	s.IdempotencyKey = strings.TrimSpace(s.IdempotencyKey)
	if s.Kind == KindParticipation && s.Attendance == "" {
		s.Attendance = DefaultAttendance
	}
}

// Envelope is the uniform JSON body returned by the intake handler.
type Envelope struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Fields  []string       `json:"fields,omitempty"`
	Debug   map[string]any `json:"debug,omitempty"`
}
