// Package backend defines the operation set every scheduling/records backend
// implements, plus the shared patient and appointment types.
package backend

import (
	"context"
	"time"
)

// Adapter is implemented by the practice-management adapter and the calendar
// adapter. Dispatch selects one instance per tool call.
type Adapter interface {
	// Name identifies the backend in logs and audit rows ("pms", "calendar").
	Name() string

	SearchPatients(ctx context.Context, query PatientSearchQuery) ([]Patient, error)
	GetPatient(ctx context.Context, patientID string) (*Patient, error)
	CreatePatient(ctx context.Context, patient Patient) (*Patient, error)
	UpdatePatient(ctx context.Context, patientID string, update PatientUpdate) (*Patient, error)

	CheckAvailability(ctx context.Context, req AvailabilityRequest) ([]Slot, error)
	BookAppointment(ctx context.Context, req AppointmentRequest) (*Appointment, error)
	RescheduleAppointment(ctx context.Context, appointmentID string, start time.Time, durationMins int) (*Appointment, error)
	CancelAppointment(ctx context.Context, appointmentID, reason string) error
	GetAppointments(ctx context.Context, query AppointmentQuery) ([]Appointment, error)

	AddPatientNote(ctx context.Context, patientID, note string) (*Note, error)
	GetPatientInsurance(ctx context.Context, patientID string) ([]Insurance, error)
	GetPatientBalance(ctx context.Context, patientID string) (*Balance, error)
	GetProviders(ctx context.Context) ([]Provider, error)
}

// PatientSearchQuery represents search criteria for finding patients.
// At least one field must be provided.
type PatientSearchQuery struct {
	Phone       string
	Email       string
	FirstName   string
	LastName    string
	DateOfBirth string // YYYY-MM-DD
}

// IsEmpty reports whether no search criteria were supplied.
func (q PatientSearchQuery) IsEmpty() bool {
	return q.Phone == "" && q.Email == "" && q.FirstName == "" && q.LastName == "" && q.DateOfBirth == ""
}

// Patient represents a patient record.
type Patient struct {
	ID          string `json:"id"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Address     string `json:"address,omitempty"`
}

// FullName joins first and last name.
func (p Patient) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}

// PatientUpdate carries the fields a caller may change. Empty fields are left as-is.
type PatientUpdate struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u PatientUpdate) IsEmpty() bool {
	return u == PatientUpdate{}
}

// AvailabilityRequest represents a request for available appointment slots.
type AvailabilityRequest struct {
	ProviderID      string
	AppointmentType string
	StartDate       time.Time
	EndDate         time.Time
	DurationMins    int
}

// Slot represents an available appointment time slot.
type Slot struct {
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	ProviderID   string    `json:"providerId,omitempty"`
	ProviderName string    `json:"providerName,omitempty"`
}

// AppointmentRequest represents a request to book an appointment.
type AppointmentRequest struct {
	PatientID       string
	PatientName     string
	PatientPhone    string
	ProviderID      string
	AppointmentType string
	StartTime       time.Time
	DurationMins    int
	Notes           string
}

// Appointment represents a booked appointment.
type Appointment struct {
	ID              string    `json:"id"`
	PatientID       string    `json:"patientId,omitempty"`
	PatientName     string    `json:"patientName,omitempty"`
	ProviderID      string    `json:"providerId,omitempty"`
	ProviderName    string    `json:"providerName,omitempty"`
	AppointmentType string    `json:"appointmentType,omitempty"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	Status          string    `json:"status,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

// AppointmentQuery filters appointment lookups.
type AppointmentQuery struct {
	PatientID    string
	PatientPhone string
	From         time.Time
	To           time.Time
}

// Note is a free-text note attached to a patient chart.
type Note struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patientId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Insurance is a single coverage on file for a patient.
type Insurance struct {
	Carrier      string `json:"carrier"`
	PlanName     string `json:"planName,omitempty"`
	MemberID     string `json:"memberId,omitempty"`
	GroupNumber  string `json:"groupNumber,omitempty"`
	IsPrimary    bool   `json:"isPrimary"`
	Subscriber   string `json:"subscriber,omitempty"`
	EffectiveEnd string `json:"effectiveEnd,omitempty"`
}

// Balance is the outstanding account balance for a patient.
type Balance struct {
	PatientID        string    `json:"patientId"`
	AmountCents      int64     `json:"amountCents"`
	Currency         string    `json:"currency,omitempty"`
	LastPaymentCents int64     `json:"lastPaymentCents,omitempty"`
	LastPaymentAt    time.Time `json:"lastPaymentAt,omitempty"`
}

// Provider is a clinician who can be booked.
type Provider struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty,omitempty"`
}
