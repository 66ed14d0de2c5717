package pms

import (
	"math"
	"strings"
	"time"

	"github.com/wolfman30/clinic-voice-platform/internal/backend"
)

// Gateway payloads use snake_case and dollar amounts; these types convert
// them to the backend model.

type listEnvelope[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"total_count"`
}

type gatewayPatient struct {
	PatientID string `json:"patient_id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email,omitempty"`
	Cell      string `json:"cell,omitempty"`
	Birthdate string `json:"birthdate,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Address   string `json:"address_line1,omitempty"`
}

func (p gatewayPatient) toBackend() backend.Patient {
	return backend.Patient{
		ID:          p.PatientID,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Email:       p.Email,
		Phone:       p.Cell,
		DateOfBirth: p.Birthdate,
		Gender:      p.Gender,
		Address:     p.Address,
	}
}

func patientFromBackend(p backend.Patient) gatewayPatient {
	return gatewayPatient{
		FirstName: strings.TrimSpace(p.FirstName),
		LastName:  strings.TrimSpace(p.LastName),
		Email:     p.Email,
		Cell:      p.Phone,
		Birthdate: p.DateOfBirth,
		Gender:    p.Gender,
		Address:   p.Address,
	}
}

type gatewayPatientUpdate struct {
	FirstName string `json:"firstname,omitempty"`
	LastName  string `json:"lastname,omitempty"`
	Email     string `json:"email,omitempty"`
	Cell      string `json:"cell,omitempty"`
	Address   string `json:"address_line1,omitempty"`
}

type gatewaySlot struct {
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	ProviderID   string    `json:"provider_id"`
	ProviderName string    `json:"provider_name"`
}

type gatewayAppointment struct {
	AppointmentSR   string    `json:"appointment_sr_no"`
	PatientID       string    `json:"patient_id"`
	PatientName     string    `json:"patient_name,omitempty"`
	ProviderID      string    `json:"provider_id,omitempty"`
	ProviderName    string    `json:"provider_name,omitempty"`
	Type            string    `json:"type,omitempty"`
	StartTime       time.Time `json:"start_time"`
	LengthMinutes   int       `json:"length"`
	Status          string    `json:"status,omitempty"`
	Description     string    `json:"description,omitempty"`
	CancelReason    string    `json:"cancel_reason,omitempty"`
}

func (a gatewayAppointment) toBackend() backend.Appointment {
	end := a.StartTime
	if a.LengthMinutes > 0 {
		end = a.StartTime.Add(time.Duration(a.LengthMinutes) * time.Minute)
	}
	return backend.Appointment{
		ID:              a.AppointmentSR,
		PatientID:       a.PatientID,
		PatientName:     a.PatientName,
		ProviderID:      a.ProviderID,
		ProviderName:    a.ProviderName,
		AppointmentType: a.Type,
		StartTime:       a.StartTime,
		EndTime:         end,
		Status:          a.Status,
		Notes:           a.Description,
	}
}

type gatewayNote struct {
	NoteID    string    `json:"note_id"`
	PatientID string    `json:"patient_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type gatewayInsurance struct {
	CarrierName    string `json:"insurance_company_name"`
	PlanName       string `json:"plan_name,omitempty"`
	SubscriberID   string `json:"subscriber_id"`
	GroupNumber    string `json:"group_number,omitempty"`
	Primary        bool   `json:"primary"`
	SubscriberName string `json:"subscriber_name,omitempty"`
	EffectiveEnd   string `json:"effective_end_date,omitempty"`
}

func (i gatewayInsurance) toBackend() backend.Insurance {
	return backend.Insurance{
		Carrier:      i.CarrierName,
		PlanName:     i.PlanName,
		MemberID:     i.SubscriberID,
		GroupNumber:  i.GroupNumber,
		IsPrimary:    i.Primary,
		Subscriber:   i.SubscriberName,
		EffectiveEnd: i.EffectiveEnd,
	}
}

type gatewayBalance struct {
	PatientID         string  `json:"patient_id"`
	CurrentBalance    float64 `json:"current_balance"`
	Currency          string  `json:"currency,omitempty"`
	LastPaymentAmount float64 `json:"last_payment_amount,omitempty"`
	LastPaymentDate   string  `json:"last_payment_date,omitempty"`
}

func (b gatewayBalance) toBackend() backend.Balance {
	currency := b.Currency
	if currency == "" {
		currency = "USD"
	}
	return backend.Balance{
		PatientID:        b.PatientID,
		AmountCents:      toCents(b.CurrentBalance),
		Currency:         currency,
		LastPaymentCents: toCents(b.LastPaymentAmount),
		LastPaymentAt:    parseGatewayDate(b.LastPaymentDate),
	}
}

func parseGatewayDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

type gatewayProvider struct {
	ProviderID string `json:"provider_id"`
	FirstName  string `json:"firstname"`
	LastName   string `json:"lastname"`
	Specialty  string `json:"specialty,omitempty"`
}

func (p gatewayProvider) toBackend() backend.Provider {
	return backend.Provider{
		ID:        p.ProviderID,
		Name:      strings.TrimSpace(p.FirstName + " " + p.LastName),
		Specialty: p.Specialty,
	}
}

func toCents(dollars float64) int64 {
	return int64(math.Round(dollars * 100))
}
