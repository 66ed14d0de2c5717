package pms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/wolfman30/clinic-voice-platform/internal/backend"
	"github.com/wolfman30/clinic-voice-platform/internal/credentials"
)

// Adapter serves tool calls from one clinic's gateway integration.
type Adapter struct {
	client      *Client
	integration *credentials.Integration
}

// NewAdapter binds the client to an integration's current request key.
func NewAdapter(client *Client, integration *credentials.Integration) *Adapter {
	return &Adapter{client: client, integration: integration}
}

var _ backend.Adapter = (*Adapter)(nil)

// ForIntegration returns an adapter for the integration as currently persisted.
func (c *Client) ForIntegration(integration *credentials.Integration) backend.Adapter {
	return NewAdapter(c, integration)
}

func (a *Adapter) Name() string { return "pms" }

// IntegrationID returns the integration this adapter authenticates as.
func (a *Adapter) IntegrationID() string {
	if a.integration == nil {
		return ""
	}
	return a.integration.ID
}

func (a *Adapter) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	if a.integration == nil || a.integration.RequestKey == "" {
		return &backend.Error{Kind: backend.KindUnauthorized, Op: op, Status: http.StatusUnauthorized, Message: "integration has no request key"}
	}
	return a.client.do(ctx, op, a.integration.RequestKey, method, path, query, in, out)
}

// SearchPatients finds patients by phone, email, name or birth date.
// GET /patients
func (a *Adapter) SearchPatients(ctx context.Context, q backend.PatientSearchQuery) ([]backend.Patient, error) {
	const op = "pms.search_patients"
	if q.IsEmpty() {
		return nil, backend.NewError(backend.KindValidation, op, "at least one search field is required")
	}
	params := url.Values{}
	setIf(params, "cell", q.Phone)
	setIf(params, "email", q.Email)
	setIf(params, "firstname", q.FirstName)
	setIf(params, "lastname", q.LastName)
	setIf(params, "birthdate", q.DateOfBirth)

	var resp listEnvelope[gatewayPatient]
	if err := a.do(ctx, op, http.MethodGet, "/patients", params, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]backend.Patient, 0, len(resp.Items))
	for _, p := range resp.Items {
		out = append(out, p.toBackend())
	}
	return out, nil
}

// GetPatient loads one patient.
// GET /patients/{id}
func (a *Adapter) GetPatient(ctx context.Context, patientID string) (*backend.Patient, error) {
	const op = "pms.get_patient"
	if patientID == "" {
		return nil, backend.NewError(backend.KindValidation, op, "patient id is required")
	}
	var resp gatewayPatient
	if err := a.do(ctx, op, http.MethodGet, "/patients/"+url.PathEscape(patientID), nil, nil, &resp); err != nil {
		return nil, err
	}
	p := resp.toBackend()
	return &p, nil
}

// CreatePatient registers a new patient.
// POST /patients
func (a *Adapter) CreatePatient(ctx context.Context, p backend.Patient) (*backend.Patient, error) {
	const op = "pms.create_patient"
	if p.FirstName == "" || p.LastName == "" {
		return nil, backend.NewError(backend.KindValidation, op, "first and last name are required")
	}
	var resp gatewayPatient
	if err := a.do(ctx, op, http.MethodPost, "/patients", nil, patientFromBackend(p), &resp); err != nil {
		return nil, err
	}
	created := resp.toBackend()
	return &created, nil
}

// UpdatePatient changes contact details.
// PATCH /patients/{id}
func (a *Adapter) UpdatePatient(ctx context.Context, patientID string, u backend.PatientUpdate) (*backend.Patient, error) {
	const op = "pms.update_patient"
	if patientID == "" || u.IsEmpty() {
		return nil, backend.NewError(backend.KindValidation, op, "patient id and at least one field are required")
	}
	body := gatewayPatientUpdate{
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Cell:      u.Phone,
		Address:   u.Address,
	}
	var resp gatewayPatient
	if err := a.do(ctx, op, http.MethodPatch, "/patients/"+url.PathEscape(patientID), nil, body, &resp); err != nil {
		return nil, err
	}
	updated := resp.toBackend()
	return &updated, nil
}

// CheckAvailability lists open slots.
// GET /appointments/availability
func (a *Adapter) CheckAvailability(ctx context.Context, req backend.AvailabilityRequest) ([]backend.Slot, error) {
	const op = "pms.check_availability"
	params := url.Values{}
	setIf(params, "provider_id", req.ProviderID)
	setIf(params, "appointment_type", req.AppointmentType)
	params.Set("start_date", req.StartDate.Format(time.RFC3339))
	params.Set("end_date", req.EndDate.Format(time.RFC3339))
	if req.DurationMins > 0 {
		params.Set("length", strconv.Itoa(req.DurationMins))
	}

	var resp listEnvelope[gatewaySlot]
	if err := a.do(ctx, op, http.MethodGet, "/appointments/availability", params, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]backend.Slot, 0, len(resp.Items))
	for _, s := range resp.Items {
		out = append(out, backend.Slot{
			StartTime:    s.StartTime,
			EndTime:      s.EndTime,
			ProviderID:   s.ProviderID,
			ProviderName: s.ProviderName,
		})
	}
	return out, nil
}

// BookAppointment creates an appointment.
// POST /appointments
func (a *Adapter) BookAppointment(ctx context.Context, req backend.AppointmentRequest) (*backend.Appointment, error) {
	const op = "pms.book_appointment"
	if req.PatientID == "" {
		return nil, backend.NewError(backend.KindValidation, op, "patient id is required")
	}
	if req.StartTime.IsZero() {
		return nil, backend.NewError(backend.KindValidation, op, "start time is required")
	}
	body := gatewayAppointment{
		PatientID:     req.PatientID,
		ProviderID:    req.ProviderID,
		Type:          req.AppointmentType,
		StartTime:     req.StartTime.UTC(),
		LengthMinutes: req.DurationMins,
		Description:   req.Notes,
	}
	var resp gatewayAppointment
	if err := a.do(ctx, op, http.MethodPost, "/appointments", nil, body, &resp); err != nil {
		return nil, err
	}
	appt := resp.toBackend()
	return &appt, nil
}

// RescheduleAppointment moves an appointment.
// PUT /appointments/{id}
func (a *Adapter) RescheduleAppointment(ctx context.Context, appointmentID string, start time.Time, durationMins int) (*backend.Appointment, error) {
	const op = "pms.reschedule_appointment"
	if appointmentID == "" || start.IsZero() {
		return nil, backend.NewError(backend.KindValidation, op, "appointment id and new time are required")
	}
	body := map[string]any{"start_time": start.UTC()}
	if durationMins > 0 {
		body["length"] = durationMins
	}
	var resp gatewayAppointment
	if err := a.do(ctx, op, http.MethodPut, "/appointments/"+url.PathEscape(appointmentID), nil, body, &resp); err != nil {
		return nil, err
	}
	appt := resp.toBackend()
	return &appt, nil
}

// CancelAppointment cancels an appointment.
// POST /appointments/{id}/cancel
func (a *Adapter) CancelAppointment(ctx context.Context, appointmentID, reason string) error {
	const op = "pms.cancel_appointment"
	if appointmentID == "" {
		return backend.NewError(backend.KindValidation, op, "appointment id is required")
	}
	body := map[string]string{"cancel_reason": reason}
	return a.do(ctx, op, http.MethodPost, "/appointments/"+url.PathEscape(appointmentID)+"/cancel", nil, body, nil)
}

// GetAppointments lists a patient's appointments.
// GET /appointments
func (a *Adapter) GetAppointments(ctx context.Context, q backend.AppointmentQuery) ([]backend.Appointment, error) {
	const op = "pms.get_appointments"
	if q.PatientID == "" && q.PatientPhone == "" {
		return nil, backend.NewError(backend.KindValidation, op, "patient id or phone is required")
	}
	params := url.Values{}
	setIf(params, "patient_id", q.PatientID)
	setIf(params, "cell", q.PatientPhone)
	if !q.From.IsZero() {
		params.Set("startdate", q.From.Format("2006-01-02"))
	}
	if !q.To.IsZero() {
		params.Set("enddate", q.To.Format("2006-01-02"))
	}

	var resp listEnvelope[gatewayAppointment]
	if err := a.do(ctx, op, http.MethodGet, "/appointments", params, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]backend.Appointment, 0, len(resp.Items))
	for _, appt := range resp.Items {
		out = append(out, appt.toBackend())
	}
	return out, nil
}

// AddPatientNote appends a note to the chart.
// POST /patients/{id}/notes
func (a *Adapter) AddPatientNote(ctx context.Context, patientID, note string) (*backend.Note, error) {
	const op = "pms.add_patient_note"
	if patientID == "" || note == "" {
		return nil, backend.NewError(backend.KindValidation, op, "patient id and note text are required")
	}
	var resp gatewayNote
	path := fmt.Sprintf("/patients/%s/notes", url.PathEscape(patientID))
	if err := a.do(ctx, op, http.MethodPost, path, nil, map[string]string{"text": note}, &resp); err != nil {
		return nil, err
	}
	return &backend.Note{ID: resp.NoteID, PatientID: resp.PatientID, Text: resp.Text, CreatedAt: resp.CreatedAt}, nil
}

// GetPatientInsurance lists coverage on file.
// GET /patients/{id}/insurance
func (a *Adapter) GetPatientInsurance(ctx context.Context, patientID string) ([]backend.Insurance, error) {
	const op = "pms.get_patient_insurance"
	if patientID == "" {
		return nil, backend.NewError(backend.KindValidation, op, "patient id is required")
	}
	var resp listEnvelope[gatewayInsurance]
	path := fmt.Sprintf("/patients/%s/insurance", url.PathEscape(patientID))
	if err := a.do(ctx, op, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]backend.Insurance, 0, len(resp.Items))
	for _, ins := range resp.Items {
		out = append(out, ins.toBackend())
	}
	return out, nil
}

// GetPatientBalance returns the outstanding balance.
// GET /patients/{id}/balance
func (a *Adapter) GetPatientBalance(ctx context.Context, patientID string) (*backend.Balance, error) {
	const op = "pms.get_patient_balance"
	if patientID == "" {
		return nil, backend.NewError(backend.KindValidation, op, "patient id is required")
	}
	var resp gatewayBalance
	path := fmt.Sprintf("/patients/%s/balance", url.PathEscape(patientID))
	if err := a.do(ctx, op, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	b := resp.toBackend()
	if b.PatientID == "" {
		b.PatientID = patientID
	}
	return &b, nil
}

// GetProviders lists the clinic's providers.
// GET /providers
func (a *Adapter) GetProviders(ctx context.Context) ([]backend.Provider, error) {
	const op = "pms.get_providers"
	var resp listEnvelope[gatewayProvider]
	if err := a.do(ctx, op, http.MethodGet, "/providers", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]backend.Provider, 0, len(resp.Items))
	for _, p := range resp.Items {
		out = append(out, p.toBackend())
	}
	return out, nil
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}
