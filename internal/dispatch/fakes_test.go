package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/clinic-voice-platform/internal/backend"
	"github.com/wolfman30/clinic-voice-platform/internal/calendar"
	"github.com/wolfman30/clinic-voice-platform/internal/clinic"
	"github.com/wolfman30/clinic-voice-platform/internal/compliance"
	"github.com/wolfman30/clinic-voice-platform/internal/credentials"
	"github.com/wolfman30/clinic-voice-platform/internal/notify"
)

type fakeResolver map[string]*clinic.Binding

func (f fakeResolver) Resolve(ctx context.Context, dialed string) (*clinic.Binding, error) {
	b, ok := f[dialed]
	if !ok || !b.Active {
		return nil, clinic.ErrBindingNotFound
	}
	return b, nil
}

// fakeAdapter is a backend whose operations are overridden per test. Any
// operation left nil reports Unsupported.
type fakeAdapter struct {
	name string

	searchPatients    func(ctx context.Context, q backend.PatientSearchQuery) ([]backend.Patient, error)
	getPatient        func(ctx context.Context, id string) (*backend.Patient, error)
	createPatient     func(ctx context.Context, p backend.Patient) (*backend.Patient, error)
	updatePatient     func(ctx context.Context, id string, u backend.PatientUpdate) (*backend.Patient, error)
	checkAvailability func(ctx context.Context, req backend.AvailabilityRequest) ([]backend.Slot, error)
	bookAppointment   func(ctx context.Context, req backend.AppointmentRequest) (*backend.Appointment, error)
	reschedule        func(ctx context.Context, id string, start time.Time, mins int) (*backend.Appointment, error)
	cancelAppointment func(ctx context.Context, id, reason string) error
	getAppointments   func(ctx context.Context, q backend.AppointmentQuery) ([]backend.Appointment, error)
	addNote           func(ctx context.Context, id, note string) (*backend.Note, error)
	getInsurance      func(ctx context.Context, id string) ([]backend.Insurance, error)
	getBalance        func(ctx context.Context, id string) (*backend.Balance, error)
	getProviders      func(ctx context.Context) ([]backend.Provider, error)

	mu    sync.Mutex
	calls int
}

var _ backend.Adapter = (*fakeAdapter)(nil)

func (f *fakeAdapter) Name() string {
	if f.name == "" {
		return "calendar"
	}
	return f.name
}

func (f *fakeAdapter) hit(ctx context.Context, endpoint string) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	backend.Record(ctx, "POST", endpoint, 200)
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAdapter) SearchPatients(ctx context.Context, q backend.PatientSearchQuery) ([]backend.Patient, error) {
	f.hit(ctx, "/patients")
	if f.searchPatients == nil {
		return nil, backend.Unsupported("SearchPatients")
	}
	return f.searchPatients(ctx, q)
}

func (f *fakeAdapter) GetPatient(ctx context.Context, id string) (*backend.Patient, error) {
	f.hit(ctx, "/patients/"+id)
	if f.getPatient == nil {
		return nil, backend.Unsupported("GetPatient")
	}
	return f.getPatient(ctx, id)
}

func (f *fakeAdapter) CreatePatient(ctx context.Context, p backend.Patient) (*backend.Patient, error) {
	f.hit(ctx, "/patients")
	if f.createPatient == nil {
		return nil, backend.Unsupported("CreatePatient")
	}
	return f.createPatient(ctx, p)
}

func (f *fakeAdapter) UpdatePatient(ctx context.Context, id string, u backend.PatientUpdate) (*backend.Patient, error) {
	f.hit(ctx, "/patients/"+id)
	if f.updatePatient == nil {
		return nil, backend.Unsupported("UpdatePatient")
	}
	return f.updatePatient(ctx, id, u)
}

func (f *fakeAdapter) CheckAvailability(ctx context.Context, req backend.AvailabilityRequest) ([]backend.Slot, error) {
	f.hit(ctx, "/freeBusy")
	if f.checkAvailability == nil {
		return nil, backend.Unsupported("CheckAvailability")
	}
	return f.checkAvailability(ctx, req)
}

func (f *fakeAdapter) BookAppointment(ctx context.Context, req backend.AppointmentRequest) (*backend.Appointment, error) {
	f.hit(ctx, "/calendars/primary/events")
	if f.bookAppointment == nil {
		return nil, backend.Unsupported("BookAppointment")
	}
	return f.bookAppointment(ctx, req)
}

func (f *fakeAdapter) RescheduleAppointment(ctx context.Context, id string, start time.Time, mins int) (*backend.Appointment, error) {
	f.hit(ctx, "/calendars/primary/events/"+id)
	if f.reschedule == nil {
		return nil, backend.Unsupported("RescheduleAppointment")
	}
	return f.reschedule(ctx, id, start, mins)
}

func (f *fakeAdapter) CancelAppointment(ctx context.Context, id, reason string) error {
	f.hit(ctx, "/calendars/primary/events/"+id)
	if f.cancelAppointment == nil {
		return backend.Unsupported("CancelAppointment")
	}
	return f.cancelAppointment(ctx, id, reason)
}

func (f *fakeAdapter) GetAppointments(ctx context.Context, q backend.AppointmentQuery) ([]backend.Appointment, error) {
	f.hit(ctx, "/calendars/primary/events")
	if f.getAppointments == nil {
		return nil, backend.Unsupported("GetAppointments")
	}
	return f.getAppointments(ctx, q)
}

func (f *fakeAdapter) AddPatientNote(ctx context.Context, id, note string) (*backend.Note, error) {
	f.hit(ctx, "/patients/"+id+"/notes")
	if f.addNote == nil {
		return nil, backend.Unsupported("AddPatientNote")
	}
	return f.addNote(ctx, id, note)
}

func (f *fakeAdapter) GetPatientInsurance(ctx context.Context, id string) ([]backend.Insurance, error) {
	f.hit(ctx, "/patients/"+id+"/insurance")
	if f.getInsurance == nil {
		return nil, backend.Unsupported("GetPatientInsurance")
	}
	return f.getInsurance(ctx, id)
}

func (f *fakeAdapter) GetPatientBalance(ctx context.Context, id string) (*backend.Balance, error) {
	f.hit(ctx, "/patients/"+id+"/balance")
	if f.getBalance == nil {
		return nil, backend.Unsupported("GetPatientBalance")
	}
	return f.getBalance(ctx, id)
}

func (f *fakeAdapter) GetProviders(ctx context.Context) ([]backend.Provider, error) {
	f.hit(ctx, "/providers")
	if f.getProviders == nil {
		return nil, backend.Unsupported("GetProviders")
	}
	return f.getProviders(ctx)
}

// staticSelector always returns the same selection.
type staticSelector struct {
	sel Selection
	err error
}

func (s staticSelector) Select(ctx context.Context, b *clinic.Binding) (Selection, error) {
	return s.sel, s.err
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []compliance.PHIAccessEntry
	err     error
}

func (r *recordingAudit) LogPHIAccess(ctx context.Context, entry compliance.PHIAccessEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.entries = append(r.entries, entry)
	return r.err
}

func (r *recordingAudit) all() []compliance.PHIAccessEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]compliance.PHIAccessEntry(nil), r.entries...)
}

type recordingMarker struct {
	mu     sync.Mutex
	marked []string
}

func (r *recordingMarker) MarkUnauthorized(ctx context.Context, integrationID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marked = append(r.marked, integrationID)
	return nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []notify.TransferAlert
	err    error
}

func (r *recordingAlerter) SendTransferAlert(ctx context.Context, alert notify.TransferAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return r.err
}

type memIntegrations map[string]*credentials.Integration

func (m memIntegrations) Get(ctx context.Context, id string) (*credentials.Integration, error) {
	integ, ok := m[id]
	if !ok {
		return nil, credentials.ErrIntegrationNotFound
	}
	cp := *integ
	return &cp, nil
}

type memConnections map[string]*calendar.Connection

func (m memConnections) Get(ctx context.Context, orgID string) (*calendar.Connection, error) {
	c, ok := m[orgID]
	if !ok {
		return nil, calendar.ErrNotConnected
	}
	return c, nil
}

type adapterFactory struct {
	adapter backend.Adapter
	err     error
}

func (f adapterFactory) ForIntegration(integ *credentials.Integration) backend.Adapter {
	return f.adapter
}

func (f adapterFactory) ForConnection(ctx context.Context, conn *calendar.Connection) (backend.Adapter, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.adapter, nil
}

var errBoom = errors.New("boom")
