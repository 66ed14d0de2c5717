package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/wolfman30/clinic-voice-platform/internal/backend"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

const (
	propPatientPhone = "patientPhone"
	propPatientName  = "patientName"
	propPatientID    = "patientId"
	propApptType     = "appointmentType"
	propProviderID   = "providerId"

	maxSlots = 12
)

// Adapter implements scheduling on a single calendar. Calendars hold no
// patient records, so record operations report Unsupported.
type Adapter struct {
	svc    *gcal.Service
	conn   *Connection
	logger *logging.Logger
	now    func() time.Time
}

func newAdapter(svc *gcal.Service, conn *Connection, logger *logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Adapter{svc: svc, conn: conn, logger: logger, now: time.Now}
}

var _ backend.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return "calendar" }

func (a *Adapter) SearchPatients(context.Context, backend.PatientSearchQuery) ([]backend.Patient, error) {
	return nil, backend.Unsupported("calendar.search_patients")
}

func (a *Adapter) GetPatient(context.Context, string) (*backend.Patient, error) {
	return nil, backend.Unsupported("calendar.get_patient")
}

func (a *Adapter) CreatePatient(context.Context, backend.Patient) (*backend.Patient, error) {
	return nil, backend.Unsupported("calendar.create_patient")
}

func (a *Adapter) UpdatePatient(context.Context, string, backend.PatientUpdate) (*backend.Patient, error) {
	return nil, backend.Unsupported("calendar.update_patient")
}

func (a *Adapter) AddPatientNote(context.Context, string, string) (*backend.Note, error) {
	return nil, backend.Unsupported("calendar.add_patient_note")
}

func (a *Adapter) GetPatientInsurance(context.Context, string) ([]backend.Insurance, error) {
	return nil, backend.Unsupported("calendar.get_patient_insurance")
}

func (a *Adapter) GetPatientBalance(context.Context, string) (*backend.Balance, error) {
	return nil, backend.Unsupported("calendar.get_patient_balance")
}

func (a *Adapter) GetProviders(context.Context) ([]backend.Provider, error) {
	return nil, backend.Unsupported("calendar.get_providers")
}

func (a *Adapter) eventsPath() string {
	return "/calendars/" + a.conn.CalendarID + "/events"
}

// record notes the call on the trace and converts API errors.
func (a *Adapter) record(ctx context.Context, op, method, endpoint string, err error) error {
	if err == nil {
		status := http.StatusOK
		if method == http.MethodDelete {
			status = http.StatusNoContent
		}
		backend.Record(ctx, method, endpoint, status)
		return nil
	}
	converted := convertError(op, err)
	backend.Record(ctx, method, endpoint, backend.StatusOf(converted))
	return converted
}

func convertError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		status := gerr.Code
		if status == http.StatusGone {
			status = http.StatusNotFound
		}
		msg := gerr.Message
		if msg == "" {
			msg = http.StatusText(gerr.Code)
		}
		be := backend.FromStatus(op, status, msg)
		be.Err = err
		return be
	}
	return backend.Wrap(op, err)
}

// CheckAvailability returns free slots inside the workday window.
func (a *Adapter) CheckAvailability(ctx context.Context, req backend.AvailabilityRequest) ([]backend.Slot, error) {
	const op = "calendar.check_availability"
	loc := a.conn.Location()
	start, end := req.StartDate, req.EndDate
	if start.IsZero() {
		start = a.now()
	}
	if end.IsZero() || !end.After(start) {
		end = start.Add(7 * 24 * time.Hour)
	}

	busy, err := a.busyPeriods(ctx, op, start, end)
	if err != nil {
		return nil, err
	}

	duration := a.conn.Duration(req.DurationMins)
	openMin, closeMin := a.workday()
	var slots []backend.Slot
	for day := truncateDay(start.In(loc)); day.Before(end) && len(slots) < maxSlots; day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		dayOpen := day.Add(time.Duration(openMin) * time.Minute)
		dayClose := day.Add(time.Duration(closeMin) * time.Minute)
		for slotStart := dayOpen; !slotStart.Add(duration).After(dayClose) && len(slots) < maxSlots; slotStart = slotStart.Add(duration) {
			slotEnd := slotStart.Add(duration)
			if slotStart.Before(start) || slotEnd.After(end) {
				continue
			}
			if overlapsAny(slotStart, slotEnd, busy) {
				continue
			}
			slots = append(slots, backend.Slot{StartTime: slotStart, EndTime: slotEnd, ProviderID: req.ProviderID})
		}
	}
	return slots, nil
}

type period struct{ start, end time.Time }

func (a *Adapter) busyPeriods(ctx context.Context, op string, start, end time.Time) ([]period, error) {
	fbReq := &gcal.FreeBusyRequest{
		TimeMin:  start.Format(time.RFC3339),
		TimeMax:  end.Format(time.RFC3339),
		TimeZone: a.conn.Location().String(),
		Items:    []*gcal.FreeBusyRequestItem{{Id: a.conn.CalendarID}},
	}
	resp, err := a.svc.Freebusy.Query(fbReq).Context(ctx).Do()
	if err := a.record(ctx, op, http.MethodPost, "/freeBusy", err); err != nil {
		return nil, err
	}

	var busy []period
	if cal, ok := resp.Calendars[a.conn.CalendarID]; ok {
		for _, tp := range cal.Busy {
			s, err1 := time.Parse(time.RFC3339, tp.Start)
			e, err2 := time.Parse(time.RFC3339, tp.End)
			if err1 != nil || err2 != nil {
				continue
			}
			busy = append(busy, period{start: s, end: e})
		}
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].start.Before(busy[j].start) })
	return busy, nil
}

// BookAppointment creates an event after confirming the time is free.
func (a *Adapter) BookAppointment(ctx context.Context, req backend.AppointmentRequest) (*backend.Appointment, error) {
	const op = "calendar.book_appointment"
	if req.StartTime.IsZero() {
		return nil, backend.NewError(backend.KindValidation, op, "start time is required")
	}
	if req.PatientName == "" && req.PatientPhone == "" {
		return nil, backend.NewError(backend.KindValidation, op, "patient name or phone is required")
	}
	end := req.StartTime.Add(a.conn.Duration(req.DurationMins))

	busy, err := a.busyPeriods(ctx, op, req.StartTime, end)
	if err != nil {
		return nil, err
	}
	if overlapsAny(req.StartTime, end, busy) {
		return nil, &backend.Error{Kind: backend.KindConflict, Op: op, Status: http.StatusConflict, Message: "requested time is not available"}
	}

	tz := a.conn.Location().String()
	event := &gcal.Event{
		Summary:     eventSummary(req),
		Description: req.Notes,
		Start:       &gcal.EventDateTime{DateTime: req.StartTime.Format(time.RFC3339), TimeZone: tz},
		End:         &gcal.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: tz},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: compactProps(map[string]string{
				propPatientPhone: req.PatientPhone,
				propPatientName:  req.PatientName,
				propPatientID:    req.PatientID,
				propApptType:     req.AppointmentType,
				propProviderID:   req.ProviderID,
			}),
		},
	}

	created, err := a.svc.Events.Insert(a.conn.CalendarID, event).Context(ctx).Do()
	if err := a.record(ctx, op, http.MethodPost, a.eventsPath(), err); err != nil {
		return nil, err
	}
	appt := toAppointment(created)
	return &appt, nil
}

// RescheduleAppointment moves an event, keeping its length unless a new one is given.
func (a *Adapter) RescheduleAppointment(ctx context.Context, appointmentID string, start time.Time, durationMins int) (*backend.Appointment, error) {
	const op = "calendar.reschedule_appointment"
	if appointmentID == "" || start.IsZero() {
		return nil, backend.NewError(backend.KindValidation, op, "appointment id and new time are required")
	}
	path := a.eventsPath() + "/" + appointmentID

	existing, err := a.svc.Events.Get(a.conn.CalendarID, appointmentID).Context(ctx).Do()
	if err := a.record(ctx, op, http.MethodGet, path, err); err != nil {
		return nil, err
	}

	length := a.conn.Duration(durationMins)
	if durationMins <= 0 {
		if current := toAppointment(existing); current.EndTime.After(current.StartTime) {
			length = current.EndTime.Sub(current.StartTime)
		}
	}
	end := start.Add(length)

	busy, err := a.busyPeriods(ctx, op, start, end)
	if err != nil {
		return nil, err
	}
	if overlapsOther(start, end, busy, existing) {
		return nil, &backend.Error{Kind: backend.KindConflict, Op: op, Status: http.StatusConflict, Message: "requested time is not available"}
	}

	tz := a.conn.Location().String()
	patch := &gcal.Event{
		Start: &gcal.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: tz},
		End:   &gcal.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: tz},
	}
	updated, err := a.svc.Events.Patch(a.conn.CalendarID, appointmentID, patch).Context(ctx).Do()
	if err := a.record(ctx, op, http.MethodPatch, path, err); err != nil {
		return nil, err
	}
	appt := toAppointment(updated)
	return &appt, nil
}

// CancelAppointment deletes the event.
func (a *Adapter) CancelAppointment(ctx context.Context, appointmentID, reason string) error {
	const op = "calendar.cancel_appointment"
	if appointmentID == "" {
		return backend.NewError(backend.KindValidation, op, "appointment id is required")
	}
	err := a.svc.Events.Delete(a.conn.CalendarID, appointmentID).Context(ctx).Do()
	if err := a.record(ctx, op, http.MethodDelete, a.eventsPath()+"/"+appointmentID, err); err != nil {
		return err
	}
	a.logger.Info("calendar appointment cancelled", "org_id", a.conn.OrgID, "event_id", appointmentID, "reason", reason)
	return nil
}

// GetAppointments lists upcoming events tagged with the caller's phone or patient id.
func (a *Adapter) GetAppointments(ctx context.Context, q backend.AppointmentQuery) ([]backend.Appointment, error) {
	const op = "calendar.get_appointments"
	var filter string
	switch {
	case q.PatientPhone != "":
		filter = propPatientPhone + "=" + q.PatientPhone
	case q.PatientID != "":
		filter = propPatientID + "=" + q.PatientID
	default:
		return nil, backend.NewError(backend.KindValidation, op, "patient phone or id is required")
	}

	from := q.From
	if from.IsZero() {
		from = a.now()
	}
	call := a.svc.Events.List(a.conn.CalendarID).
		PrivateExtendedProperty(filter).
		TimeMin(from.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(25)
	if !q.To.IsZero() {
		call = call.TimeMax(q.To.Format(time.RFC3339))
	}

	events, err := call.Context(ctx).Do()
	if err := a.record(ctx, op, http.MethodGet, a.eventsPath(), err); err != nil {
		return nil, err
	}
	out := make([]backend.Appointment, 0, len(events.Items))
	for _, ev := range events.Items {
		if ev.Status == "cancelled" {
			continue
		}
		out = append(out, toAppointment(ev))
	}
	return out, nil
}

func (a *Adapter) workday() (openMin, closeMin int) {
	openMin, closeMin = 9*60, 17*60
	if m, ok := clockMinutes(a.conn.WorkdayStart); ok {
		openMin = m
	}
	if m, ok := clockMinutes(a.conn.WorkdayEnd); ok && m > openMin {
		closeMin = m
	}
	return openMin, closeMin
}

func clockMinutes(value string) (int, bool) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func overlapsAny(start, end time.Time, busy []period) bool {
	for _, p := range busy {
		if start.Before(p.end) && p.start.Before(end) {
			return true
		}
	}
	return false
}

// overlapsOther ignores the busy block belonging to the event being moved.
func overlapsOther(start, end time.Time, busy []period, self *gcal.Event) bool {
	current := toAppointment(self)
	for _, p := range busy {
		if p.start.Equal(current.StartTime) && p.end.Equal(current.EndTime) {
			continue
		}
		if start.Before(p.end) && p.start.Before(end) {
			return true
		}
	}
	return false
}

func eventSummary(req backend.AppointmentRequest) string {
	kind := strings.TrimSpace(req.AppointmentType)
	if kind == "" {
		kind = "Appointment"
	}
	if req.PatientName != "" {
		return fmt.Sprintf("%s - %s", kind, req.PatientName)
	}
	return kind
}

func compactProps(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func parseEventTime(dt *gcal.EventDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t
		}
	}
	if dt.Date != "" {
		if t, err := time.Parse("2006-01-02", dt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}

func toAppointment(ev *gcal.Event) backend.Appointment {
	if ev == nil {
		return backend.Appointment{}
	}
	var props map[string]string
	if ev.ExtendedProperties != nil {
		props = ev.ExtendedProperties.Private
	}
	status := ev.Status
	if status == "" || status == "confirmed" {
		status = "booked"
	}
	return backend.Appointment{
		ID:              ev.Id,
		PatientID:       props[propPatientID],
		PatientName:     props[propPatientName],
		ProviderID:      props[propProviderID],
		AppointmentType: props[propApptType],
		StartTime:       parseEventTime(ev.Start),
		EndTime:         parseEventTime(ev.End),
		Status:          status,
		Notes:           ev.Description,
	}
}
