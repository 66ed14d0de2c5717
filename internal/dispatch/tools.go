package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/clinic-voice-platform/internal/backend"
	"github.com/wolfman30/clinic-voice-platform/internal/clinic"
)

// invocation is a validated tool call ready to run against an adapter.
type invocation struct {
	run   func(ctx context.Context, a backend.Adapter) (any, error)
	speak func(data any) string
}

// paramError is a caller-input problem found before any backend is touched.
// Its message is spoken as-is.
type paramError struct {
	message string
}

func (e *paramError) Error() string { return "dispatch: invalid parameters: " + e.message }

func invalid(message string) error { return &paramError{message: message} }

const maxSpokenSlots = 3

// prepare validates the envelope's parameters for tool and binds them into an
// invocation. now and loc come from the engine and the clinic binding.
func prepare(tool Tool, env Envelope, now time.Time, loc *time.Location) (*invocation, error) {
	p := params(env.Parameters)
	caller := clinic.NormalizeE164(env.CallerNumber)

	switch tool {
	case ToolSearchPatients:
		q := backend.PatientSearchQuery{
			Phone:     clinic.NormalizeE164(p.str("phone", "phoneNumber", "phone_number")),
			Email:     p.str("email"),
			FirstName: p.str("firstName", "first_name"),
			LastName:  p.str("lastName", "last_name"),
		}
		if dob := p.str("dateOfBirth", "date_of_birth", "dob"); dob != "" {
			normalized, ok := normalizeDOB(dob)
			if !ok {
				return nil, invalid("I didn't catch that date of birth. Could you say it as month, day and year?")
			}
			q.DateOfBirth = normalized
		}
		if q.IsEmpty() {
			q.Phone = caller
		}
		if q.IsEmpty() {
			return nil, invalid("To look you up I'll need your phone number, your name, or your date of birth.")
		}
		return &invocation{
			run: func(ctx context.Context, a backend.Adapter) (any, error) {
				return a.SearchPatients(ctx, q)
			},
			speak: func(data any) string {
				patients, _ := data.([]backend.Patient)
				switch len(patients) {
				case 0:
					return "I couldn't find a patient record matching that information. Would you like me to create one for you?"
				case 1:
					if patients[0].FirstName != "" {
						return fmt.Sprintf("I found your record, %s.", patients[0].FirstName)
					}
					return "I found your record."
				default:
					return fmt.Sprintf("I found %d matching records. Can you confirm your date of birth so I have the right one?", len(patients))
				}
			},
		}, nil

	case ToolGetPatientInfo:
		id := p.str("patientId", "patient_id", "id")
		if id == "" {
			return nil, invalid("I'll need to look you up first. Can I have your phone number or date of birth?")
		}
		return &invocation{
			run: func(ctx context.Context, a backend.Adapter) (any, error) {
				return a.GetPatient(ctx, id)
			},
			speak: func(data any) string {
				if pt, ok := data.(*backend.Patient); ok && pt != nil && pt.FullName() != "" {
					return fmt.Sprintf("I have your record here, %s.", pt.FullName())
				}
				return "I have your record here."
			},
		}, nil

	case ToolCreatePatient:
		pt := backend.Patient{
			FirstName: p.str("firstName", "first_name"),
			LastName:  p.str("lastName", "last_name"),
			Email:     p.str("email"),
			Phone:     clinic.NormalizeE164(p.str("phone", "phoneNumber", "phone_number")),
			Gender:    p.str("gender"),
			Address:   p.str("address"),
		}
		if pt.FirstName == "" || pt.LastName == "" {
			return nil, invalid("To set up your record I'll need your first and last name.")
		}
		if pt.Phone == "" {
			pt.Phone = caller
		}
		if dob := p.str("dateOfBirth", "date_of_birth", "dob"); dob != "" {
			normalized, ok := normalizeDOB(dob)
			if !ok {
				return nil, invalid("I didn't catch that date of birth. Could you say it as month, day and year?")
			}
			pt.DateOfBirth = normalized
		}
		return &invocation{
			run: func(ctx context.Context, a backend.Adapter) (any, error) {
				return a.CreatePatient(ctx, pt)
			},
			speak: func(any) string {
				return fmt.Sprintf("Thanks, %s. I've created your patient record.", pt.FirstName)
			},
		}, nil

	case ToolUpdatePatient:
		id := p.str("patientId", "patient_id", "id")
		if id == "" {
			return nil, invalid("I'll need to look you up first. Can I have your phone number or date of birth?")
		}
		u := backend.PatientUpdate{
			FirstName: p.str("firstName", "first_name"),
			LastName:  p.str("lastName", "last_name"),
			Email:     p.str("email"),
			Phone:     clinic.NormalizeE164(p.str("phone", "phoneNumber", "phone_number")),
			Address:   p.str("address"),
		}
		if u.IsEmpty() {
			return nil, invalid("What information would you like me to update?")
		}
		return &invocation{
			run: func(ctx context.Context, a backend.Adapter) (any, error) {
				return a.UpdatePatient(ctx, id, u)
			},
			speak: func(any) string { return "I've updated your information." },
		}, nil

	case ToolCheckAvailability:
		req := backend.AvailabilityRequest{
			ProviderID:      p.str("providerId", "provider_id"),
			AppointmentType: p.str("appointmentType", "appointment_type", "service"),
		}
		if d, ok := p.integer("durationMins", "duration_mins", "duration"); ok && d > 0 {
			req.DurationMins = d
		}
		start := now
		end := now.Add(7 * 24 * time.Hour)
		if v := p.str("date", "startDate", "start_date"); v != "" {
			day, err := parseDate(v, loc)
			if err != nil {
				return nil, invalid("I didn't catch which day you're looking for. Could you say the date again?")
			}
			end = day.AddDate(0, 0, 1)
			if day.After(start) {
				start = day
			}
		}
		if v := p.str("endDate", "end_date"); v != "" {
			day, err := parseDate(v, loc)
			if err != nil {
				return nil, invalid("I didn't catch the last day you'd like me to check. Could you say it again?")
			}
			end = day.AddDate(0, 0, 1)
		}
		if !end.After(start) {
			return nil, invalid("That day has already passed. Is there another day that works for you?")
		}
		req.StartDate, req.EndDate = start, end
		return &invocation{
			run: func(ctx context.Context, a backend.Adapter) (any, error) {
				return a.CheckAvailability(ctx, req)
			},
			speak: func(data any) string {
				slots, _ := data.([]backend.Slot)
				if len(slots) == 0 {
					return "I don't see any openings then. Would you like me to check another day?"
				}
				n := len(slots)
				if n > maxSpokenSlots {
					n = maxSpokenSlots
				}
				times := make([]string, 0, n)
				for _, s := range slots[:n] {
					times = append(times, speakTime(s.StartTime, loc))
				}
				if len(times) == 1 {
					return fmt.Sprintf("I have an opening on %s. Would that work for you?", times[0])
				}
				return fmt.Sprintf("The earliest openings I have are %s. Do any of those work for you?", joinSpoken(times))
			},
		}, nil

	case ToolBookAppointment:
		raw := p.str("startTime", "start_time", "dateTime", "datetime", "start")
		if raw == "" {
			return nil, invalid("What day and time would you like to come in?")
		}
		start, err := parseDateTime(raw, loc)
		if err != nil {
			return nil, invalid("I didn't catch that time. Could you say the day and time again?")
		}
		if start.Before(now) {
			return nil, invalid("That time has already passed. What other day and time works for you?")
		}
		req := backend.AppointmentRequest{
			PatientID:       p.str("patientId", "patient_id"),
			PatientName:     p.str("patientName", "patient_name", "name"),
			PatientPhone:    clinic.NormalizeE164(p.str("patientPhone", "patient_phone", "phone")),
			ProviderID:      p.str("providerId", "provider_id"),
			AppointmentType: p.str("appointmentType", "appointment_type", "service"),
			StartTime:       start,
			Notes:           p.str("notes", "reason"),
		}
		if req.PatientName == "" {
			req.PatientName = strings.TrimSpace(p.str("firstName", "first_name") + " " + p.str("lastName", "last_name"))
		}
		if req.PatientPhone == "" {
			req.PatientPhone = caller
		}
		if req.PatientID == "" && req.PatientName == "" {
			return nil, invalid("Can I get your name for the appointment?")
		}
		if d, ok := p.integer("durationMins", "duration_mins", "duration"); ok && d > 0 {
			req.DurationMins = d
		}
		return &invocation{
			run: func(ctx context.Context, a backend.Adapter) (any, error) {
				return a.BookAppointment(ctx, req)
			},
			speak: func(data any) string {
				at := start
				if appt, ok := data.(*backend.Appointment); ok && appt != nil && !appt.StartTime.IsZero() {
					at = appt.StartTime
				}
				return fmt.Sprintf("You're all set for %s.", speakTime(at, loc))
			},
		}, nil

	case ToolRescheduleAppointment:
		id := p.str("appointmentId", "appointment_id", "id")
		if id == "" {
			return nil, invalid("Which appointment would you like to move? I can look up your upcoming appointments.")
		}
		raw := p.str("newStartTime", "new_start_time", "startTime", "start_time", "dateTime")
		if raw == "" {
			return nil, invalid("What day and time would you like to move it to?")
		}
		start, err := parseDateTime(raw, loc)
		if err != nil {
			return nil, invalid("I didn't catch that time. Could you say the day and time again?")
		}
		if start.Before(now) {
			return nil, invalid("That time has already passed. What other day and time works for you?")
		}
		duration, _ := p.integer("durationMins", "duration_mins", "duration")
		return &invocation{
			run: func(ctx context.Context, a backend.Adapter) (any, error) {
				return a.RescheduleAppointment(ctx, id, start, duration)
			},
			speak: func(data any) string {
				at := start
				if appt, ok := data.(*backend.Appointment); ok && appt != nil && !appt.StartTime.IsZero() {
					at = appt.StartTime
				}
				return fmt.Sprintf("Your appointment has been moved to %s.", speakTime(at, loc))
			},
		}, nil

	case ToolCancelAppointment:
		id := p.str("appointmentId", "appointment_id", "id")
		if id == "" {
			return nil, invalid("Which appointment would you like to cancel? I can look up your upcoming appointments.")
		}
		reason := p.str("reason")
		return &invocation{
			run: func(ctx context.Context, a backend.Adapter) (any, error) {
				if err := a.CancelAppointment(ctx, id, reason); err != nil {
					return nil, err
				}
				return map[string]string{"appointmentId": id, "status": "cancelled"}, nil
			},
			speak: func(any) string { return "Your appointment has been cancelled." },
		}, nil

	case ToolGetAppointments:
		q := backend.AppointmentQuery{
			PatientID:    p.str("patientId", "patient_id"),
			PatientPhone: clinic.NormalizeE164(p.str("phone", "patientPhone", "patient_phone")),
			From:         now,
		}
		if q.PatientID == "" && q.PatientPhone == "" {
			q.PatientPhone = caller
		}
		if q.PatientID == "" && q.PatientPhone == "" {
			return nil, invalid("I'll need to look you up first. Can I have your phone number?")
		}
		return &invocation{
			run: func(ctx context.Context, a backend.Adapter) (any, error) {
				return a.GetAppointments(ctx, q)
			},
			speak: func(data any) string {
				appts, _ := data.([]backend.Appointment)
				switch len(appts) {
				case 0:
					return "I don't see any upcoming appointments for you."
				case 1:
					return fmt.Sprintf("Your next appointment is %s.", speakTime(appts[0].StartTime, loc))
				default:
					return fmt.Sprintf("You have %d upcoming appointments. The next one is %s.", len(appts), speakTime(appts[0].StartTime, loc))
				}
			},
		}, nil

	case ToolAddPatientNote:
		id := p.str("patientId", "patient_id")
		note := p.str("note", "text", "message")
		if id == "" {
			return nil, invalid("I'll need to look you up first. Can I have your phone number or date of birth?")
		}
		if note == "" {
			return nil, invalid("What would you like me to pass along to the office?")
		}
		return &invocation{
			run: func(ctx context.Context, a backend.Adapter) (any, error) {
				return a.AddPatientNote(ctx, id, note)
			},
			speak: func(any) string { return "I've added that note for the office." },
		}, nil

	case ToolGetPatientInsurance:
		id := p.str("patientId", "patient_id")
		if id == "" {
			return nil, invalid("I'll need to look you up first. Can I have your phone number or date of birth?")
		}
		return &invocation{
			run: func(ctx context.Context, a backend.Adapter) (any, error) {
				return a.GetPatientInsurance(ctx, id)
			},
			speak: func(data any) string {
				policies, _ := data.([]backend.Insurance)
				if len(policies) == 0 {
					return "I don't see any insurance on file for you. You're welcome to bring your card to your visit."
				}
				sorted := append([]backend.Insurance(nil), policies...)
				sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].IsPrimary && !sorted[j].IsPrimary })
				if sorted[0].Carrier == "" {
					return "I see insurance on file for you."
				}
				return fmt.Sprintf("I see %s on file as your insurance.", sorted[0].Carrier)
			},
		}, nil

	case ToolGetPatientBalance:
		id := p.str("patientId", "patient_id")
		if id == "" {
			return nil, invalid("I'll need to look you up first. Can I have your phone number or date of birth?")
		}
		return &invocation{
			run: func(ctx context.Context, a backend.Adapter) (any, error) {
				return a.GetPatientBalance(ctx, id)
			},
			speak: func(data any) string {
				bal, ok := data.(*backend.Balance)
				if !ok || bal == nil || bal.AmountCents <= 0 {
					return "You don't have an outstanding balance with us."
				}
				return fmt.Sprintf("Your current balance is %s.", formatCents(bal.AmountCents))
			},
		}, nil

	case ToolGetProviders:
		return &invocation{
			run: func(ctx context.Context, a backend.Adapter) (any, error) {
				return a.GetProviders(ctx)
			},
			speak: func(data any) string {
				providers, _ := data.([]backend.Provider)
				names := make([]string, 0, len(providers))
				for _, pr := range providers {
					if pr.Name != "" {
						names = append(names, pr.Name)
					}
				}
				if len(names) == 0 {
					return "I can book you with the first available provider."
				}
				return fmt.Sprintf("Our providers are %s.", joinSpoken(names))
			},
		}, nil

	case ToolTransferToHuman, ToolUnknown:
	}
	return nil, fmt.Errorf("dispatch: %s has no backend invocation", tool)
}

// phiFields lists the categories of patient data present in an adapter result.
func phiFields(data any) []string {
	set := map[string]bool{}
	add := func(name string, present bool) {
		if present {
			set[name] = true
		}
	}
	addPatient := func(p backend.Patient) {
		add("name", p.FirstName != "" || p.LastName != "")
		add("phone", p.Phone != "")
		add("email", p.Email != "")
		add("date_of_birth", p.DateOfBirth != "")
		add("gender", p.Gender != "")
		add("address", p.Address != "")
	}
	addAppointment := func(a backend.Appointment) {
		add("patient_id", a.PatientID != "")
		add("patient_name", a.PatientName != "")
		add("appointment_time", !a.StartTime.IsZero())
		add("appointment_type", a.AppointmentType != "")
		add("appointment_notes", a.Notes != "")
	}

	switch v := data.(type) {
	case []backend.Patient:
		for _, p := range v {
			addPatient(p)
		}
	case *backend.Patient:
		if v != nil {
			addPatient(*v)
		}
	case []backend.Appointment:
		for _, a := range v {
			addAppointment(a)
		}
	case *backend.Appointment:
		if v != nil {
			addAppointment(*v)
		}
	case *backend.Note:
		if v != nil {
			add("patient_id", v.PatientID != "")
			add("clinical_note", v.Text != "")
		}
	case []backend.Insurance:
		for _, ins := range v {
			add("insurance_carrier", ins.Carrier != "")
			add("member_id", ins.MemberID != "")
			add("group_number", ins.GroupNumber != "")
			add("subscriber", ins.Subscriber != "")
		}
	case *backend.Balance:
		if v != nil {
			add("patient_id", v.PatientID != "")
			add("account_balance", true)
		}
	}

	if len(set) == 0 {
		return nil
	}
	fields := make([]string, 0, len(set))
	for f := range set {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
