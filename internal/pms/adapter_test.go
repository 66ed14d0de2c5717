package pms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-voice-platform/internal/backend"
	"github.com/wolfman30/clinic-voice-platform/internal/credentials"
)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, nil)
	require.NoError(t, err)
	return NewAdapter(client, &credentials.Integration{ID: "int-1", Status: credentials.StatusActive, RequestKey: "req-key"})
}

func requireKey(t *testing.T, r *http.Request) {
	t.Helper()
	assert.Equal(t, "req-key", r.Header.Get("Request-Key"))
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)
}

func TestAdapter_SearchPatients(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/patients", func(w http.ResponseWriter, r *http.Request) {
		requireKey(t, r)
		assert.Equal(t, "+15550101234", r.URL.Query().Get("cell"))
		_, _ = w.Write([]byte(`{"items":[{"patient_id":"p-1","firstname":"Ana","lastname":"Ruiz","cell":"+15550101234","birthdate":"1990-04-02"}],"total_count":1}`))
	})
	adapter := newTestAdapter(t, mux)

	ctx, trace := backend.WithTrace(context.Background())
	patients, err := adapter.SearchPatients(ctx, backend.PatientSearchQuery{Phone: "+15550101234"})
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, "p-1", patients[0].ID)
	assert.Equal(t, "Ana Ruiz", patients[0].FullName())
	assert.Equal(t, "1990-04-02", patients[0].DateOfBirth)

	call, ok := trace.Last()
	require.True(t, ok)
	assert.Equal(t, http.MethodGet, call.Method)
	assert.Equal(t, "/patients", call.Endpoint)
	assert.Equal(t, http.StatusOK, call.Status)
}

func TestAdapter_SearchPatientsRequiresCriteria(t *testing.T) {
	adapter := newTestAdapter(t, http.NotFoundHandler())
	_, err := adapter.SearchPatients(context.Background(), backend.PatientSearchQuery{})
	assert.Equal(t, backend.KindValidation, backend.KindOf(err))
}

func TestAdapter_BookAppointment(t *testing.T) {
	start := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("/appointments", func(w http.ResponseWriter, r *http.Request) {
		requireKey(t, r)
		require.Equal(t, http.MethodPost, r.Method)
		var body gatewayAppointment
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "p-1", body.PatientID)
		assert.True(t, body.StartTime.Equal(start))
		body.AppointmentSR = "appt-9"
		body.Status = "booked"
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(body)
	})
	adapter := newTestAdapter(t, mux)

	appt, err := adapter.BookAppointment(context.Background(), backend.AppointmentRequest{
		PatientID:    "p-1",
		StartTime:    start,
		DurationMins: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, "appt-9", appt.ID)
	assert.True(t, appt.EndTime.Equal(start.Add(30*time.Minute)))
}

func TestAdapter_GetPatientBalanceUnknownPatient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/patients/unknown/balance", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"patient not found"}}`))
	})
	adapter := newTestAdapter(t, mux)

	ctx, trace := backend.WithTrace(context.Background())
	_, err := adapter.GetPatientBalance(ctx, "unknown")
	require.Error(t, err)
	assert.Equal(t, backend.KindNotFound, backend.KindOf(err))
	assert.Equal(t, http.StatusNotFound, backend.StatusOf(err))
	assert.Contains(t, err.Error(), "patient not found")

	call, ok := trace.Last()
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, call.Status)
}

func TestAdapter_GetPatientBalanceConvertsDollars(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/patients/p-1/balance", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"patient_id":"p-1","current_balance":125.5,"last_payment_amount":40,"last_payment_date":"2026-01-10"}`))
	})
	adapter := newTestAdapter(t, mux)

	bal, err := adapter.GetPatientBalance(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(12550), bal.AmountCents)
	assert.Equal(t, int64(4000), bal.LastPaymentCents)
	assert.Equal(t, "USD", bal.Currency)
	assert.Equal(t, 2026, bal.LastPaymentAt.Year())
}

func TestAdapter_StatusKinds(t *testing.T) {
	tests := []struct {
		status int
		kind   backend.ErrorKind
	}{
		{http.StatusUnauthorized, backend.KindUnauthorized},
		{http.StatusForbidden, backend.KindForbidden},
		{http.StatusConflict, backend.KindConflict},
		{http.StatusUnprocessableEntity, backend.KindValidation},
		{http.StatusInternalServerError, backend.KindUpstream},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			_, err := adapter.GetProviders(context.Background())
			assert.Equal(t, tt.kind, backend.KindOf(err))
		})
	}
}

func TestAdapter_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	adapter := NewAdapter(client, &credentials.Integration{ID: "int-1", RequestKey: "k"})

	_, err = adapter.GetProviders(context.Background())
	assert.Equal(t, backend.KindTimeout, backend.KindOf(err))
}

func TestAdapter_MissingRequestKey(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	adapter := NewAdapter(client, &credentials.Integration{ID: "int-1"})

	_, err = adapter.GetPatient(context.Background(), "p-1")
	assert.Equal(t, backend.KindUnauthorized, backend.KindOf(err))
}

func TestAdapter_CancelAndNotes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/appointments/appt-1/cancel", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "feeling better", body["cancel_reason"])
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/patients/p-1/notes", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"note_id":"n-1","patient_id":"p-1","text":"prefers mornings","created_at":"2026-02-01T09:00:00Z"}`))
	})
	adapter := newTestAdapter(t, mux)

	require.NoError(t, adapter.CancelAppointment(context.Background(), "appt-1", "feeling better"))

	note, err := adapter.AddPatientNote(context.Background(), "p-1", "prefers mornings")
	require.NoError(t, err)
	assert.Equal(t, "n-1", note.ID)
}

func TestAdapter_InsuranceAndProviders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/patients/p-1/insurance", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"insurance_company_name":"Delta Dental","subscriber_id":"M123","primary":true}]}`))
	})
	mux.HandleFunc("/providers", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"provider_id":"dr-1","firstname":"Maya","lastname":"Chen","specialty":"Hygiene"}]}`))
	})
	adapter := newTestAdapter(t, mux)

	ins, err := adapter.GetPatientInsurance(context.Background(), "p-1")
	require.NoError(t, err)
	require.Len(t, ins, 1)
	assert.Equal(t, "Delta Dental", ins[0].Carrier)
	assert.True(t, ins[0].IsPrimary)

	providers, err := adapter.GetProviders(context.Background())
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "Maya Chen", providers[0].Name)
}
