package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-voice-platform/internal/admission"
	"github.com/wolfman30/clinic-voice-platform/internal/clinic"
	"github.com/wolfman30/clinic-voice-platform/internal/voicesession"
)

type mapResolver map[string]*clinic.Binding

func (m mapResolver) Resolve(_ context.Context, dialed string) (*clinic.Binding, error) {
	if b, ok := m[clinic.NormalizeE164(dialed)]; ok {
		return b, nil
	}
	return nil, clinic.ErrBindingNotFound
}

type recordedVoicemail struct {
	kind voicesession.EventKind
	vm   voicesession.Voicemail
}

type fakeVoicemails struct {
	got []recordedVoicemail
	err error
}

func (f *fakeVoicemails) RecordVoicemail(_ context.Context, kind voicesession.EventKind, vm voicesession.Voicemail) error {
	f.got = append(f.got, recordedVoicemail{kind: kind, vm: vm})
	return f.err
}

func newVoiceHandler(t *testing.T, vms VoicemailRecorder) *VoiceHandler {
	t.Helper()
	router, err := admission.NewRouter(admission.Config{
		Bindings: mapResolver{
			"+15550001111": {
				OrgID:        "org-1",
				ClinicName:   "Maple Dental",
				DialedNumber: "+15550001111",
				AssistantID:  "asst-1",
				Availability: clinic.AvailabilityPolicy{Mode: clinic.AvailabilityAlways},
				Fallback:     clinic.FallbackPolicy{Mode: clinic.FallbackBusySignal},
				Active:       true,
			},
		},
		SIPDomain:     "sip.voice.example.com",
		PublicBaseURL: "https://voice.example.com",
	})
	require.NoError(t, err)
	return NewVoiceHandler(router, vms, nil)
}

func postForm(h http.Handler, target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestVoiceInboundBridges(t *testing.T) {
	h := newVoiceHandler(t, nil)

	rec := postForm(h.Routes(), "/inbound", url.Values{
		"CallSid": {"CA1"},
		"From":    {"+15551234567"},
		"To":      {"+15550001111"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<Sip>sip:asst-1@sip.voice.example.com?X-Assistant-Id=asst-1</Sip>")
}

func TestVoiceInboundUnboundNumber(t *testing.T) {
	h := newVoiceHandler(t, nil)

	rec := postForm(h.Routes(), "/inbound", url.Values{"CallSid": {"CA2"}, "To": {"+15559999999"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<Say")
	assert.Contains(t, body, "<Hangup>")
	assert.NotContains(t, body, "<Dial")
}

func TestVoiceCompleteRunsFallbackOnFailedBridge(t *testing.T) {
	h := newVoiceHandler(t, nil)

	rec := postForm(h.Routes(), "/complete?leg=bridge", url.Values{
		"CallSid":        {"CA1"},
		"To":             {"+15550001111"},
		"DialCallStatus": {"no-answer"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lines are busy")
}

func TestVoiceRecordingForwards(t *testing.T) {
	vms := &fakeVoicemails{}
	h := newVoiceHandler(t, vms)

	rec := postForm(h.Routes(), "/recording", url.Values{
		"CallSid":           {"CA3"},
		"To":                {"+15550001111"},
		"From":              {"+15551234567"},
		"RecordingUrl":      {"https://recordings.example.com/CA3.mp3"},
		"RecordingDuration": {"42"},
	})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, vms.got, 1)
	assert.Equal(t, voicesession.EventVoicemailRecorded, vms.got[0].kind)
	assert.Equal(t, "https://recordings.example.com/CA3.mp3", vms.got[0].vm.RecordingURL)
	assert.Equal(t, float64(42), vms.got[0].vm.DurationSecs)
}

func TestVoiceTranscriptionForwards(t *testing.T) {
	vms := &fakeVoicemails{}
	h := newVoiceHandler(t, vms)

	rec := postForm(h.Routes(), "/transcription", url.Values{
		"CallSid":           {"CA3"},
		"To":                {"+15550001111"},
		"TranscriptionText": {"Please call me back about Tuesday."},
	})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, vms.got, 1)
	assert.Equal(t, voicesession.EventVoicemailTranscribed, vms.got[0].kind)
	assert.Equal(t, "Please call me back about Tuesday.", vms.got[0].vm.Transcript)
}

func TestVoiceRecordingFailure(t *testing.T) {
	h := newVoiceHandler(t, &fakeVoicemails{err: errors.New("queue down")})

	rec := postForm(h.Routes(), "/recording", url.Values{"CallSid": {"CA3"}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestVoiceRecordingWithoutRecorder(t *testing.T) {
	h := newVoiceHandler(t, nil)

	rec := postForm(h.Routes(), "/recording", url.Values{"CallSid": {"CA3"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
