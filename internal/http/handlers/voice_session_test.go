package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-voice-platform/internal/dispatch"
	"github.com/wolfman30/clinic-voice-platform/internal/voicesession"
)

func newSessionHandler() http.Handler {
	svc := voicesession.NewService(mapResolver{
		"+15550001111": {OrgID: "org-1", AssistantID: "asst-1", Active: true},
	}, nil, nil, nil, nil)
	return http.HandlerFunc(NewVoiceSessionHandler(svc, dispatch.NewAuthenticator("s3cret", ""), nil).HandleWebhook)
}

func TestVoiceSessionAssistantRequest(t *testing.T) {
	rec := postJSON(newSessionHandler(), "/voice-session/webhook",
		`{"message":{"type":"assistant-request","phoneNumber":{"number":"+15550001111"},"call":{"id":"c1"}}}`, authed)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp voicesession.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "asst-1", resp.AssistantID)
}

func TestVoiceSessionEndOfCallAcknowledged(t *testing.T) {
	rec := postJSON(newSessionHandler(), "/voice-session/webhook",
		`{"message":{"type":"end-of-call-report","call":{"id":"c1"},"endedReason":"customer-ended-call"}}`, authed)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
}

func TestVoiceSessionRejectsUnauthenticated(t *testing.T) {
	rec := postJSON(newSessionHandler(), "/voice-session/webhook", `{"message":{"type":"status-update"}}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVoiceSessionRejectsMissingType(t *testing.T) {
	rec := postJSON(newSessionHandler(), "/voice-session/webhook", `{"message":{}}`, authed)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
