package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/wolfman30/clinic-voice-platform/internal/dispatch"
	"github.com/wolfman30/clinic-voice-platform/internal/voicesession"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

// SessionEvents processes voice-AI lifecycle webhooks.
type SessionEvents interface {
	Handle(ctx context.Context, hook voicesession.Webhook) voicesession.Response
}

// HeaderAuthenticator checks the shared webhook secret.
type HeaderAuthenticator interface {
	Authenticate(headers http.Header) error
}

// VoiceSessionHandler receives the platform's server messages.
type VoiceSessionHandler struct {
	events SessionEvents
	auth   HeaderAuthenticator
	logger *logging.Logger
}

// NewVoiceSessionHandler creates a VoiceSessionHandler. Every request must
// pass auth.
func NewVoiceSessionHandler(events SessionEvents, auth HeaderAuthenticator, logger *logging.Logger) *VoiceSessionHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &VoiceSessionHandler{events: events, auth: auth, logger: logger}
}

// HandleWebhook routes one lifecycle message.
// POST /voice-session/webhook
func (h *VoiceSessionHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil || h.auth.Authenticate(r.Header) != nil {
		h.logger.Warn("voice-session: rejected webhook", "remote_ip", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: msgToolUnauthorized})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_body", Message: dispatch.GenericApology})
		return
	}
	var hook voicesession.Webhook
	if err := json.Unmarshal(body, &hook); err != nil || hook.Message.Type == "" {
		h.logger.Warn("voice-session: invalid payload", "error", err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_body", Message: dispatch.GenericApology})
		return
	}

	writeJSON(w, http.StatusOK, h.events.Handle(r.Context(), hook))
}
