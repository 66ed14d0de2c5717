package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/clinic-voice-platform/internal/admission"
	"github.com/wolfman30/clinic-voice-platform/internal/voicesession"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

// CallAdmitter decides inbound calls and dial completions.
type CallAdmitter interface {
	Admit(ctx context.Context, dialed, caller, callID string) admission.Instruction
	Complete(ctx context.Context, req admission.CompletionRequest) admission.Instruction
}

// VoicemailRecorder forwards voicemail callbacks.
type VoicemailRecorder interface {
	RecordVoicemail(ctx context.Context, kind voicesession.EventKind, vm voicesession.Voicemail) error
}

// VoiceHandler serves the carrier's TeXML webhooks.
type VoiceHandler struct {
	admitter   CallAdmitter
	voicemails VoicemailRecorder
	logger     *logging.Logger
}

// NewVoiceHandler creates a VoiceHandler. Voicemails may be nil.
func NewVoiceHandler(admitter CallAdmitter, voicemails VoicemailRecorder, logger *logging.Logger) *VoiceHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &VoiceHandler{admitter: admitter, voicemails: voicemails, logger: logger}
}

// Routes mounts the carrier webhooks.
func (h *VoiceHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/inbound", h.Inbound)
	r.Post("/complete", h.Complete)
	r.Post("/recording", h.Recording)
	r.Post("/transcription", h.Transcription)
	return r
}

// Inbound admits a new call.
// POST /voice/inbound
func (h *VoiceHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("voice: invalid inbound form", "error", err)
		writeXML(w, admission.HangupDocument)
		return
	}
	instr := h.admitter.Admit(r.Context(), r.PostForm.Get("To"), r.PostForm.Get("From"), r.PostForm.Get("CallSid"))
	h.render(w, instr, r.PostForm.Get("CallSid"))
}

// Complete handles the action callback of a Dial or Record verb.
// POST /voice/complete?leg=bridge|forward|voicemail
func (h *VoiceHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("voice: invalid completion form", "error", err)
		writeXML(w, admission.HangupDocument)
		return
	}
	instr := h.admitter.Complete(r.Context(), admission.CompletionRequest{
		Dialed:     r.PostForm.Get("To"),
		CallID:     r.PostForm.Get("CallSid"),
		DialStatus: r.PostForm.Get("DialCallStatus"),
		Leg:        r.URL.Query().Get("leg"),
	})
	h.render(w, instr, r.PostForm.Get("CallSid"))
}

// Recording receives the voicemail recording status callback.
// POST /voice/recording
func (h *VoiceHandler) Recording(w http.ResponseWriter, r *http.Request) {
	h.voicemail(w, r, voicesession.EventVoicemailRecorded)
}

// Transcription receives the voicemail transcription callback.
// POST /voice/transcription
func (h *VoiceHandler) Transcription(w http.ResponseWriter, r *http.Request) {
	h.voicemail(w, r, voicesession.EventVoicemailTranscribed)
}

func (h *VoiceHandler) voicemail(w http.ResponseWriter, r *http.Request, kind voicesession.EventKind) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if h.voicemails == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	duration, _ := strconv.ParseFloat(strings.TrimSpace(r.PostForm.Get("RecordingDuration")), 64)
	vm := voicesession.Voicemail{
		Dialed:       r.PostForm.Get("To"),
		CallID:       r.PostForm.Get("CallSid"),
		CallerNumber: r.PostForm.Get("From"),
		RecordingURL: r.PostForm.Get("RecordingUrl"),
		Transcript:   r.PostForm.Get("TranscriptionText"),
		DurationSecs: duration,
	}
	if err := h.voicemails.RecordVoicemail(r.Context(), kind, vm); err != nil {
		h.logger.Error("voice: failed to forward voicemail", "call_id", vm.CallID, "kind", kind, "error", err)
		http.Error(w, "failed to record voicemail", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *VoiceHandler) render(w http.ResponseWriter, instr admission.Instruction, callID string) {
	body, err := instr.Render()
	if err != nil {
		h.logger.Error("voice: failed to render instruction", "call_id", callID, "outcome", instr.Outcome, "error", err)
		body = admission.HangupDocument
	}
	writeXML(w, body)
}
