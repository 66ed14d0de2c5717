package voicesession

import (
	"context"
	"errors"
	"strings"

	"github.com/wolfman30/clinic-voice-platform/internal/clinic"
	"github.com/wolfman30/clinic-voice-platform/internal/observability/metrics"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

// Tracker is the active-call bookkeeping the service keeps current.
type Tracker interface {
	Start(ctx context.Context, orgID, callID string) error
	End(ctx context.Context, orgID, callID string) error
}

// Response is returned to the platform. Only assistant-request replies carry
// an assistant ID or error.
type Response struct {
	Received    bool   `json:"received,omitempty"`
	AssistantID string `json:"assistantId,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Service processes lifecycle webhooks.
type Service struct {
	bindings  clinic.Resolver
	tracker   Tracker
	publisher *Publisher
	processed *ProcessedStore
	metrics   *metrics.VoiceMetrics
	logger    *logging.Logger
}

// NewService wires a Service. Tracker and publisher may be nil.
func NewService(bindings clinic.Resolver, tracker Tracker, publisher *Publisher, m *metrics.VoiceMetrics, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		bindings:  bindings,
		tracker:   tracker,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// WithProcessedStore drops end-of-call reports that were already forwarded.
func (s *Service) WithProcessedStore(store *ProcessedStore) *Service {
	s.processed = store
	return s
}

// Handle routes a webhook by type. Failures in tracking or publishing are
// logged, never returned, so the platform does not retry a delivered event.
func (s *Service) Handle(ctx context.Context, hook Webhook) Response {
	msg := hook.Message
	s.metrics.ObserveSessionEvent(msg.Type)

	switch msg.Type {
	case TypeAssistantRequest:
		return s.assistantRequest(ctx, msg)
	case TypeStatusUpdate:
		s.statusUpdate(ctx, msg)
	case TypeEndOfCallReport:
		s.endOfCall(ctx, msg)
	default:
		s.logger.Debug("voice session event ignored", "type", msg.Type, "call_id", msg.Call.ID)
	}
	return Response{Received: true}
}

func (s *Service) assistantRequest(ctx context.Context, msg Message) Response {
	b, err := s.resolve(ctx, msg)
	if err != nil {
		return Response{Error: "This number is not configured to take calls."}
	}
	if strings.TrimSpace(b.AssistantID) == "" {
		s.logger.Warn("assistant request for clinic without assistant", "org_id", b.OrgID, "call_id", msg.Call.ID)
		return Response{Error: "This number is not configured to take calls."}
	}
	return Response{AssistantID: b.AssistantID}
}

func (s *Service) statusUpdate(ctx context.Context, msg Message) {
	if s.tracker == nil {
		return
	}
	b, err := s.resolve(ctx, msg)
	if err != nil {
		return
	}
	key := msg.CallKey()

	switch msg.Status {
	case StatusInProgress:
		if err := s.tracker.Start(ctx, b.OrgID, key); err != nil {
			s.logger.Warn("failed to track active call", "org_id", b.OrgID, "call_id", key, "error", err)
		}
	case StatusEnded:
		if err := s.tracker.End(ctx, b.OrgID, key); err != nil {
			s.logger.Warn("failed to end active call", "org_id", b.OrgID, "call_id", key, "error", err)
		}
	}
}

func (s *Service) endOfCall(ctx context.Context, msg Message) {
	var orgID string
	if b, err := s.resolve(ctx, msg); err == nil {
		orgID = b.OrgID
		if s.tracker != nil {
			if err := s.tracker.End(ctx, orgID, msg.CallKey()); err != nil {
				s.logger.Warn("failed to end active call", "org_id", orgID, "call_id", msg.CallKey(), "error", err)
			}
		}
	}

	s.logger.Info("voice session ended",
		"org_id", orgID,
		"call_id", msg.Call.ID,
		"caller", logging.MaskPhone(msg.CallerNumber()),
		"ended_reason", msg.EndedReason,
		"duration_seconds", msg.DurationSecs,
	)

	if s.processed != nil && msg.Call.ID != "" {
		first, err := s.processed.MarkProcessed(ctx, EventCallEnded, msg.Call.ID)
		if err != nil {
			s.logger.Warn("failed to record end-of-call report", "call_id", msg.Call.ID, "error", err)
		} else if !first {
			s.logger.Info("duplicate end-of-call report skipped", "org_id", orgID, "call_id", msg.Call.ID)
			return
		}
	}

	err := s.publisher.Publish(ctx, CallEvent{
		Kind:            EventCallEnded,
		OrgID:           orgID,
		CallID:          msg.Call.ID,
		CallerNumber:    msg.CallerNumber(),
		EndedReason:     msg.EndedReason,
		Summary:         msg.Summary,
		Transcript:      msg.Transcript,
		RecordingURL:    msg.RecordingURL,
		DurationSeconds: msg.DurationSecs,
	})
	if err != nil {
		s.logger.Error("failed to publish end-of-call report", "org_id", orgID, "call_id", msg.Call.ID, "error", err)
	}
}

// Voicemail is a carrier recording or transcription callback.
type Voicemail struct {
	Dialed       string
	CallID       string
	CallerNumber string
	RecordingURL string
	Transcript   string
	DurationSecs float64
}

// RecordVoicemail publishes a voicemail recording or transcription. Kind must
// be EventVoicemailRecorded or EventVoicemailTranscribed.
func (s *Service) RecordVoicemail(ctx context.Context, kind EventKind, vm Voicemail) error {
	var orgID string
	if s.bindings != nil {
		b, err := s.bindings.Resolve(ctx, vm.Dialed)
		if err != nil && !errors.Is(err, clinic.ErrBindingNotFound) {
			return err
		}
		if b != nil {
			orgID = b.OrgID
		}
	}

	s.logger.Info("voicemail received", "org_id", orgID, "call_id", vm.CallID, "kind", kind, "caller", logging.MaskPhone(vm.CallerNumber))
	return s.publisher.Publish(ctx, CallEvent{
		Kind:            kind,
		OrgID:           orgID,
		CallID:          vm.CallID,
		CallerNumber:    vm.CallerNumber,
		RecordingURL:    vm.RecordingURL,
		Transcript:      vm.Transcript,
		DurationSeconds: vm.DurationSecs,
	})
}

func (s *Service) resolve(ctx context.Context, msg Message) (*clinic.Binding, error) {
	if s.bindings == nil {
		return nil, clinic.ErrBindingNotFound
	}
	dialed := msg.DialedID()
	b, err := s.bindings.Resolve(ctx, dialed)
	if err != nil {
		if errors.Is(err, clinic.ErrBindingNotFound) {
			s.logger.Warn("voice session for unbound number", "type", msg.Type, "call_id", msg.Call.ID, "dialed", dialed)
		} else {
			s.logger.Error("binding lookup failed", "type", msg.Type, "call_id", msg.Call.ID, "error", err)
		}
		return nil, err
	}
	return b, nil
}
