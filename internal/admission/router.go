package admission

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/clinic-voice-platform/internal/clinic"
	"github.com/wolfman30/clinic-voice-platform/internal/observability/metrics"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

const (
	msgNotConfigured   = "We're sorry, this number is not configured to take calls right now. Goodbye."
	msgDefaultGreeting = "Thank you for calling %s. No one is available to take your call. Please leave your name, number and a brief message after the tone."
	msgHold            = "Please hold while we connect your call."
	msgBusy            = "We're sorry, all of our lines are busy right now. Please call back later. Goodbye."
	msgNoAnswer        = "We're sorry, we could not connect your call. Please call back later. Goodbye."
)

// Legs name the dial attempt a completion callback belongs to.
const (
	LegBridge    = "bridge"
	LegForward   = "forward"
	LegVoicemail = "voicemail"
)

const (
	bridgeDialTimeout  = 20
	forwardDialTimeout = 25
)

// CallTracker counts the calls a clinic currently has on the line.
type CallTracker interface {
	Count(ctx context.Context, orgID string) (int, error)
	Start(ctx context.Context, orgID, callID string) error
	End(ctx context.Context, orgID, callID string) error
}

// Config wires a Router.
type Config struct {
	Bindings    clinic.Resolver
	ActiveCalls CallTracker
	// SIPDomain is the voice-AI platform's SIP domain that sessions are dialed on.
	SIPDomain string
	// PublicBaseURL prefixes the carrier callback URLs.
	PublicBaseURL string
	Metrics       *metrics.VoiceMetrics
	Logger        *logging.Logger
	Now           func() time.Time
}

// Router admits inbound calls.
type Router struct {
	bindings  clinic.Resolver
	active    CallTracker
	sipDomain string
	baseURL   string
	metrics   *metrics.VoiceMetrics
	logger    *logging.Logger
	now       func() time.Time
}

// NewRouter builds a Router. Bindings is required.
func NewRouter(cfg Config) (*Router, error) {
	if cfg.Bindings == nil {
		return nil, errors.New("admission: bindings resolver is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Router{
		bindings:  cfg.Bindings,
		active:    cfg.ActiveCalls,
		sipDomain: strings.TrimSpace(cfg.SIPDomain),
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}, nil
}

// Admit decides what happens to an inbound call. It never fails: every path,
// including lookup errors, yields an instruction.
func (r *Router) Admit(ctx context.Context, dialed, caller, callID string) Instruction {
	b, err := r.bindings.Resolve(ctx, dialed)
	if err != nil {
		if !errors.Is(err, clinic.ErrBindingNotFound) {
			r.logger.Error("binding lookup failed", "call_id", callID, "dialed", logging.MaskPhone(dialed), "error", err)
		} else {
			r.logger.Warn("inbound call to unbound number", "call_id", callID, "dialed", logging.MaskPhone(dialed))
		}
		return r.finish(Instruction{
			Outcome: OutcomeUnbound,
			Reason:  "binding_not_found",
			Verbs:   []any{say(msgNotConfigured), texmlHangup{}},
		}, callID, caller)
	}

	var instr Instruction
	if eligible, reason := r.eligible(ctx, b); !eligible {
		instr = r.fallback(b, reason)
	} else if bridged, ok := r.bridge(b); ok {
		instr = bridged
	} else {
		instr = r.fallback(b, "bridge_unavailable")
	}

	// The overflow count was read above, so the call never counts itself.
	if !instr.Terminal() {
		r.track(ctx, b.OrgID, callID)
	}
	return r.finish(instr, callID, caller)
}

func (r *Router) track(ctx context.Context, orgID, callID string) {
	if r.active == nil || callID == "" {
		return
	}
	if err := r.active.Start(ctx, orgID, callID); err != nil {
		r.logger.Warn("failed to track active call", "org_id", orgID, "call_id", callID, "error", err)
	}
}

func (r *Router) untrack(ctx context.Context, orgID, callID string) {
	if r.active == nil || callID == "" {
		return
	}
	if err := r.active.End(ctx, orgID, callID); err != nil {
		r.logger.Warn("failed to end active call", "org_id", orgID, "call_id", callID, "error", err)
	}
}

// CompletionRequest is the carrier's callback after a Dial verb ends.
type CompletionRequest struct {
	Dialed     string
	CallID     string
	DialStatus string
	Leg        string
}

// Complete handles the end of a dial or record leg. A bridge leg that never
// connected runs the clinic's fallback policy; anything else hangs up and the
// call stops counting as active.
func (r *Router) Complete(ctx context.Context, req CompletionRequest) Instruction {
	status := strings.ToLower(strings.TrimSpace(req.DialStatus))
	leg := strings.ToLower(strings.TrimSpace(req.Leg))
	if leg == "" {
		leg = LegBridge
	}

	b, err := r.bindings.Resolve(ctx, req.Dialed)
	if err != nil {
		r.logger.Warn("completion for unresolved number", "call_id", req.CallID, "dialed", logging.MaskPhone(req.Dialed), "error", err)
		return r.finish(Instruction{Outcome: OutcomeHangup, Reason: "binding_not_found", Verbs: []any{texmlHangup{}}}, req.CallID, "")
	}

	if leg == LegBridge && bridgeFailed(status) {
		r.logger.Warn("ai bridge did not connect", "org_id", b.OrgID, "call_id", req.CallID, "dial_status", status)
		instr := r.fallback(b, "bridge_"+strings.ReplaceAll(status, "-", "_"))
		if instr.Terminal() {
			r.untrack(ctx, b.OrgID, req.CallID)
		}
		return r.finish(instr, req.CallID, "")
	}

	verbs := []any{texmlHangup{}}
	if leg == LegForward && bridgeFailed(status) {
		verbs = []any{say(msgNoAnswer), texmlHangup{}}
	}
	r.untrack(ctx, b.OrgID, req.CallID)
	instr := Instruction{Outcome: OutcomeHangup, OrgID: b.OrgID, Reason: "completed_" + leg, Verbs: verbs}
	r.logger.Info("call leg completed", "org_id", b.OrgID, "call_id", req.CallID, "leg", leg, "dial_status", status)
	return instr
}

func bridgeFailed(status string) bool {
	switch status {
	case "busy", "failed", "no-answer", "canceled":
		return true
	default:
		return false
	}
}

// eligible evaluates the availability policy. Inputs that cannot be
// determined resolve to not eligible.
func (r *Router) eligible(ctx context.Context, b *clinic.Binding) (bool, string) {
	switch b.Availability.Mode {
	case clinic.AvailabilityAlways:
		return true, "always"
	case clinic.AvailabilityDisabled:
		return false, "disabled"
	case clinic.AvailabilityAfterHoursOnly:
		// A missing schedule has no open day, so every hour is after hours.
		loc := clinic.LoadLocation(b.HoursTimezone())
		if b.Availability.BusinessHours.IsOpenAt(r.now(), loc) {
			return false, "clinic_open"
		}
		return true, "after_hours"
	case clinic.AvailabilityOverflowOnly:
		if r.active == nil {
			return false, "active_calls_unknown"
		}
		count, err := r.active.Count(ctx, b.OrgID)
		if err != nil {
			r.logger.Warn("active call count unavailable", "org_id", b.OrgID, "error", err)
			return false, "active_calls_unknown"
		}
		if b.Availability.Threshold > 0 && count >= b.Availability.Threshold {
			return true, "overflow"
		}
		return false, "below_threshold"
	default:
		return false, "unknown_mode"
	}
}

func (r *Router) bridge(b *clinic.Binding) (Instruction, bool) {
	assistantID := strings.TrimSpace(b.AssistantID)
	if assistantID == "" || r.sipDomain == "" {
		r.logger.Warn("ai bridge not configured", "org_id", b.OrgID, "has_assistant", assistantID != "", "has_sip_domain", r.sipDomain != "")
		return Instruction{}, false
	}

	uri := fmt.Sprintf("sip:%s@%s?X-Assistant-Id=%s", url.PathEscape(assistantID), r.sipDomain, url.QueryEscape(assistantID))
	return Instruction{
		Outcome: OutcomeBridge,
		OrgID:   b.OrgID,
		Reason:  "eligible",
		Verbs: []any{texmlDial{
			Action:  r.callbackURL("/voice/complete", LegBridge),
			Timeout: bridgeDialTimeout,
			Sip:     &texmlSip{URI: uri},
		}},
	}, true
}

func (r *Router) fallback(b *clinic.Binding, reason string) Instruction {
	switch b.Fallback.Mode {
	case clinic.FallbackForward:
		number := clinic.NormalizeE164(b.Fallback.ForwardNumber)
		if number == "" {
			return Instruction{
				Outcome: OutcomeBusy,
				OrgID:   b.OrgID,
				Reason:  reason + ":forward_number_missing",
				Verbs:   []any{say(msgBusy), texmlHangup{}},
			}
		}
		return Instruction{
			Outcome: OutcomeForward,
			OrgID:   b.OrgID,
			Reason:  reason,
			Verbs: []any{
				say(msgHold),
				texmlDial{
					Action:   r.callbackURL("/voice/complete", LegForward),
					Timeout:  forwardDialTimeout,
					CallerID: clinic.NormalizeE164(b.DialedNumber),
					Number:   number,
				},
			},
		}
	case clinic.FallbackBusySignal:
		return Instruction{
			Outcome: OutcomeBusy,
			OrgID:   b.OrgID,
			Reason:  reason,
			Verbs:   []any{say(msgBusy), texmlHangup{}},
		}
	default:
		greeting := strings.TrimSpace(b.Fallback.Greeting)
		if greeting == "" {
			greeting = fmt.Sprintf(msgDefaultGreeting, b.DisplayName())
		}
		return Instruction{
			Outcome: OutcomeVoicemail,
			OrgID:   b.OrgID,
			Reason:  reason,
			Verbs: []any{
				say(greeting),
				texmlRecord{
					MaxLength:               b.Fallback.RecordingLimit(),
					PlayBeep:                true,
					Action:                  r.callbackURL("/voice/complete", LegVoicemail),
					RecordingStatusCallback: r.callbackURL("/voice/recording", ""),
					Transcribe:              true,
					TranscribeCallback:      r.callbackURL("/voice/transcription", ""),
				},
				texmlHangup{},
			},
		}
	}
}

func (r *Router) callbackURL(path, leg string) string {
	u := r.baseURL + path
	if leg != "" {
		u += "?leg=" + leg
	}
	return u
}

func (r *Router) finish(instr Instruction, callID, caller string) Instruction {
	r.metrics.ObserveAdmission(string(instr.Outcome))
	r.logger.Info("call admission decided",
		"org_id", instr.OrgID,
		"call_id", callID,
		"caller", logging.MaskPhone(caller),
		"outcome", instr.Outcome,
		"reason", instr.Reason,
	)
	return instr
}
