package dispatch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-voice-platform/internal/backend"
	"github.com/wolfman30/clinic-voice-platform/internal/clinic"
	"github.com/wolfman30/clinic-voice-platform/internal/compliance"
	"github.com/wolfman30/clinic-voice-platform/internal/notify"
	"github.com/wolfman30/clinic-voice-platform/internal/observability/metrics"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

var dispatchTracer = otel.Tracer("clinicvoice.internal.dispatch")

const (
	defaultToolTimeout  = 15 * time.Second
	auditWriteTimeout   = 5 * time.Second
	alertSendTimeout    = 20 * time.Second
	maxAuditErrorLength = 500
)

// CredentialMarker records a hard credential failure reported by the gateway.
type CredentialMarker interface {
	MarkUnauthorized(ctx context.Context, integrationID, reason string) error
}

// Config wires the engine's collaborators. Bindings, Selector and Audit are
// required; the rest are optional.
type Config struct {
	Auth        Authenticator
	Bindings    clinic.Resolver
	Selector    Selector
	Audit       compliance.AuditLogger
	Credentials CredentialMarker
	Alerts      notify.Alerter
	Metrics     *metrics.VoiceMetrics
	Logger      *logging.Logger
	// Timeout bounds each tool call, adapter included. Defaults to 15s.
	Timeout time.Duration
	// OnAuditFailure is called after an audit row could not be written.
	OnAuditFailure func(entry compliance.PHIAccessEntry, err error)
	Now            func() time.Time
}

// Engine executes tool calls.
type Engine struct {
	auth           Authenticator
	bindings       clinic.Resolver
	selector       Selector
	audit          compliance.AuditLogger
	credentials    CredentialMarker
	alerts         notify.Alerter
	metrics        *metrics.VoiceMetrics
	logger         *logging.Logger
	timeout        time.Duration
	onAuditFailure func(compliance.PHIAccessEntry, error)
	now            func() time.Time

	auditFailures atomic.Int64
	pending       sync.WaitGroup
}

// NewEngine creates a dispatch engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultToolTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		auth:           cfg.Auth,
		bindings:       cfg.Bindings,
		selector:       cfg.Selector,
		audit:          cfg.Audit,
		credentials:    cfg.Credentials,
		alerts:         cfg.Alerts,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		timeout:        cfg.Timeout,
		onAuditFailure: cfg.OnAuditFailure,
		now:            cfg.Now,
	}
}

// AuditFailures returns how many audit rows could not be written since start.
func (e *Engine) AuditFailures() int64 {
	return e.auditFailures.Load()
}

// Wait blocks until background staff alerts have finished.
func (e *Engine) Wait() {
	e.pending.Wait()
}

// Dispatch authenticates the request and executes the tool call. The only
// error it returns is ErrUnauthorized; every other outcome is a Result.
func (e *Engine) Dispatch(ctx context.Context, env Envelope, headers http.Header) (Result, error) {
	if err := e.auth.Authenticate(headers); err != nil {
		e.logger.Warn("tool call rejected", "tool", env.ToolName, "call_id", env.CallID)
		return Result{}, err
	}
	return e.Execute(ctx, env), nil
}

// Execute runs an already authenticated tool call. It is detached from ctx's
// cancellation so a caller hanging up does not cut off the audit write.
func (e *Engine) Execute(ctx context.Context, env Envelope) Result {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	tool, ok := ParseTool(env.ToolName)
	if !ok {
		e.logger.Warn("unknown tool requested", "tool", env.ToolName, "call_id", env.CallID)
		e.metrics.ObserveDispatch("unknown", "none", "unknown_tool")
		return Fail("unknown_tool", msgUnknownTool)
	}

	ctx, span := dispatchTracer.Start(ctx, "dispatch.tool_call")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicvoice.tool", tool.String()),
		attribute.String("clinicvoice.call_id", env.CallID),
	)

	binding, err := e.bindings.Resolve(ctx, env.DialedNumberID)
	if err != nil {
		if !errors.Is(err, clinic.ErrBindingNotFound) {
			span.RecordError(err)
		}
		e.logger.Warn("tool call for unknown clinic",
			"tool", tool.String(), "call_id", env.CallID, "dialed", env.DialedNumberID, "error", err)
		e.metrics.ObserveDispatch(tool.String(), "none", "clinic_not_found")
		return Fail("clinic_not_found", GenericApology)
	}
	span.SetAttributes(attribute.String("clinicvoice.org_id", binding.OrgID))
	logger := e.logger.With("tool", tool.String(), "org_id", binding.OrgID, "call_id", env.CallID)

	if tool == ToolTransferToHuman {
		return e.transfer(ctx, env, binding, logger)
	}

	loc := clinic.LoadLocation(binding.Timezone)
	inv, err := prepare(tool, env, e.now(), loc)
	if err != nil {
		var pe *paramError
		if errors.As(err, &pe) {
			logger.Info("tool call parameters rejected", "reason", pe.message)
			e.metrics.ObserveDispatch(tool.String(), "none", "invalid_parameters")
			return Fail("invalid_parameters", pe.message)
		}
		logger.Error("tool call could not be prepared", "error", err)
		e.metrics.ObserveDispatch(tool.String(), "none", "internal")
		return Fail("internal", GenericApology)
	}

	sel, err := e.selector.Select(ctx, binding)
	if err != nil {
		if errors.Is(err, ErrNoBackend) {
			logger.Warn("no backend configured for clinic")
			e.metrics.ObserveDispatch(tool.String(), "none", "not_configured")
			return Fail("not_configured", msgNotConfigured)
		}
		span.RecordError(err)
		logger.Error("backend selection failed", "error", err)
		e.metrics.ObserveDispatch(tool.String(), "none", "selection_failed")
		return Fail("backend_unavailable", msgUpstream)
	}
	backendName := sel.Adapter.Name()
	span.SetAttributes(attribute.String("clinicvoice.backend", backendName))

	traceCtx, trace := backend.WithTrace(ctx)
	started := e.now()
	data, runErr := inv.run(traceCtx, sel.Adapter)
	elapsed := e.now().Sub(started)
	e.metrics.ObserveAdapterLatency(backendName, tool.String(), elapsed.Seconds())

	if tool.TouchesPHI() {
		e.writeAudit(ctx, tool, env, binding, sel, trace, data, runErr, elapsed, logger)
	}

	if runErr != nil {
		kind := backend.KindOf(runErr)
		span.RecordError(runErr)
		logger.Warn("tool call failed", "backend", backendName, "kind", string(kind), "error", runErr, "duration_ms", elapsed.Milliseconds())
		if kind == backend.KindUnauthorized && sel.Integration != nil {
			e.markUnauthorized(ctx, sel.Integration.ID, runErr, logger)
		}
		e.metrics.ObserveDispatch(tool.String(), backendName, string(kind))
		return Fail(string(kind), speakError(tool, runErr))
	}

	logger.Info("tool call completed", "backend", backendName, "duration_ms", elapsed.Milliseconds())
	e.metrics.ObserveDispatch(tool.String(), backendName, "ok")
	return Ok(data, inv.speak(data))
}

func (e *Engine) writeAudit(ctx context.Context, tool Tool, env Envelope, b *clinic.Binding, sel Selection, trace *backend.Trace, data any, runErr error, elapsed time.Duration, logger *logging.Logger) {
	entry := compliance.PHIAccessEntry{
		OrgID:          b.OrgID,
		Backend:        sel.Adapter.Name(),
		Action:         tool.String(),
		CallID:         env.CallID,
		ResponseTimeMs: elapsed.Milliseconds(),
		ResponseStatus: http.StatusOK,
	}
	if sel.Integration != nil {
		entry.IntegrationID = sel.Integration.ID
	}
	if last, ok := trace.Last(); ok {
		entry.Method = last.Method
		entry.Endpoint = last.Endpoint
		if last.Status > 0 {
			entry.ResponseStatus = last.Status
		}
	}
	if runErr != nil {
		entry.ResponseStatus = backend.StatusOf(runErr)
		entry.ErrorMessage = truncateUTF8(runErr.Error(), maxAuditErrorLength)
	} else {
		entry.PHIFields = phiFields(data)
		entry.PHIAccessed = len(entry.PHIFields) > 0
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := e.audit.LogPHIAccess(auditCtx, entry); err != nil {
		e.auditFailures.Add(1)
		e.metrics.ObserveAuditFailure(tool.String())
		logger.Error("phi audit write failed",
			"severity", "critical",
			"audit_failure", true,
			"backend", entry.Backend,
			"integration_id", entry.IntegrationID,
			"response_status", entry.ResponseStatus,
			"error", err,
		)
		if e.onAuditFailure != nil {
			e.onAuditFailure(entry, err)
		}
	}
}

func (e *Engine) markUnauthorized(ctx context.Context, integrationID string, cause error, logger *logging.Logger) {
	if e.credentials == nil {
		return
	}
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := e.credentials.MarkUnauthorized(markCtx, integrationID, "gateway rejected credentials: "+cause.Error()); err != nil {
		logger.Error("failed to mark integration unauthorized", "integration_id", integrationID, "error", err)
	}
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	n := max
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
