package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-voice-platform/internal/observability/metrics"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

// TransferAlert tells clinic staff that a caller asked for a human.
type TransferAlert struct {
	OrgID           string
	ClinicName      string
	CallID          string
	CallerNumber    string
	TransferNumber  string
	Reason          string
	Summary         string
	SMSRecipients   []string
	EmailRecipients []string
}

// Alerter delivers staff alerts.
type Alerter interface {
	SendTransferAlert(ctx context.Context, alert TransferAlert) error
}

// Service fans a transfer alert out to every configured SMS and email
// recipient. Either sender may be nil.
type Service struct {
	sms     SMSSender
	email   EmailSender
	metrics *metrics.VoiceMetrics
	logger  *logging.Logger
}

// NewService creates an alert service.
func NewService(sms SMSSender, email EmailSender, m *metrics.VoiceMetrics, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		sms:     sms,
		email:   email,
		metrics: m,
		logger:  logger,
	}
}

var _ Alerter = (*Service)(nil)

// SendTransferAlert sends the alert to every recipient. A failed recipient does
// not stop the others; the joined error reports all failures.
func (s *Service) SendTransferAlert(ctx context.Context, alert TransferAlert) error {
	var errs []error

	if s.sms != nil && len(alert.SMSRecipients) > 0 {
		body := transferSMSBody(alert)
		for _, recipient := range alert.SMSRecipients {
			recipient = strings.TrimSpace(recipient)
			if recipient == "" {
				continue
			}
			err := s.sms.SendSMS(ctx, recipient, body)
			s.metrics.ObserveAlert("sms", err == nil)
			if err != nil {
				s.logger.Error("notify: failed to send transfer sms", "error", err, "org_id", alert.OrgID, "call_id", alert.CallID, "to", logging.MaskPhone(recipient))
				errs = append(errs, fmt.Errorf("sms %s: %w", logging.MaskPhone(recipient), err))
			}
		}
	} else if len(alert.SMSRecipients) > 0 {
		s.logger.Debug("notify: sms sender not configured, skipping transfer sms", "org_id", alert.OrgID)
	}

	if s.email != nil && len(alert.EmailRecipients) > 0 {
		subject, text := transferEmail(alert)
		for _, recipient := range alert.EmailRecipients {
			recipient = strings.TrimSpace(recipient)
			if recipient == "" {
				continue
			}
			err := s.email.Send(ctx, EmailMessage{To: recipient, Subject: subject, Body: text})
			s.metrics.ObserveAlert("email", err == nil)
			if err != nil {
				s.logger.Error("notify: failed to send transfer email", "error", err, "org_id", alert.OrgID, "call_id", alert.CallID, "to", recipient)
				errs = append(errs, fmt.Errorf("email %s: %w", recipient, err))
			}
		}
	} else if len(alert.EmailRecipients) > 0 {
		s.logger.Debug("notify: email sender not configured, skipping transfer email", "org_id", alert.OrgID)
	}

	return errors.Join(errs...)
}

// AuditFailureAlert tells operators that a PHI access row was not written.
type AuditFailureAlert struct {
	OrgID          string
	IntegrationID  string
	Backend        string
	Action         string
	CallID         string
	ResponseStatus int
	Cause          string
	Recipients     []string
}

// SendAuditFailureAlert emails every operator recipient. It carries no record
// contents, only identifiers needed to backfill the row.
func (s *Service) SendAuditFailureAlert(ctx context.Context, alert AuditFailureAlert) error {
	if s.email == nil {
		s.logger.Warn("notify: email sender not configured, skipping audit failure alert", "org_id", alert.OrgID)
		return nil
	}
	subject, text := auditFailureEmail(alert)
	var errs []error
	for _, recipient := range alert.Recipients {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" {
			continue
		}
		err := s.email.Send(ctx, EmailMessage{To: recipient, Subject: subject, Body: text})
		s.metrics.ObserveAlert("ops_email", err == nil)
		if err != nil {
			s.logger.Error("notify: failed to send audit failure email", "error", err, "org_id", alert.OrgID, "call_id", alert.CallID)
			errs = append(errs, fmt.Errorf("email %s: %w", recipient, err))
		}
	}
	return errors.Join(errs...)
}

func auditFailureEmail(alert AuditFailureAlert) (string, string) {
	subject := fmt.Sprintf("PHI audit write failed for org %s", alert.OrgID)

	var b strings.Builder
	b.WriteString("A PHI access audit row could not be written and must be backfilled.\n\n")
	fmt.Fprintf(&b, "Org: %s\n", alert.OrgID)
	if alert.IntegrationID != "" {
		fmt.Fprintf(&b, "Integration: %s\n", alert.IntegrationID)
	}
	fmt.Fprintf(&b, "Backend: %s\n", alert.Backend)
	fmt.Fprintf(&b, "Action: %s\n", alert.Action)
	if alert.CallID != "" {
		fmt.Fprintf(&b, "Call ID: %s\n", alert.CallID)
	}
	fmt.Fprintf(&b, "Response status: %d\n", alert.ResponseStatus)
	if alert.Cause != "" {
		fmt.Fprintf(&b, "Error: %s\n", alert.Cause)
	}
	return subject, b.String()
}

func transferSMSBody(alert TransferAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Call transfer: caller %s", callerOrUnknown(alert.CallerNumber))
	if alert.Reason != "" {
		fmt.Fprintf(&b, " wants a person (%s)", alert.Reason)
	} else {
		b.WriteString(" wants a person")
	}
	if alert.TransferNumber != "" {
		fmt.Fprintf(&b, ", ringing %s", alert.TransferNumber)
	}
	b.WriteString(".")
	if alert.Summary != "" {
		fmt.Fprintf(&b, " Summary: %s", alert.Summary)
	}
	return b.String()
}

func transferEmail(alert TransferAlert) (string, string) {
	clinicName := alert.ClinicName
	if clinicName == "" {
		clinicName = "your clinic"
	}
	subject := fmt.Sprintf("Call transfer requested at %s", clinicName)

	var b strings.Builder
	fmt.Fprintf(&b, "A caller asked to speak with a staff member at %s.\n\n", clinicName)
	fmt.Fprintf(&b, "Caller: %s\n", callerOrUnknown(alert.CallerNumber))
	if alert.TransferNumber != "" {
		fmt.Fprintf(&b, "Transferred to: %s\n", alert.TransferNumber)
	}
	if alert.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", alert.Reason)
	}
	if alert.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", alert.Summary)
	}
	if alert.CallID != "" {
		fmt.Fprintf(&b, "Call ID: %s\n", alert.CallID)
	}
	return subject, b.String()
}

func callerOrUnknown(number string) string {
	if strings.TrimSpace(number) == "" {
		return "unknown number"
	}
	return number
}
