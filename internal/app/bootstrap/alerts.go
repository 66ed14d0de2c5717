package bootstrap

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/clinic-voice-platform/internal/compliance"
	appconfig "github.com/wolfman30/clinic-voice-platform/internal/config"
	"github.com/wolfman30/clinic-voice-platform/internal/notify"
	"github.com/wolfman30/clinic-voice-platform/internal/observability/metrics"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

// BuildEmailSender picks the staff-alert email provider. It returns the
// provider name, or "stub" when the chosen provider is not configured.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (notify.EmailSender, string) {
	switch cfg.EmailProvider {
	case "ses":
		if awsCfg != nil {
			if sender := notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail: cfg.SESFromEmail,
				FromName:  cfg.SESFromName,
			}, logger); sender != nil {
				return sender, "ses"
			}
		}
	default:
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender, "sendgrid"
		}
	}
	return notify.NewStubEmailSender(logger), "stub"
}

// BuildAlerter wires the transfer alert service. SMS is skipped when Telnyx is
// not configured.
func BuildAlerter(cfg *appconfig.Config, awsCfg *aws.Config, vm *metrics.VoiceMetrics, logger *logging.Logger) *notify.Service {
	if logger == nil {
		logger = logging.Default()
	}

	var sms notify.SMSSender
	if sender := notify.NewTelnyxSMSSender(notify.TelnyxConfig{
		APIKey:             cfg.TelnyxAPIKey,
		MessagingProfileID: cfg.TelnyxMessagingProfileID,
		FromNumber:         cfg.TelnyxAlertFromNumber,
	}, logger); sender != nil {
		sms = sender
	} else {
		logger.Warn("telnyx not configured; transfer alerts will not be sent by sms")
	}

	email, provider := BuildEmailSender(cfg, awsCfg, logger)
	logger.Info("transfer alerts configured", "email_provider", provider, "sms_enabled", sms != nil)
	return notify.NewService(sms, email, vm, logger)
}

const auditAlertTimeout = 10 * time.Second

type auditFailureAlerter interface {
	SendAuditFailureAlert(ctx context.Context, alert notify.AuditFailureAlert) error
}

// AuditFailureHook returns the dispatch hook that emails operators when a PHI
// audit row is lost. The send runs off the call path. Nil when no recipients
// are configured.
func AuditFailureHook(alerter auditFailureAlerter, recipients []string, logger *logging.Logger) func(compliance.PHIAccessEntry, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if alerter == nil || len(recipients) == 0 {
		logger.Warn("OPS_ALERT_EMAILS not set; audit write failures are reported by log and metric only")
		return nil
	}
	return func(entry compliance.PHIAccessEntry, cause error) {
		alert := notify.AuditFailureAlert{
			OrgID:          entry.OrgID,
			IntegrationID:  entry.IntegrationID,
			Backend:        entry.Backend,
			Action:         entry.Action,
			CallID:         entry.CallID,
			ResponseStatus: entry.ResponseStatus,
			Recipients:     recipients,
		}
		if cause != nil {
			alert.Cause = cause.Error()
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), auditAlertTimeout)
			defer cancel()
			if err := alerter.SendAuditFailureAlert(ctx, alert); err != nil {
				logger.Error("audit failure alert not delivered", "severity", "critical", "org_id", alert.OrgID, "call_id", alert.CallID, "error", err)
			}
		}()
	}
}
