package dispatch

import (
	"context"

	"github.com/wolfman30/clinic-voice-platform/internal/clinic"
	"github.com/wolfman30/clinic-voice-platform/internal/notify"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

const msgTransferring = "Of course. Let me connect you with someone from the office. One moment please."

// TransferData is the payload of a successful transferToHuman call. The
// voice-AI platform performs the actual transfer.
type TransferData struct {
	Action string `json:"action"`
	Number string `json:"number"`
}

// transfer hands the call to a human when the clinic allows it. Staff alerts
// are sent in the background and never affect the result.
func (e *Engine) transfer(ctx context.Context, env Envelope, b *clinic.Binding, logger *logging.Logger) Result {
	number := clinic.NormalizeE164(b.Transfer.Number)
	if !b.Transfer.Enabled || number == "" {
		logger.Warn("transfer requested but not configured", "enabled", b.Transfer.Enabled)
		e.metrics.ObserveDispatch(ToolTransferToHuman.String(), "none", "not_configured")
		return Fail("transfer_unavailable", msgTransferOff)
	}

	p := params(env.Parameters)
	alert := notify.TransferAlert{
		OrgID:           b.OrgID,
		ClinicName:      b.ClinicName,
		CallID:          env.CallID,
		CallerNumber:    clinic.NormalizeE164(env.CallerNumber),
		TransferNumber:  number,
		Reason:          p.str("reason"),
		Summary:         p.str("summary", "conversationSummary"),
		SMSRecipients:   b.AlertSMSRecipients,
		EmailRecipients: b.AlertEmailRecipients,
	}
	if e.alerts != nil && len(alert.SMSRecipients)+len(alert.EmailRecipients) > 0 {
		e.pending.Add(1)
		go func() {
			defer e.pending.Done()
			alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertSendTimeout)
			defer cancel()
			if err := e.alerts.SendTransferAlert(alertCtx, alert); err != nil {
				logger.Warn("staff transfer alert incomplete", "error", err)
			}
		}()
	}

	logger.Info("transferring call to staff", "transfer_to", logging.MaskPhone(number))
	e.metrics.ObserveDispatch(ToolTransferToHuman.String(), "none", "ok")
	return Ok(TransferData{Action: "transfer", Number: number}, msgTransferring)
}
