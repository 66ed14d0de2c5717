package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-voice-platform/internal/observability/metrics"
)

type mockSMSSender struct {
	sent   []struct{ to, body string }
	failOn string
}

func (m *mockSMSSender) SendSMS(ctx context.Context, to, body string) error {
	if m.failOn != "" && to == m.failOn {
		return errors.New("mock SMS error")
	}
	m.sent = append(m.sent, struct{ to, body string }{to, body})
	return nil
}

type mockEmailSender struct {
	sent   []EmailMessage
	failOn string
}

func (m *mockEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if m.failOn != "" && msg.To == m.failOn {
		return errors.New("mock email error")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func testAlert() TransferAlert {
	return TransferAlert{
		OrgID:           "org-1",
		ClinicName:      "Glow Clinic",
		CallID:          "call-1",
		CallerNumber:    "+15557654321",
		TransferNumber:  "+15550009999",
		Reason:          "billing dispute",
		Summary:         "Caller disputes a charge from March.",
		SMSRecipients:   []string{"+15551110000", "+15551110001"},
		EmailRecipients: []string{"frontdesk@example.com"},
	}
}

func alertCount(t *testing.T, reg *prometheus.Registry, channel, status string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "clinicvoice_notify_staff_alerts_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, map[string]string{"channel": channel, "status": status}) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func TestSendTransferAlert_FansOut(t *testing.T) {
	sms := &mockSMSSender{}
	email := &mockEmailSender{}
	reg := prometheus.NewRegistry()
	svc := NewService(sms, email, metrics.NewVoiceMetrics(reg), nil)

	err := svc.SendTransferAlert(context.Background(), testAlert())
	require.NoError(t, err)

	require.Len(t, sms.sent, 2)
	assert.Contains(t, sms.sent[0].body, "+15557654321")
	assert.Contains(t, sms.sent[0].body, "billing dispute")
	assert.Contains(t, sms.sent[0].body, "Summary: Caller disputes a charge from March.")

	require.Len(t, email.sent, 1)
	assert.Equal(t, "Call transfer requested at Glow Clinic", email.sent[0].Subject)
	assert.Contains(t, email.sent[0].Body, "Caller: +15557654321")
	assert.Contains(t, email.sent[0].Body, "Call ID: call-1")

	assert.Equal(t, 2.0, alertCount(t, reg, "sms", "sent"))
	assert.Equal(t, 1.0, alertCount(t, reg, "email", "sent"))
}

func TestSendTransferAlert_ContinuesPastFailures(t *testing.T) {
	sms := &mockSMSSender{failOn: "+15551110000"}
	email := &mockEmailSender{failOn: "frontdesk@example.com"}
	reg := prometheus.NewRegistry()
	svc := NewService(sms, email, metrics.NewVoiceMetrics(reg), nil)

	err := svc.SendTransferAlert(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mock SMS error")
	assert.Contains(t, err.Error(), "mock email error")

	require.Len(t, sms.sent, 1)
	assert.Equal(t, "+15551110001", sms.sent[0].to)
	assert.Equal(t, 1.0, alertCount(t, reg, "sms", "failed"))
	assert.Equal(t, 1.0, alertCount(t, reg, "email", "failed"))
}

func TestSendTransferAlert_NoSenders(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	assert.NoError(t, svc.SendTransferAlert(context.Background(), testAlert()))
}

func TestTransferSMSBody_MinimalAlert(t *testing.T) {
	body := transferSMSBody(TransferAlert{})
	assert.Equal(t, "Call transfer: caller unknown number wants a person.", body)
}

func TestSendAuditFailureAlert(t *testing.T) {
	email := &mockEmailSender{failOn: "down@example.com"}
	svc := NewService(nil, email, nil, nil)

	err := svc.SendAuditFailureAlert(context.Background(), AuditFailureAlert{
		OrgID:          "org-1",
		IntegrationID:  "int-1",
		Backend:        "pms",
		Action:         "getPatientInfo",
		CallID:         "call-1",
		ResponseStatus: 200,
		Cause:          "connection refused",
		Recipients:     []string{"ops@example.com", " ", "down@example.com"},
	})
	require.Error(t, err)
	require.Len(t, email.sent, 1)
	assert.Equal(t, "ops@example.com", email.sent[0].To)
	assert.Contains(t, email.sent[0].Subject, "org-1")
	assert.Contains(t, email.sent[0].Body, "Call ID: call-1")
	assert.Contains(t, email.sent[0].Body, "Integration: int-1")
}

func TestSendAuditFailureAlertWithoutEmailSender(t *testing.T) {
	svc := NewService(&mockSMSSender{}, nil, nil, nil)
	assert.NoError(t, svc.SendAuditFailureAlert(context.Background(), AuditFailureAlert{OrgID: "org-1", Recipients: []string{"ops@example.com"}}))
}
