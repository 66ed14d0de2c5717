// Package notify delivers staff alerts for calls the AI hands off to a human.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

// EmailSender delivers staff alert emails.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is one alert email. HTML is optional.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string
	HTML    string
}

// DefaultFromName is the sender display name when none is configured.
const DefaultFromName = "Clinic Voice"

// SendGridSender sends emails via SendGrid API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender creates a new SendGrid email sender. It returns nil when no
// API key is configured so callers can treat email as optional.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = DefaultFromName
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

var _ EmailSender = (*SendGridSender)(nil)

// Send delivers msg through the SendGrid v3 API. Plain text doubles as the
// HTML part when no HTML is given.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return errors.New("notify: sendgrid client not configured")
	}
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("notify: email recipient required")
	}

	response, err := s.client.SendWithContext(ctx, buildSendGridMessage(s.fromName, s.fromEmail, msg))
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to_domain", emailDomain(msg.To))
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid rejected email", "status", response.StatusCode, "body", response.Body, "to_domain", emailDomain(msg.To))
		return fmt.Errorf("notify: sendgrid status %d", response.StatusCode)
	}

	s.logger.Info("staff alert emailed via sendgrid", "to_domain", emailDomain(msg.To), "status", response.StatusCode)
	return nil
}

func buildSendGridMessage(fromName, fromEmail string, msg EmailMessage) *mail.SGMailV3 {
	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	return mail.NewSingleEmail(
		mail.NewEmail(fromName, fromEmail),
		msg.Subject,
		mail.NewEmail(msg.ToName, msg.To),
		msg.Body,
		html,
	)
}

// StubEmailSender stands in when no provider is configured. It only logs.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info("email provider not configured; alert email dropped", "to_domain", emailDomain(msg.To), "subject", msg.Subject)
	return nil
}
