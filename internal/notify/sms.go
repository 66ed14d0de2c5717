package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

var smsTracer = otel.Tracer("clinicvoice.internal.notify.sms")

// DefaultTelnyxBaseURL is the Telnyx V2 API root.
const DefaultTelnyxBaseURL = "https://api.telnyx.com/v2"

const smsAttempts = 3

// SMSSender sends SMS messages to clinic staff.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// TelnyxConfig configures the Telnyx SMS sender.
type TelnyxConfig struct {
	APIKey             string
	MessagingProfileID string
	FromNumber         string
	BaseURL            string
	Timeout            time.Duration
}

// TelnyxSMSSender posts SMS messages using Telnyx's V2 API.
type TelnyxSMSSender struct {
	apiKey             string
	messagingProfileID string
	from               string
	baseURL            string
	httpClient         *http.Client
	logger             *logging.Logger
	backoff            func(attempt int) time.Duration
}

// NewTelnyxSMSSender builds a sender for Telnyx V2 API. It returns nil when
// the API key or sending number is missing.
func NewTelnyxSMSSender(cfg TelnyxConfig, logger *logging.Logger) *TelnyxSMSSender {
	if cfg.APIKey == "" || cfg.FromNumber == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTelnyxBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &TelnyxSMSSender{
		apiKey:             cfg.APIKey,
		messagingProfileID: cfg.MessagingProfileID,
		from:               cfg.FromNumber,
		baseURL:            strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
		backoff: func(int) time.Duration {
			return time.Duration(200+rand.Intn(300)) * time.Millisecond
		},
	}
}

var _ SMSSender = (*TelnyxSMSSender)(nil)

// SendSMS dispatches a single SMS, retrying transport failures and 5xx/429
// responses. Other 4xx responses are returned immediately.
func (s *TelnyxSMSSender) SendSMS(ctx context.Context, to, body string) error {
	if s == nil || s.apiKey == "" {
		return errors.New("notify: telnyx api key missing")
	}
	if to == "" {
		return errors.New("notify: sms recipient required")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("notify: sms body required")
	}

	ctx, span := smsTracer.Start(ctx, "notify.telnyx.send", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicvoice.to", logging.MaskPhone(to)),
		attribute.String("clinicvoice.from", s.from),
	)

	payload := map[string]interface{}{
		"from": s.from,
		"to":   to,
		"text": body,
	}
	if s.messagingProfileID != "" {
		payload["messaging_profile_id"] = s.messagingProfileID
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal telnyx payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= smsAttempts; attempt++ {
		retry, err := s.post(ctx, bodyBytes)
		if err == nil {
			s.logger.Info("staff alert sms sent", "to", logging.MaskPhone(to), "attempt", attempt)
			return nil
		}
		lastErr = err
		if !retry || attempt == smsAttempts {
			break
		}
		if err := sleepContext(ctx, s.backoff(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	span.RecordError(lastErr)
	s.logger.Error("failed to send staff alert sms", "error", lastErr, "to", logging.MaskPhone(to))
	return lastErr
}

func (s *TelnyxSMSSender) post(ctx context.Context, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("notify: build telnyx request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("notify: telnyx request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	var errorBody map[string]interface{}
	if len(respBody) > 0 && json.Unmarshal(respBody, &errorBody) == nil {
		return retry, fmt.Errorf("notify: telnyx send failed: status %d, body: %v", resp.StatusCode, errorBody)
	}
	return retry, fmt.Errorf("notify: telnyx send failed: status %d", resp.StatusCode)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
