// Package pms talks to the practice-management gateway REST API.
package pms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/clinic-voice-platform/internal/backend"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

// Config holds configuration for the gateway client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client performs authenticated gateway requests. It holds no credentials;
// each call carries the request key read from the persisted integration.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient creates a gateway client.
func NewClient(cfg Config, logger *logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("pms: BaseURL is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

type errorBody struct {
	Message string `json:"message"`
	Error   any    `json:"error"`
}

func (b errorBody) text() string {
	if b.Message != "" {
		return b.Message
	}
	switch v := b.Error.(type) {
	case string:
		return v
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}
	return ""
}

// do sends one request. A non-2xx response becomes a *backend.Error whose kind
// follows the status code. Every attempt is recorded on the ctx trace.
func (c *Client) do(ctx context.Context, op, requestKey, method, path string, query url.Values, in, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("pms: marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("pms: create %s request: %w", op, err)
	}
	req.Header.Set("Request-Key", requestKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := backend.Wrap(op, err)
		backend.Record(ctx, method, path, backend.StatusOf(wrapped))
		return wrapped
	}
	defer resp.Body.Close()
	backend.Record(ctx, method, path, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		msg := eb.text()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.logger.Warn("pms gateway error", "op", op, "status", resp.StatusCode, "path", path)
		return backend.FromStatus(op, resp.StatusCode, msg)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &backend.Error{Kind: backend.KindUpstream, Op: op, Status: http.StatusBadGateway, Message: "invalid gateway response", Err: err}
	}
	return nil
}
