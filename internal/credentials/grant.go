package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

const defaultTokenLifetime = 24 * time.Hour

// GrantClient exchanges credentials with the practice-management token endpoint.
type GrantClient interface {
	RefreshGrant(ctx context.Context, refreshKey string) (*TokenSet, error)
	InitialGrant(ctx context.Context, officeID, secretKey string) (*TokenSet, error)
}

// GrantError is a non-2xx token endpoint response.
type GrantError struct {
	GrantType string
	Status    int
	Body      string
}

func (e *GrantError) Error() string {
	return fmt.Sprintf("credentials: %s grant failed: status %d", e.GrantType, e.Status)
}

// HTTPGrantClient posts form-encoded grants to {baseURL}/token.
type HTTPGrantClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	now        func() time.Time
}

// NewHTTPGrantClient creates a token endpoint client.
func NewHTTPGrantClient(baseURL string, timeout time.Duration, logger *logging.Logger) *HTTPGrantClient {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPGrantClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
	}
}

type tokenResponse struct {
	RequestKey string `json:"request_key"`
	RefreshKey string `json:"refresh_key"`
	ExpiresIn  int64  `json:"expires_in"`
	ExpiresAt  string `json:"expires_at"`
}

// RefreshGrant exchanges a refresh key for a new key set.
func (c *HTTPGrantClient) RefreshGrant(ctx context.Context, refreshKey string) (*TokenSet, error) {
	return c.exchange(ctx, url.Values{
		"grant_type":  {"refresh_token"},
		"refresh_key": {refreshKey},
	})
}

// InitialGrant exchanges the long-lived office pair for a new key set.
func (c *HTTPGrantClient) InitialGrant(ctx context.Context, officeID, secretKey string) (*TokenSet, error) {
	return c.exchange(ctx, url.Values{
		"grant_type": {"client_credentials"},
		"office_id":  {officeID},
		"secret_key": {secretKey},
	})
}

func (c *HTTPGrantClient) exchange(ctx context.Context, form url.Values) (*TokenSet, error) {
	grantType := form.Get("grant_type")
	tokenURL := c.baseURL + "/token"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("credentials: create %s request: %w", grantType, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credentials: %s request failed: %w", grantType, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("credentials: read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("pms token exchange failed", "grant_type", grantType, "status", resp.StatusCode)
		return nil, &GrantError{GrantType: grantType, Status: resp.StatusCode, Body: string(body)}
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("credentials: parse token response: %w", err)
	}
	if tokenResp.RequestKey == "" {
		return nil, fmt.Errorf("credentials: %s response missing request_key", grantType)
	}

	expiresAt := c.now().Add(defaultTokenLifetime)
	switch {
	case tokenResp.ExpiresIn > 0:
		expiresAt = c.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	case tokenResp.ExpiresAt != "":
		if parsed, err := time.Parse(time.RFC3339, tokenResp.ExpiresAt); err == nil {
			expiresAt = parsed
		}
	}

	return &TokenSet{
		RequestKey: tokenResp.RequestKey,
		RefreshKey: tokenResp.RefreshKey,
		ExpiresAt:  expiresAt.UTC(),
	}, nil
}
