package dispatch

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned when a tool-call request carries no valid secret.
var ErrUnauthorized = errors.New("dispatch: unauthorized")

// WebhookSecretHeader carries the shared secret configured on the assistant.
const WebhookSecretHeader = "X-Voice-Webhook-Secret"

// Authenticator checks tool-call requests against the webhook secret or the
// internal service key. With neither configured every request is rejected.
type Authenticator struct {
	webhookSecret string
	serviceKey    string
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(webhookSecret, serviceKey string) Authenticator {
	return Authenticator{
		webhookSecret: strings.TrimSpace(webhookSecret),
		serviceKey:    strings.TrimSpace(serviceKey),
	}
}

// Authenticate returns ErrUnauthorized unless headers carry a matching secret.
func (a Authenticator) Authenticate(headers http.Header) error {
	if a.webhookSecret != "" {
		if got := headers.Get(WebhookSecretHeader); got != "" && secureEqual(got, a.webhookSecret) {
			return nil
		}
	}
	if a.serviceKey != "" {
		auth := headers.Get("Authorization")
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok && secureEqual(strings.TrimSpace(token), a.serviceKey) {
			return nil
		}
	}
	return ErrUnauthorized
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
