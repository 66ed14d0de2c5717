package dispatch

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestAuthenticate(t *testing.T) {
	auth := NewAuthenticator("webhook-secret", "service-key")

	tests := []struct {
		name    string
		headers http.Header
		wantErr bool
	}{
		{"webhook secret", headers(WebhookSecretHeader, "webhook-secret"), false},
		{"bearer service key", headers("Authorization", "Bearer service-key"), false},
		{"wrong secret", headers(WebhookSecretHeader, "nope"), true},
		{"wrong bearer", headers("Authorization", "Bearer nope"), true},
		{"secret as bearer", headers("Authorization", "Bearer webhook-secret"), true},
		{"basic auth", headers("Authorization", "Basic service-key"), true},
		{"no headers", http.Header{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.Authenticate(tt.headers)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnauthorized))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAuthenticate_FailsClosedWithoutSecrets(t *testing.T) {
	auth := NewAuthenticator("", "  ")
	assert.ErrorIs(t, auth.Authenticate(headers(WebhookSecretHeader, "")), ErrUnauthorized)
	assert.ErrorIs(t, auth.Authenticate(headers("Authorization", "Bearer ")), ErrUnauthorized)

	var zero Authenticator
	assert.ErrorIs(t, zero.Authenticate(http.Header{}), ErrUnauthorized)
}
