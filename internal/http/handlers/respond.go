// Package handlers exposes the voice core over HTTP: carrier call webhooks,
// voice-AI tool calls and lifecycle events, and operator endpoints.
package handlers

import (
	"encoding/json"
	"net/http"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the JSON error body. Message is always safe to speak.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeXML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
