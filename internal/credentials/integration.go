// Package credentials keeps practice-management session credentials valid.
package credentials

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrIntegrationNotFound is returned when no integration row matches.
var ErrIntegrationNotFound = errors.New("credentials: integration not found")

// Status is the lifecycle state of an integration.
type Status string

const (
	StatusSetupRequired Status = "SETUP_REQUIRED"
	StatusActive        Status = "ACTIVE"
	StatusError         Status = "ERROR"
)

// Integration is a clinic's practice-management connection. The persisted row
// is the only source of truth for its session keys.
type Integration struct {
	ID       string          `json:"id"`
	OrgID    string          `json:"org_id"`
	Provider string          `json:"provider"`
	Config   json.RawMessage `json:"config,omitempty"`
	Status   Status          `json:"status"`

	// OfficeID and SecretKey are the long-lived pair used for initial grants.
	OfficeID  string `json:"office_id,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`

	// RequestKey authorizes gateway calls until TokenExpiry.
	RequestKey  string     `json:"request_key,omitempty"`
	RefreshKey  string     `json:"refresh_key,omitempty"`
	TokenExpiry *time.Time `json:"token_expiry,omitempty"`

	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether dispatch may route to this integration.
func (i *Integration) IsActive() bool {
	return i != nil && i.Status == StatusActive
}

// TokenSet is the result of a successful grant exchange.
type TokenSet struct {
	RequestKey string
	RefreshKey string
	ExpiresAt  time.Time
}
