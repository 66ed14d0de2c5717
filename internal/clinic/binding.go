// Package clinic holds the per-clinic phone bindings that tell the voice core
// which clinic a dialed number belongs to and how its calls should be handled.
package clinic

import (
	"strings"
)

// AvailabilityMode decides whether the AI may answer a call right now.
type AvailabilityMode string

const (
	AvailabilityAlways         AvailabilityMode = "always"
	AvailabilityDisabled       AvailabilityMode = "disabled"
	AvailabilityAfterHoursOnly AvailabilityMode = "after_hours_only"
	AvailabilityOverflowOnly   AvailabilityMode = "overflow_only"
)

// AvailabilityPolicy is the active availability rule for a clinic. Only the
// fields relevant to Mode are read.
type AvailabilityPolicy struct {
	Mode AvailabilityMode `json:"mode"`
	// BusinessHours and Timezone apply to AvailabilityAfterHoursOnly.
	BusinessHours *BusinessHours `json:"business_hours,omitempty"`
	Timezone      string         `json:"timezone,omitempty"`
	// Threshold applies to AvailabilityOverflowOnly: the AI answers once this
	// many calls are already active for the clinic.
	Threshold int `json:"threshold,omitempty"`
}

// FallbackMode is what happens to a call the AI does not take.
type FallbackMode string

const (
	FallbackVoicemail  FallbackMode = "voicemail"
	FallbackForward    FallbackMode = "forward"
	FallbackBusySignal FallbackMode = "busy"
)

// DefaultMaxRecordingSeconds caps voicemail length when the binding does not.
const DefaultMaxRecordingSeconds = 120

// FallbackPolicy configures the non-AI path.
type FallbackPolicy struct {
	Mode                FallbackMode `json:"mode"`
	Greeting            string       `json:"greeting,omitempty"`
	ForwardNumber       string       `json:"forward_number,omitempty"`
	MaxRecordingSeconds int          `json:"max_recording_seconds,omitempty"`
}

// RecordingLimit returns the voicemail cap in seconds.
func (f FallbackPolicy) RecordingLimit() int {
	if f.MaxRecordingSeconds > 0 {
		return f.MaxRecordingSeconds
	}
	return DefaultMaxRecordingSeconds
}

// TransferSettings controls the transferToHuman tool.
type TransferSettings struct {
	Enabled bool   `json:"enabled"`
	Number  string `json:"number,omitempty"`
}

// Binding maps a dialed number or SIP identity to exactly one clinic.
type Binding struct {
	OrgID      string `json:"org_id"`
	ClinicName string `json:"clinic_name,omitempty"`
	// DialedNumber is the clinic's inbound number in E.164.
	DialedNumber string `json:"dialed_number,omitempty"`
	// SIPIdentity is an optional localpart@domain alias for SIP trunks.
	SIPIdentity string `json:"sip_identity,omitempty"`
	// PhoneNumberID is the voice-AI platform's identifier for the number; tool
	// calls reference the clinic by this value.
	PhoneNumberID string `json:"phone_number_id,omitempty"`
	// AssistantID is the clinic's voice-AI session identifier.
	AssistantID string `json:"assistant_id,omitempty"`
	Timezone    string `json:"timezone,omitempty"`

	Availability AvailabilityPolicy `json:"availability"`
	Fallback     FallbackPolicy     `json:"fallback"`

	// IntegrationID references a practice-management integration, if any.
	IntegrationID string `json:"integration_id,omitempty"`

	Transfer             TransferSettings `json:"transfer"`
	AlertSMSRecipients   []string         `json:"alert_sms_recipients,omitempty"`
	AlertEmailRecipients []string         `json:"alert_email_recipients,omitempty"`

	Active bool `json:"active"`
}

// DisplayName returns a speakable clinic name.
func (b *Binding) DisplayName() string {
	if b == nil || strings.TrimSpace(b.ClinicName) == "" {
		return "the clinic"
	}
	return strings.TrimSpace(b.ClinicName)
}

// HoursTimezone returns the timezone used to evaluate business hours.
func (b *Binding) HoursTimezone() string {
	if b.Availability.Timezone != "" {
		return b.Availability.Timezone
	}
	return b.Timezone
}
