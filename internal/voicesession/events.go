// Package voicesession handles the voice-AI platform's call lifecycle webhooks:
// it answers assistant requests, keeps the active-call tracker current and
// forwards finished calls and voicemails to the call events queue.
package voicesession

import (
	"encoding/json"
	"strings"
)

// Message types sent by the voice-AI platform.
const (
	TypeAssistantRequest = "assistant-request"
	TypeStatusUpdate     = "status-update"
	TypeEndOfCallReport  = "end-of-call-report"
	TypeToolCalls        = "tool-calls"
	TypeHang             = "hang"
)

// Call statuses carried by status-update messages.
const (
	StatusQueued     = "queued"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusForwarding = "forwarding"
	StatusEnded      = "ended"
)

// Webhook is the envelope every platform message arrives in.
type Webhook struct {
	Message Message `json:"message"`
}

// Message is the body of a platform webhook. Only the fields relevant to Type
// are populated.
type Message struct {
	Type         string      `json:"type"`
	Status       string      `json:"status,omitempty"`
	Call         Call        `json:"call"`
	PhoneNumber  PhoneNumber `json:"phoneNumber,omitempty"`
	Customer     Customer    `json:"customer,omitempty"`
	EndedReason  string      `json:"endedReason,omitempty"`
	Summary      string      `json:"summary,omitempty"`
	Transcript   string      `json:"transcript,omitempty"`
	RecordingURL string      `json:"recordingUrl,omitempty"`
	DurationSecs float64     `json:"durationSeconds,omitempty"`
	ToolCalls    []ToolCall  `json:"toolCalls,omitempty"`
}

// Call identifies the session a message belongs to.
type Call struct {
	ID                  string   `json:"id"`
	PhoneNumberID       string   `json:"phoneNumberId,omitempty"`
	PhoneCallProviderID string   `json:"phoneCallProviderId,omitempty"`
	Customer            Customer `json:"customer,omitempty"`
}

// PhoneNumber is the platform's record of the dialed number.
type PhoneNumber struct {
	ID     string `json:"id,omitempty"`
	Number string `json:"number,omitempty"`
}

// Customer is the caller.
type Customer struct {
	Number string `json:"number,omitempty"`
}

// ToolCall is one function invocation requested by the assistant.
type ToolCall struct {
	ID       string       `json:"id"`
	Function ToolFunction `json:"function"`
}

// ToolFunction names the tool and carries its arguments. The platform sends
// arguments either as a JSON object or as a string holding one.
type ToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ParsedArguments decodes the arguments into a map, unwrapping a string
// encoded object. Malformed arguments yield an empty map.
func (f ToolFunction) ParsedArguments() map[string]any {
	out := map[string]any{}
	raw := []byte(strings.TrimSpace(string(f.Arguments)))
	if len(raw) == 0 {
		return out
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return out
		}
		raw = []byte(s)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// CallKey identifies the call in the active tracker. The carrier's call ID is
// preferred so entries match the ones written at admission.
func (m Message) CallKey() string {
	if id := strings.TrimSpace(m.Call.PhoneCallProviderID); id != "" {
		return id
	}
	return strings.TrimSpace(m.Call.ID)
}

// DialedID returns the platform phone-number ID, or the dialed number when
// the ID is absent.
func (m Message) DialedID() string {
	if id := strings.TrimSpace(m.Call.PhoneNumberID); id != "" {
		return id
	}
	if id := strings.TrimSpace(m.PhoneNumber.ID); id != "" {
		return id
	}
	return strings.TrimSpace(m.PhoneNumber.Number)
}

// CallerNumber returns the caller's number from whichever field carries it.
func (m Message) CallerNumber() string {
	if n := strings.TrimSpace(m.Call.Customer.Number); n != "" {
		return n
	}
	return strings.TrimSpace(m.Customer.Number)
}
