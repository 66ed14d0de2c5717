package dispatch

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Envelope is one tool invocation as received from the voice-AI platform.
type Envelope struct {
	CallID string `json:"callId"`
	// DialedNumberID identifies the clinic: the platform phone-number ID, the
	// dialed E.164 number, or a SIP identity.
	DialedNumberID string         `json:"phoneNumberId"`
	CallerNumber   string         `json:"callerNumber,omitempty"`
	ToolName       string         `json:"toolName"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

// params reads loosely typed tool arguments. Assistants are inconsistent about
// key casing and value types, so every getter accepts several keys.
type params map[string]any

func (p params) str(keys ...string) string {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case json.Number:
			s = t.String()
		case bool:
			s = strconv.FormatBool(t)
		default:
			s = fmt.Sprint(t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func (p params) integer(keys ...string) (int, bool) {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return int(math.Round(t)), true
		case int:
			return t, true
		case json.Number:
			if n, err := t.Int64(); err == nil {
				return int(n), true
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

var localTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 3:04 PM",
	"2006-01-02 3:04PM",
}

// parseDateTime accepts RFC 3339 or a wall-clock time interpreted in loc.
func parseDateTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range localTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("dispatch: unrecognised time %q", value)
}

// parseDate accepts YYYY-MM-DD or RFC 3339 and returns midnight in loc.
func parseDate(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.ParseInLocation("2006-01-02", value, loc); err == nil {
		return t, nil
	}
	if t, err := parseDateTime(value, loc); err == nil {
		local := t.In(loc)
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("dispatch: unrecognised date %q", value)
}

// normalizeDOB returns YYYY-MM-DD for the common spoken-then-typed formats.
func normalizeDOB(value string) (string, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{"2006-01-02", "01/02/2006", "1/2/2006", "January 2, 2006", "Jan 2, 2006"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}
