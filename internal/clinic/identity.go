package clinic

import (
	"regexp"
	"strings"
)

var nonDigitRe = regexp.MustCompile(`\D`)

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := nonDigitRe.ReplaceAllString(value, "")
	if digits == "" {
		return ""
	}
	if len(digits) == 10 && !strings.HasPrefix(value, "+") {
		digits = "1" + digits
	}
	return "+" + digits
}

// IdentityKind says how a dialed identity should be looked up.
type IdentityKind int

const (
	IdentityNumber IdentityKind = iota
	IdentitySIP
	IdentityPlatformID
)

// Identity is a parsed dialed identity.
type Identity struct {
	Kind  IdentityKind
	Value string
	// Localpart is set for SIP identities; it is tried as a number when the
	// full identity has no binding.
	Localpart string
}

// ParseIdentity classifies a raw "To" value. It accepts E.164 or national
// numbers, sip:user@domain URIs, bare user@domain identities, and opaque
// platform phone-number IDs.
func ParseIdentity(raw string) Identity {
	value := strings.TrimSpace(raw)
	lower := strings.ToLower(value)
	for _, prefix := range []string{"sips:", "sip:"} {
		if strings.HasPrefix(lower, prefix) {
			value = value[len(prefix):]
			lower = lower[len(prefix):]
			break
		}
	}
	if i := strings.IndexAny(value, ";?"); i >= 0 {
		value = value[:i]
		lower = lower[:i]
	}
	if at := strings.Index(lower, "@"); at > 0 {
		return Identity{Kind: IdentitySIP, Value: lower, Localpart: lower[:at]}
	}
	if looksLikePhone(value) {
		return Identity{Kind: IdentityNumber, Value: NormalizeE164(value)}
	}
	return Identity{Kind: IdentityPlatformID, Value: value}
}

func looksLikePhone(value string) bool {
	if value == "" {
		return false
	}
	digits := 0
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == '-' || r == '(' || r == ')' || r == ' ' || r == '.':
		default:
			return false
		}
	}
	return digits >= 7
}
