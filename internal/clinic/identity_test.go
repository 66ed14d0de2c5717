package clinic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeE164(t *testing.T) {
	tests := map[string]string{
		"":                  "",
		"+1 (555) 010-2000": "+15550102000",
		"5550102000":        "+15550102000",
		"+442071838750":     "+442071838750",
		"abc":               "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeE164(in), in)
	}
}

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		raw       string
		kind      IdentityKind
		value     string
		localpart string
	}{
		{raw: "+15550102000", kind: IdentityNumber, value: "+15550102000"},
		{raw: "sip:Front-Desk@Clinic.example.com", kind: IdentitySIP, value: "front-desk@clinic.example.com", localpart: "front-desk"},
		{raw: "sips:+15550102000@trunk.example.com;transport=tls", kind: IdentitySIP, value: "+15550102000@trunk.example.com", localpart: "+15550102000"},
		{raw: "desk@clinic.example.com", kind: IdentitySIP, value: "desk@clinic.example.com", localpart: "desk"},
		{raw: "pn_abc123", kind: IdentityPlatformID, value: "pn_abc123"},
		{raw: "3f2c9a1e-0000-4000-8000-000000000001", kind: IdentityPlatformID, value: "3f2c9a1e-0000-4000-8000-000000000001"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := ParseIdentity(tt.raw)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.value, got.Value)
			assert.Equal(t, tt.localpart, got.Localpart)
		})
	}
}
