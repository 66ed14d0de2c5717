package dispatch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsStringAcceptsAlternateKeys(t *testing.T) {
	p := params{"patient_id": "p-1", "phone": 5551234567.0, "empty": "  "}
	assert.Equal(t, "p-1", p.str("patientId", "patient_id"))
	assert.Equal(t, "5551234567", p.str("phone"))
	assert.Equal(t, "", p.str("empty", "missing"))
}

func TestParamsInteger(t *testing.T) {
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"duration":45,"mins":"30","bad":"x"}`), &decoded))
	p := params(decoded)

	n, ok := p.integer("duration")
	assert.True(t, ok)
	assert.Equal(t, 45, n)

	n, ok = p.integer("mins")
	assert.True(t, ok)
	assert.Equal(t, 30, n)

	_, ok = p.integer("bad", "missing")
	assert.False(t, ok)
}

func TestParseDateTime(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	got, err := parseDateTime("2026-02-15T10:00:00Z", ny)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)))

	got, err = parseDateTime("2026-02-15 10:00", ny)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 2, 15, 15, 0, 0, 0, time.UTC)), "wall clock is read in the clinic timezone")

	_, err = parseDateTime("next tuesday", ny)
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	got, err := parseDate("2026-03-02", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), got)

	got, err = parseDate("2026-03-02T18:30:00Z", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), got)
}

func TestNormalizeDOB(t *testing.T) {
	for _, in := range []string{"1990-04-02", "04/02/1990", "4/2/1990", "April 2, 1990"} {
		got, ok := normalizeDOB(in)
		assert.True(t, ok, in)
		assert.Equal(t, "1990-04-02", got, in)
	}
	_, ok := normalizeDOB("the second of april")
	assert.False(t, ok)
}
