// Package dispatch executes voice-assistant tool calls against the clinic's
// configured backend and turns every outcome into something a caller can hear.
package dispatch

import "strings"

// Tool is a recognised tool-call name.
type Tool int

const (
	ToolUnknown Tool = iota
	ToolSearchPatients
	ToolGetPatientInfo
	ToolCreatePatient
	ToolUpdatePatient
	ToolCheckAvailability
	ToolBookAppointment
	ToolRescheduleAppointment
	ToolCancelAppointment
	ToolGetAppointments
	ToolAddPatientNote
	ToolGetPatientInsurance
	ToolGetPatientBalance
	ToolGetProviders
	ToolTransferToHuman
)

var toolNames = [...]string{
	ToolUnknown:               "unknown",
	ToolSearchPatients:        "searchPatients",
	ToolGetPatientInfo:        "getPatientInfo",
	ToolCreatePatient:         "createPatient",
	ToolUpdatePatient:         "updatePatient",
	ToolCheckAvailability:     "checkAvailability",
	ToolBookAppointment:       "bookAppointment",
	ToolRescheduleAppointment: "rescheduleAppointment",
	ToolCancelAppointment:     "cancelAppointment",
	ToolGetAppointments:       "getAppointments",
	ToolAddPatientNote:        "addPatientNote",
	ToolGetPatientInsurance:   "getPatientInsurance",
	ToolGetPatientBalance:     "getPatientBalance",
	ToolGetProviders:          "getProviders",
	ToolTransferToHuman:       "transferToHuman",
}

// aliases maps canonical spellings assistants commonly use to their tool.
var aliases = map[string]Tool{
	"findpatient":         ToolSearchPatients,
	"lookuppatient":       ToolSearchPatients,
	"getpatient":          ToolGetPatientInfo,
	"newpatient":          ToolCreatePatient,
	"registerpatient":     ToolCreatePatient,
	"getavailability":     ToolCheckAvailability,
	"findavailability":    ToolCheckAvailability,
	"scheduleappointment": ToolBookAppointment,
	"bookappt":            ToolBookAppointment,
	"checkbalance":        ToolGetPatientBalance,
	"getbalance":          ToolGetPatientBalance,
	"listproviders":       ToolGetProviders,
	"transfercall":        ToolTransferToHuman,
	"transfer":            ToolTransferToHuman,
}

var canonicalTools = func() map[string]Tool {
	m := make(map[string]Tool, len(toolNames)+len(aliases))
	for t, name := range toolNames {
		if Tool(t) == ToolUnknown {
			continue
		}
		m[Canonicalize(name)] = Tool(t)
	}
	for k, t := range aliases {
		m[k] = t
	}
	return m
}()

// Canonicalize lower-cases name and drops separators so "get_patient_info",
// "Get-Patient Info" and "getPatientInfo" compare equal.
func Canonicalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch r {
		case '-', '_', ' ', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ParseTool resolves a tool-call name. Unknown names return ToolUnknown, false.
func ParseTool(name string) (Tool, bool) {
	t, ok := canonicalTools[Canonicalize(name)]
	if !ok {
		return ToolUnknown, false
	}
	return t, true
}

func (t Tool) String() string {
	if t < 0 || int(t) >= len(toolNames) {
		return toolNames[ToolUnknown]
	}
	return toolNames[t]
}

// TouchesPHI reports whether invocations must be audit-logged.
func (t Tool) TouchesPHI() bool {
	switch t {
	case ToolSearchPatients, ToolGetPatientInfo, ToolCreatePatient, ToolUpdatePatient,
		ToolBookAppointment, ToolRescheduleAppointment, ToolCancelAppointment, ToolGetAppointments,
		ToolAddPatientNote, ToolGetPatientInsurance, ToolGetPatientBalance:
		return true
	case ToolCheckAvailability, ToolGetProviders, ToolTransferToHuman, ToolUnknown:
		return false
	}
	return false
}
