package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-voice-platform/internal/backend"
)

// SpokenTimeLayout is how appointment times are read back to callers.
const SpokenTimeLayout = "Monday, January 2 at 3:04 PM"

const (
	msgUnknownTool    = "I'm sorry, I'm not able to do that over the phone. Can I take a message for the office instead?"
	msgNotConfigured  = "I'm sorry, online scheduling and records aren't set up for this office yet. I can take your name and number and have someone call you back."
	msgTimeout        = "I'm sorry, our system is taking too long to respond. Let me take your information and have someone call you back."
	msgUnauthorized   = "I'm sorry, I can't reach our records system right now. I can take a message and have the office follow up with you."
	msgForbidden      = "I'm sorry, I'm not able to access that information for you. I can take a message and have the office follow up with you."
	msgUpstream       = "I'm sorry, I'm having trouble reaching our system right now. Would you like me to take a message so someone can call you back?"
	msgTransferOff    = "I'm not able to transfer calls right now, but I can take a message and have someone from the office call you back."
	msgBillingMissing = "I wasn't able to pull up your balance. Our billing staff can help with that. Would you like me to connect you with them or take a message?"
)

// speakTime formats t in the clinic's timezone.
func speakTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(SpokenTimeLayout)
}

// joinSpoken joins items as "a", "a and b" or "a, b and c".
func joinSpoken(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

// speakError chooses the caller-facing message for a failed adapter call.
func speakError(tool Tool, err error) string {
	kind := backend.KindOf(err)
	switch kind {
	case backend.KindNotFound:
		return notFoundMessage(tool)
	case backend.KindValidation:
		return validationMessage(tool)
	case backend.KindConflict:
		switch tool {
		case ToolBookAppointment, ToolRescheduleAppointment:
			return "I'm sorry, that time was just taken. Would you like me to check other openings?"
		case ToolCreatePatient:
			return "It looks like you already have a record with us. Let me look you up instead."
		}
		return msgUpstream
	case backend.KindUnauthorized:
		return msgUnauthorized
	case backend.KindForbidden:
		return msgForbidden
	case backend.KindTimeout:
		return msgTimeout
	case backend.KindUnsupported:
		return unsupportedMessage(tool)
	case backend.KindUpstream:
		return msgUpstream
	}
	return GenericApology
}

func notFoundMessage(tool Tool) string {
	switch tool {
	case ToolGetPatientBalance:
		return msgBillingMissing
	case ToolGetPatientInfo, ToolUpdatePatient, ToolAddPatientNote:
		return "I couldn't find that patient record. Could you confirm your name and date of birth?"
	case ToolGetPatientInsurance:
		return "I couldn't find insurance details for you. Our front desk can help verify your coverage. Would you like me to take a message?"
	case ToolRescheduleAppointment, ToolCancelAppointment:
		return "I couldn't find that appointment. Could you tell me the date it was scheduled for?"
	case ToolSearchPatients:
		return "I couldn't find a patient record matching that information."
	case ToolGetAppointments:
		return "I don't see any appointments on file for you."
	}
	return GenericApology
}

func validationMessage(tool Tool) string {
	switch tool {
	case ToolBookAppointment, ToolRescheduleAppointment, ToolCheckAvailability:
		return "I'm sorry, I couldn't use that date or time. Could you give me another day and time?"
	case ToolCreatePatient, ToolUpdatePatient:
		return "I'm sorry, some of that information didn't go through. Could you repeat your details for me?"
	}
	return "I'm sorry, I didn't get all the details I need. Could you repeat that for me?"
}

func unsupportedMessage(tool Tool) string {
	switch tool {
	case ToolGetPatientBalance:
		return "I can't look up balances over the phone. Our billing staff can help with that. Would you like me to take a message for them?"
	case ToolGetPatientInsurance:
		return "I can't look up insurance details over the phone. Would you like me to take a message for the front desk?"
	case ToolSearchPatients, ToolGetPatientInfo, ToolCreatePatient, ToolUpdatePatient, ToolAddPatientNote:
		return "I can't access patient records from here, but I can take your details and have the office follow up."
	case ToolGetProviders:
		return "I don't have the provider list handy. I can still book you with the first available provider."
	}
	return "I'm not able to do that over the phone. Can I take a message for the office instead?"
}
