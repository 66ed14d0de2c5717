// Package admission decides, per inbound call, whether the AI receptionist
// takes the call or the clinic's fallback policy runs, and renders the answer
// as TeXML the carrier can execute.
package admission

import (
	"bytes"
	"encoding/xml"
	"errors"
)

// Outcome labels an admission decision. It doubles as the metrics label.
type Outcome string

const (
	OutcomeBridge    Outcome = "bridge"
	OutcomeVoicemail Outcome = "voicemail"
	OutcomeForward   Outcome = "forward"
	OutcomeBusy      Outcome = "busy"
	OutcomeUnbound   Outcome = "unbound"
	OutcomeHangup    Outcome = "hangup"
)

// Instruction is what the carrier should do with the call.
type Instruction struct {
	Outcome Outcome
	OrgID   string
	Reason  string
	Verbs   []any
}

// Terminal reports whether the instruction ends the call without a human or AI leg.
func (i Instruction) Terminal() bool {
	return i.Outcome == OutcomeUnbound || i.Outcome == OutcomeBusy || i.Outcome == OutcomeHangup
}

type texmlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type texmlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type texmlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type texmlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type texmlRecord struct {
	XMLName                 xml.Name `xml:"Record"`
	MaxLength               int      `xml:"maxLength,attr,omitempty"`
	PlayBeep                bool     `xml:"playBeep,attr"`
	Action                  string   `xml:"action,attr,omitempty"`
	RecordingStatusCallback string   `xml:"recordingStatusCallback,attr,omitempty"`
	Transcribe              bool     `xml:"transcribe,attr,omitempty"`
	TranscribeCallback      string   `xml:"transcribeCallback,attr,omitempty"`
}

type texmlDial struct {
	XMLName  xml.Name  `xml:"Dial"`
	Action   string    `xml:"action,attr,omitempty"`
	Timeout  int       `xml:"timeout,attr,omitempty"`
	CallerID string    `xml:"callerId,attr,omitempty"`
	Number   string    `xml:"Number,omitempty"`
	Sip      *texmlSip `xml:"Sip,omitempty"`
}

type texmlSip struct {
	URI string `xml:",chardata"`
}

// Render encodes the instruction as a TeXML document.
func (i Instruction) Render() (string, error) {
	if len(i.Verbs) == 0 {
		return "", errors.New("admission: instruction has no verbs")
	}

	r := texmlResponse{Verbs: i.Verbs}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// HangupDocument is served when an instruction cannot be rendered.
const HangupDocument = xml.Header + "<Response>\n  <Hangup></Hangup>\n</Response>"

func say(text string) texmlSay {
	return texmlSay{Voice: "alice", Text: text}
}
