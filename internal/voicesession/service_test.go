package voicesession

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-voice-platform/internal/clinic"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

type fakeSQS struct {
	mu     sync.Mutex
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) events(t *testing.T) []CallEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CallEvent, 0, len(f.inputs))
	for _, in := range f.inputs {
		var ev CallEvent
		require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &ev))
		out = append(out, ev)
	}
	return out
}

type harness struct {
	svc   *Service
	calls *ActiveCalls
	sqs   *fakeSQS
	store *clinic.Store
	logs  *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rdb := setupTestRedis(t)
	store := clinic.NewStore(rdb)
	require.NoError(t, store.Set(context.Background(), &clinic.Binding{
		OrgID:         "org-1",
		ClinicName:    "Harbor Pediatrics",
		DialedNumber:  "+15550102000",
		PhoneNumberID: "pn_abc",
		AssistantID:   "asst-9",
		Availability:  clinic.AvailabilityPolicy{Mode: clinic.AvailabilityAlways},
		Fallback:      clinic.FallbackPolicy{Mode: clinic.FallbackVoicemail},
		Active:        true,
	}))

	fake := &fakeSQS{}
	queue, err := NewSQSQueue(fake, "https://sqs.us-east-1.amazonaws.com/123/call-events")
	require.NoError(t, err)

	logs := &bytes.Buffer{}
	logger := logging.NewWithWriter(logs, "debug")
	calls := NewActiveCalls(rdb, 0)
	return &harness{
		svc:   NewService(store, calls, NewPublisher(queue, logger), nil, logger),
		calls: calls,
		sqs:   fake,
		store: store,
		logs:  logs,
	}
}

func statusUpdate(status string) Webhook {
	return Webhook{Message: Message{
		Type:   TypeStatusUpdate,
		Status: status,
		Call: Call{
			ID:                  "vapi-call-1",
			PhoneNumberID:       "pn_abc",
			PhoneCallProviderID: "CA100",
		},
	}}
}

func TestHandle_AssistantRequest(t *testing.T) {
	h := newHarness(t)

	resp := h.svc.Handle(context.Background(), Webhook{Message: Message{
		Type: TypeAssistantRequest,
		Call: Call{ID: "c1", PhoneNumberID: "pn_abc"},
	}})
	assert.Equal(t, "asst-9", resp.AssistantID)
	assert.Empty(t, resp.Error)
}

func TestHandle_AssistantRequestUnbound(t *testing.T) {
	h := newHarness(t)

	resp := h.svc.Handle(context.Background(), Webhook{Message: Message{
		Type:        TypeAssistantRequest,
		PhoneNumber: PhoneNumber{Number: "+15559990000"},
	}})
	assert.Empty(t, resp.AssistantID)
	assert.NotEmpty(t, resp.Error)
}

func TestHandle_StatusUpdatesTrackCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Registering the same carrier call again after admission keeps one entry.
	require.NoError(t, h.calls.Start(ctx, "org-1", "CA100"))
	resp := h.svc.Handle(ctx, statusUpdate(StatusInProgress))
	assert.True(t, resp.Received)

	n, err := h.calls.Count(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h.svc.Handle(ctx, statusUpdate(StatusEnded))
	n, err = h.calls.Count(ctx, "org-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandle_StatusUpdateUsesPlatformIDWithoutCarrierID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	hook := statusUpdate(StatusInProgress)
	hook.Message.Call.PhoneCallProviderID = ""
	h.svc.Handle(ctx, hook)

	n, err := h.calls.Count(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandle_EndOfCallReportPublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.calls.Start(ctx, "org-1", "CA100"))

	resp := h.svc.Handle(ctx, Webhook{Message: Message{
		Type:         TypeEndOfCallReport,
		Call:         Call{ID: "vapi-call-1", PhoneNumberID: "pn_abc", PhoneCallProviderID: "CA100", Customer: Customer{Number: "+15551234567"}},
		EndedReason:  "customer-ended-call",
		Summary:      "Caller booked a cleaning.",
		RecordingURL: "https://recordings.example.com/1.wav",
		DurationSecs: 184,
	}})
	assert.True(t, resp.Received)

	events := h.sqs.events(t)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, EventCallEnded, ev.Kind)
	assert.Equal(t, "org-1", ev.OrgID)
	assert.Equal(t, "vapi-call-1", ev.CallID)
	assert.Equal(t, "+15551234567", ev.CallerNumber)
	assert.Equal(t, "Caller booked a cleaning.", ev.Summary)
	assert.Equal(t, float64(184), ev.DurationSeconds)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.OccurredAt.IsZero())
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123/call-events", aws.ToString(h.sqs.inputs[0].QueueUrl))

	n, err := h.calls.Count(ctx, "org-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandle_PublishFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	h.sqs.err = errors.New("throttled")

	resp := h.svc.Handle(context.Background(), Webhook{Message: Message{
		Type: TypeEndOfCallReport,
		Call: Call{ID: "vapi-call-1", PhoneNumberID: "pn_abc"},
	}})
	assert.True(t, resp.Received)
	assert.Contains(t, h.logs.String(), "failed to publish end-of-call report")
}

func TestHandle_WithoutPublisher(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, nil)
	resp := svc.Handle(context.Background(), Webhook{Message: Message{Type: TypeEndOfCallReport, Call: Call{ID: "c1"}}})
	assert.True(t, resp.Received)
}

func TestHandle_UnknownTypeIgnored(t *testing.T) {
	h := newHarness(t)
	resp := h.svc.Handle(context.Background(), Webhook{Message: Message{Type: "speech-update"}})
	assert.True(t, resp.Received)
	assert.Empty(t, h.sqs.events(t))
}

func TestRecordVoicemail(t *testing.T) {
	h := newHarness(t)

	err := h.svc.RecordVoicemail(context.Background(), EventVoicemailTranscribed, Voicemail{
		Dialed:       "+15550102000",
		CallID:       "CA200",
		CallerNumber: "+15557654321",
		Transcript:   "Hi, this is Sam calling about my refill.",
	})
	require.NoError(t, err)

	events := h.sqs.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, EventVoicemailTranscribed, events[0].Kind)
	assert.Equal(t, "org-1", events[0].OrgID)
	assert.Equal(t, "Hi, this is Sam calling about my refill.", events[0].Transcript)
}

func TestRecordVoicemailUnboundStillPublishes(t *testing.T) {
	h := newHarness(t)

	err := h.svc.RecordVoicemail(context.Background(), EventVoicemailRecorded, Voicemail{
		Dialed:       "+15550000000",
		CallID:       "CA201",
		RecordingURL: "https://recordings.example.com/2.wav",
	})
	require.NoError(t, err)

	events := h.sqs.events(t)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].OrgID)
}

func TestNewSQSQueueValidation(t *testing.T) {
	_, err := NewSQSQueue(nil, "url")
	assert.Error(t, err)
	_, err = NewSQSQueue(&fakeSQS{}, "")
	assert.Error(t, err)
}

func TestParsedArguments(t *testing.T) {
	obj := ToolFunction{Arguments: json.RawMessage(`{"date":"2026-03-02"}`)}
	assert.Equal(t, map[string]any{"date": "2026-03-02"}, obj.ParsedArguments())

	str := ToolFunction{Arguments: json.RawMessage(`"{\"date\":\"2026-03-02\"}"`)}
	assert.Equal(t, map[string]any{"date": "2026-03-02"}, str.ParsedArguments())

	bad := ToolFunction{Arguments: json.RawMessage(`"not json"`)}
	assert.Empty(t, bad.ParsedArguments())

	assert.Empty(t, ToolFunction{}.ParsedArguments())
}

func TestMessageAccessors(t *testing.T) {
	msg := Message{
		Call:        Call{ID: "c1"},
		PhoneNumber: PhoneNumber{Number: "+15550102000"},
		Customer:    Customer{Number: "+15551112222"},
	}
	assert.Equal(t, "c1", msg.CallKey())
	assert.Equal(t, "+15550102000", msg.DialedID())
	assert.Equal(t, "+15551112222", msg.CallerNumber())
}

func TestHandle_DuplicateEndOfCallReportPublishedOnce(t *testing.T) {
	h := newHarness(t)
	h.svc.WithProcessedStore(NewProcessedStore(setupTestRedis(t), 0))
	report := Webhook{Message: Message{
		Type:        TypeEndOfCallReport,
		Call:        Call{ID: "vapi-call-7", PhoneNumberID: "pn_abc"},
		EndedReason: "assistant-ended-call",
	}}

	assert.True(t, h.svc.Handle(context.Background(), report).Received)
	assert.True(t, h.svc.Handle(context.Background(), report).Received)

	assert.Len(t, h.sqs.events(t), 1)
	assert.Contains(t, h.logs.String(), "duplicate end-of-call report skipped")
}

func TestProcessedStoreMarksOnce(t *testing.T) {
	store := NewProcessedStore(setupTestRedis(t), time.Minute)
	ctx := context.Background()

	first, err := store.MarkProcessed(ctx, EventCallEnded, "call-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.MarkProcessed(ctx, EventCallEnded, "call-1")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := store.MarkProcessed(ctx, EventVoicemailRecorded, "call-1")
	require.NoError(t, err)
	assert.True(t, other)
}
