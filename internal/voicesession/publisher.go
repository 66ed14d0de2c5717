package voicesession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

// EventKind labels a published call event.
type EventKind string

const (
	EventCallEnded            EventKind = "call.ended.v1"
	EventVoicemailRecorded    EventKind = "voicemail.recorded.v1"
	EventVoicemailTranscribed EventKind = "voicemail.transcribed.v1"
)

// CallEvent is the message written to the call events queue for downstream
// consumers (staff follow-up, CRM sync).
type CallEvent struct {
	ID              string    `json:"id"`
	Kind            EventKind `json:"kind"`
	OrgID           string    `json:"org_id,omitempty"`
	CallID          string    `json:"call_id"`
	CallerNumber    string    `json:"caller_number,omitempty"`
	EndedReason     string    `json:"ended_reason,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	Transcript      string    `json:"transcript,omitempty"`
	RecordingURL    string    `json:"recording_url,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

type queueClient interface {
	Send(ctx context.Context, body string) error
}

// SQSAPI is the slice of the SQS client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSQueue sends call events to an SQS queue.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
}

// NewSQSQueue wraps an SQS client for the given queue.
func NewSQSQueue(client SQSAPI, queueURL string) (*SQSQueue, error) {
	if client == nil {
		return nil, errors.New("voicesession: SQS client cannot be nil")
	}
	if queueURL == "" {
		return nil, errors.New("voicesession: SQS queueURL cannot be empty")
	}
	return &SQSQueue{client: client, queueURL: queueURL}, nil
}

func (q *SQSQueue) Send(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("voicesession: failed to send SQS message: %w", err)
	}
	return nil
}

// Publisher writes call events to a queue. A nil Publisher drops events.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
	now    func() time.Time
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("voicesession: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
		now:    time.Now,
	}
}

// Publish assigns the event an ID and timestamp when missing and enqueues it.
func (p *Publisher) Publish(ctx context.Context, event CallEvent) error {
	if p == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("voicesession: marshal call event: %w", err)
	}
	if err := p.queue.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("voicesession: failed to enqueue call event: %w", err)
	}

	p.logger.Debug("call event enqueued", "event_id", event.ID, "kind", event.Kind, "call_id", event.CallID)
	return nil
}
