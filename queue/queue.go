package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Topics consumed by the workers. Every queued unit of work is delivered
// at least once; handlers must be idempotent under redelivery.
const (
	// TopicDispatchTick pages pending recipients for one campaign
	TopicDispatchTick = "campaign.dispatch"
	// TopicDeliver sends to a single campaign recipient
	TopicDeliver = "campaign.deliver"
	// TopicSegmentCheck rolls up a segment once its deliveries drain
	TopicSegmentCheck = "segment.check"
	// TopicSequenceSend delivers one sequence step email
	TopicSequenceSend = "sequence.send"
)

// DispatchTickPayload drives one batch-dispatch page
type DispatchTickPayload struct {
	CampaignID uint  `json:"campaign_id"`
	SegmentID  *uint `json:"segment_id,omitempty"`
}

// DeliverPayload identifies a single recipient delivery task
type DeliverPayload struct {
	CampaignID uint `json:"campaign_id"`
	ContactID  uint `json:"contact_id"`
}

// SegmentCheckPayload identifies a segment completion check
type SegmentCheckPayload struct {
	SegmentID uint `json:"segment_id"`
}

// SequenceSendPayload identifies one sequence step-send attempt
type SequenceSendPayload struct {
	SequenceEmailID uint `json:"sequence_email_id"`
}

// Handler processes one job. Returning an error requeues the job with
// backoff; terminal per-item failures are absorbed by the handler itself
// so only genuinely retryable conditions (rate limits, store hiccups)
// propagate.
type Handler func(ctx context.Context, payload []byte) error

// Queue is a topic-based job queue with optional delayed publication.
// The delay is the system's backpressure mechanism: dispatch ticks requeue
// themselves with a short delay instead of looping in process.
type Queue interface {
	Publish(ctx context.Context, topic string, payload interface{}, delay time.Duration) error
	Subscribe(topic string, handler Handler)
	// Start runs the consumers until the context is cancelled
	Start(ctx context.Context)
}

func marshalPayload(payload interface{}) ([]byte, error) {
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}
