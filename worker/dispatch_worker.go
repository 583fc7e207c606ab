package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"mailforge/campaign"
	"mailforge/queue"
	"mailforge/sequence"
)

// DispatchWorker wires the queue topics onto the engines that consume them.
// Every handler is idempotent, so at-least-once delivery is safe.
type DispatchWorker struct {
	Queue      queue.Queue
	Dispatcher *campaign.Dispatcher
	Pipeline   *campaign.Pipeline
	Segmenter  *campaign.Segmenter
	Engine     *sequence.Engine
	Logger     logrus.FieldLogger

	// RecheckDelay spaces out segment completion rechecks while deliveries
	// are still in flight
	RecheckDelay time.Duration
}

func NewDispatchWorker(q queue.Queue, dispatcher *campaign.Dispatcher, pipeline *campaign.Pipeline,
	segmenter *campaign.Segmenter, engine *sequence.Engine, logger logrus.FieldLogger) *DispatchWorker {
	return &DispatchWorker{
		Queue:        q,
		Dispatcher:   dispatcher,
		Pipeline:     pipeline,
		Segmenter:    segmenter,
		Engine:       engine,
		Logger:       logger,
		RecheckDelay: 10 * time.Second,
	}
}

// Start registers all handlers and runs the queue loop until ctx is done
func (w *DispatchWorker) Start(ctx context.Context) {
	w.Queue.Subscribe(queue.TopicDispatchTick, w.handleDispatchTick)
	w.Queue.Subscribe(queue.TopicDeliver, w.handleDeliver)
	w.Queue.Subscribe(queue.TopicSegmentCheck, w.handleSegmentCheck)
	w.Queue.Subscribe(queue.TopicSequenceSend, w.handleSequenceSend)

	w.Logger.Info("dispatch worker started")
	w.Queue.Start(ctx)
	w.Logger.Info("dispatch worker shutting down")
}

func (w *DispatchWorker) handleDispatchTick(ctx context.Context, body []byte) error {
	var p queue.DispatchTickPayload
	if err := json.Unmarshal(body, &p); err != nil {
		w.Logger.WithError(err).Error("malformed dispatch tick payload, dropping")
		return nil
	}
	_, err := w.Dispatcher.ProcessTick(ctx, p.CampaignID, p.SegmentID)
	return err
}

func (w *DispatchWorker) handleDeliver(ctx context.Context, body []byte) error {
	var p queue.DeliverPayload
	if err := json.Unmarshal(body, &p); err != nil {
		w.Logger.WithError(err).Error("malformed deliver payload, dropping")
		return nil
	}
	return w.Pipeline.Deliver(ctx, p.CampaignID, p.ContactID)
}

func (w *DispatchWorker) handleSegmentCheck(ctx context.Context, body []byte) error {
	var p queue.SegmentCheckPayload
	if err := json.Unmarshal(body, &p); err != nil {
		w.Logger.WithError(err).Error("malformed segment check payload, dropping")
		return nil
	}

	done, err := w.Segmenter.CompleteSegment(ctx, p.SegmentID)
	if err != nil {
		return err
	}
	if !done {
		// Deliveries still in flight, look again shortly
		return w.Queue.Publish(ctx, queue.TopicSegmentCheck, p, w.RecheckDelay)
	}
	return nil
}

func (w *DispatchWorker) handleSequenceSend(ctx context.Context, body []byte) error {
	var p queue.SequenceSendPayload
	if err := json.Unmarshal(body, &p); err != nil {
		w.Logger.WithError(err).Error("malformed sequence send payload, dropping")
		return nil
	}
	return w.Engine.DeliverEmail(ctx, p.SequenceEmailID)
}
