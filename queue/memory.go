package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const memMaxAttempts = 5

// MemoryQueue is an in-process Queue used in tests and single-node runs.
// Delayed jobs sit in a min-heap ordered by ready time; a small scheduler
// goroutine moves them to handlers as they come due.
type MemoryQueue struct {
	mu       sync.Mutex
	handlers map[string]Handler
	jobs     jobHeap
	wake     chan struct{}
	clock    func() time.Time
	log      logrus.FieldLogger
}

type memJob struct {
	topic    string
	payload  []byte
	readyAt  time.Time
	attempts int
}

type jobHeap []*memJob

func (h jobHeap) Len() int            { return len(h) }
func (h jobHeap) Less(i, j int) bool  { return h[i].readyAt.Before(h[j].readyAt) }
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(*memJob)) }
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	*h = old[:n-1]
	return job
}

func NewMemoryQueue(log logrus.FieldLogger) *MemoryQueue {
	return &MemoryQueue{
		handlers: make(map[string]Handler),
		wake:     make(chan struct{}, 1),
		clock:    time.Now,
		log:      log,
	}
}

func (q *MemoryQueue) Publish(_ context.Context, topic string, payload interface{}, delay time.Duration) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}

	q.mu.Lock()
	heap.Push(&q.jobs, &memJob{topic: topic, payload: raw, readyAt: q.clock().Add(delay)})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Subscribe(topic string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = handler
}

func (q *MemoryQueue) Start(ctx context.Context) {
	for {
		q.mu.Lock()
		var wait time.Duration = time.Second
		var due *memJob
		if q.jobs.Len() > 0 {
			next := q.jobs[0]
			if d := next.readyAt.Sub(q.clock()); d <= 0 {
				due = heap.Pop(&q.jobs).(*memJob)
			} else {
				wait = d
			}
		}
		q.mu.Unlock()

		if due != nil {
			q.run(ctx, due)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-time.After(wait):
		}
	}
}

// Drain synchronously runs every due job until the queue is empty. Test
// helper: lets delay math stay deterministic without running Start.
func (q *MemoryQueue) Drain(ctx context.Context) {
	for {
		q.mu.Lock()
		if q.jobs.Len() == 0 {
			q.mu.Unlock()
			return
		}
		job := heap.Pop(&q.jobs).(*memJob)
		q.mu.Unlock()
		q.run(ctx, job)
	}
}

func (q *MemoryQueue) run(ctx context.Context, job *memJob) {
	q.mu.Lock()
	handler, ok := q.handlers[job.topic]
	q.mu.Unlock()
	if !ok {
		q.log.WithField("topic", job.topic).Warn("no handler subscribed, dropping job")
		return
	}

	if err := handler(ctx, job.payload); err != nil {
		job.attempts++
		if job.attempts >= memMaxAttempts {
			q.log.WithError(err).WithFields(logrus.Fields{
				"topic":    job.topic,
				"attempts": job.attempts,
			}).Error("job permanently failed")
			return
		}
		// Linear backoff per attempt; the redis queue uses the same curve
		backoff := time.Duration(job.attempts) * 500 * time.Millisecond
		job.readyAt = q.clock().Add(backoff)
		q.mu.Lock()
		heap.Push(&q.jobs, job)
		q.mu.Unlock()
	}
}
