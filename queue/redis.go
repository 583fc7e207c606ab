package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	redisKeyPrefix   = "mailforge:jobs:"
	redisPollEvery   = 500 * time.Millisecond
	redisPageSize    = 50
	redisMaxAttempts = 5
)

// RedisQueue is a delayed job queue over a sorted set per topic: the score
// is the unix-millisecond ready time, so due jobs are a ZRANGEBYSCORE away.
// ZRem after read makes each member go to exactly one consumer per delivery;
// a crash between handler and removal redelivers, which the handlers accept.
type RedisQueue struct {
	client *redis.Client
	log    logrus.FieldLogger

	mu       sync.Mutex
	handlers map[string]Handler
}

type redisJob struct {
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
	Enqueued int64           `json:"enqueued"`
}

func NewRedisQueue(client *redis.Client, log logrus.FieldLogger) *RedisQueue {
	return &RedisQueue{
		client:   client,
		log:      log,
		handlers: make(map[string]Handler),
	}
}

func (q *RedisQueue) key(topic string) string {
	return redisKeyPrefix + topic
}

func (q *RedisQueue) Publish(ctx context.Context, topic string, payload interface{}, delay time.Duration) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	return q.add(ctx, topic, redisJob{Payload: raw, Enqueued: time.Now().UnixMilli()}, delay)
}

func (q *RedisQueue) add(ctx context.Context, topic string, job redisJob, delay time.Duration) error {
	member, err := json.Marshal(job)
	if err != nil {
		return err
	}
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, q.key(topic), &redis.Z{Score: readyAt, Member: member}).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", topic, err)
	}
	return nil
}

func (q *RedisQueue) Subscribe(topic string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = handler
}

func (q *RedisQueue) Start(ctx context.Context) {
	ticker := time.NewTicker(redisPollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.mu.Lock()
			topics := make([]string, 0, len(q.handlers))
			for t := range q.handlers {
				topics = append(topics, t)
			}
			q.mu.Unlock()

			for _, topic := range topics {
				q.poll(ctx, topic)
			}
		}
	}
}

func (q *RedisQueue) poll(ctx context.Context, topic string) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	members, err := q.client.ZRangeByScore(ctx, q.key(topic), &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: redisPageSize,
	}).Result()
	if err != nil {
		q.log.WithError(err).WithField("topic", topic).Error("queue poll failed")
		return
	}

	for _, member := range members {
		// Another consumer may have claimed this member between the range
		// read and here; removal count zero means we lost the race.
		removed, err := q.client.ZRem(ctx, q.key(topic), member).Result()
		if err != nil || removed == 0 {
			continue
		}

		var job redisJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			q.log.WithError(err).WithField("topic", topic).Error("dropping undecodable job")
			continue
		}
		q.dispatch(ctx, topic, job)
	}
}

func (q *RedisQueue) dispatch(ctx context.Context, topic string, job redisJob) {
	q.mu.Lock()
	handler, ok := q.handlers[topic]
	q.mu.Unlock()
	if !ok {
		return
	}

	if err := handler(ctx, job.Payload); err != nil {
		job.Attempts++
		if job.Attempts >= redisMaxAttempts {
			q.log.WithError(err).WithFields(logrus.Fields{
				"topic":    topic,
				"attempts": job.Attempts,
			}).Error("job permanently failed")
			return
		}
		backoff := time.Duration(job.Attempts) * 500 * time.Millisecond
		if reErr := q.add(ctx, topic, job, backoff); reErr != nil {
			q.log.WithError(reErr).WithField("topic", topic).Error("requeue failed, job lost")
		}
	}
}
