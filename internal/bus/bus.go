// Package bus implements the at-least-once event bus (component C).
//
// Kafka is the durable write path: publish commits the event to a Kafka
// topic before returning. An in-process ingest loop, run by each worker
// process as a member of one shared consumer group, drains Kafka and stages
// each message into a Redis-backed pending queue that implements the
// SQS-shaped receive/ack/visibility-timeout/dead-letter contract — a
// contract plain Kafka consumer-group offsets cannot express, since an
// offset commit has no notion of "this one message is still being worked
// on by someone else."
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/feed-system/feed-system/internal/config"
	"github.com/feed-system/feed-system/pkg/cache"
	"github.com/feed-system/feed-system/pkg/logger"
	"github.com/feed-system/feed-system/pkg/queue"
)

const (
	keyReady    = "bus:ready"
	keyMessages = "bus:messages"
	keyInflight = "bus:inflight"
	keyReceipts = "bus:receipts"
	keyDead     = "bus:dead"

	publishMaxAttempts = 3
)

type Bus struct {
	producer *queue.KafkaProducer
	consumer *queue.KafkaConsumer
	redis    *cache.RedisClient
	log      *logger.Logger

	visibilityTimeout time.Duration
	maxReceives       int
}

func New(producer *queue.KafkaProducer, consumer *queue.KafkaConsumer, redis *cache.RedisClient, cfg config.BusConfig, log *logger.Logger) *Bus {
	return &Bus{
		producer:          producer,
		consumer:          consumer,
		redis:             redis,
		log:               log,
		visibilityTimeout: cfg.VisibilityTimeout,
		maxReceives:       cfg.MaxReceives,
	}
}

// Publish durably commits the event to Kafka, retrying transient failures
// with exponential backoff up to PUBLISH_MAX_ATTEMPTS.
func (b *Bus) Publish(ctx context.Context, event PostCreatedEvent) error {
	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= publishMaxAttempts; attempt++ {
		lastErr = b.producer.Publish(ctx, fmt.Sprintf("%d", event.PostID), event)
		if lastErr == nil {
			return nil
		}
		b.log.WithError(lastErr).WithField("attempt", attempt).Warn("bus publish attempt failed")
		if attempt < publishMaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("publish post_created after %d attempts: %w", publishMaxAttempts, lastErr)
}

// Start runs the ingest loop (Kafka -> Redis pending queue) and the
// visibility-timeout sweep until ctx is cancelled. Both are safe to run in
// any number of bus instances sharing the same Redis.
func (b *Bus) Start(ctx context.Context) {
	go b.ingestLoop(ctx)
	go b.sweepLoop(ctx)
}

func (b *Bus) ingestLoop(ctx context.Context) {
	err := b.consumer.Subscribe(ctx, func(msg queue.Message) error {
		var event PostCreatedEvent
		if err := decodeEventValue(msg.Value, &event); err != nil {
			b.log.WithError(err).Error("discarding malformed post_created message")
			return nil
		}
		return b.Stage(ctx, event)
	})
	if err != nil && ctx.Err() == nil {
		b.log.WithError(err).Error("bus ingest loop stopped")
	}
}

// Stage writes an already-durable event into the Redis-backed pending
// queue. The ingest loop calls this for every message it drains from
// Kafka; it is exported so other in-process producers of durable events
// (and tests) can feed the pending queue without going through Kafka.
func (b *Bus) Stage(ctx context.Context, event PostCreatedEvent) error {
	id := uuid.NewString()
	env := envelope{MessageID: id, Event: event, ReceiveCount: 0}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.redis.HSet(ctx, keyMessages, id, string(data)); err != nil {
		return fmt.Errorf("stage message: %w", err)
	}
	return b.redis.RPush(ctx, keyReady, id)
}

// Receive long-polls up to wait for up to maxCount messages. Each returned
// message becomes invisible to other receivers until VisibilityTimeout
// elapses without an Ack.
func (b *Bus) Receive(ctx context.Context, maxCount int, wait time.Duration) ([]Message, error) {
	deadline := time.Now().Add(wait)
	var out []Message

	for len(out) < maxCount {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		popTimeout := remaining
		if popTimeout > time.Second {
			popTimeout = time.Second
		}
		result, err := b.redis.BLPop(ctx, popTimeout, keyReady)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			continue // timeout on this poll slice, keep polling until wait elapses
		}
		messageID := result[1]
		msg, ok, err := b.markInFlight(ctx, messageID)
		if err != nil {
			b.log.WithError(err).Error("failed to mark message in-flight")
			continue
		}
		if ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (b *Bus) markInFlight(ctx context.Context, messageID string) (Message, bool, error) {
	raw, err := b.redis.HGet(ctx, keyMessages, messageID)
	if err != nil {
		return Message{}, false, err
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Message{}, false, err
	}

	env.ReceiveCount++
	if env.ReceiveCount > b.maxReceives {
		return Message{}, false, b.deadLetter(ctx, env)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return Message{}, false, err
	}
	if err := b.redis.HSet(ctx, keyMessages, messageID, string(data)); err != nil {
		return Message{}, false, err
	}

	deadline := float64(time.Now().Add(b.visibilityTimeout).Unix())
	if err := b.redis.ZAdd(ctx, keyInflight, &redis.Z{Score: deadline, Member: messageID}); err != nil {
		return Message{}, false, err
	}

	receiptID := uuid.NewString()
	if err := b.redis.HSet(ctx, keyReceipts, receiptID, messageID); err != nil {
		return Message{}, false, err
	}

	return Message{ReceiptID: receiptID, Event: env.Event, ReceiveCount: env.ReceiveCount}, true, nil
}

// Ack removes the message from the pending store permanently.
func (b *Bus) Ack(ctx context.Context, receiptID string) error {
	messageID, err := b.redis.HGet(ctx, keyReceipts, receiptID)
	if err != nil {
		return fmt.Errorf("unknown receipt: %w", err)
	}
	_ = b.redis.HDel(ctx, keyReceipts, receiptID)
	_ = b.redis.ZRem(ctx, keyInflight, messageID)
	return b.redis.HDel(ctx, keyMessages, messageID)
}

func (b *Bus) deadLetter(ctx context.Context, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.redis.LPush(ctx, keyDead, string(data)); err != nil {
		return err
	}
	b.log.WithField("post_id", env.Event.PostID).Warn("post_created event moved to dead-letter sink after max receives")
	return b.redis.HDel(ctx, keyMessages, env.MessageID)
}

// sweepLoop requeues messages whose visibility deadline elapsed without an
// ack; an unacked redelivery is how a crashed worker's in-flight work is
// safely retried by another instance.
func (b *Bus) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweepOnce(ctx)
		}
	}
}

func (b *Bus) sweepOnce(ctx context.Context) {
	now := float64(time.Now().Unix())
	expired, err := b.redis.ZRangeByScore(ctx, keyInflight, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)})
	if err != nil {
		b.log.WithError(err).Error("visibility sweep failed to scan in-flight set")
		return
	}
	for _, messageID := range expired {
		_ = b.redis.ZRem(ctx, keyInflight, messageID)
		raw, err := b.redis.HGet(ctx, keyMessages, messageID)
		if err != nil {
			continue // already acked between the scan and this read
		}
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		if env.ReceiveCount >= b.maxReceives {
			_ = b.deadLetter(ctx, env)
			continue
		}
		_ = b.redis.RPush(ctx, keyReady, messageID)
	}
}

// Available is the liveness probe consulted by the health endpoint.
func (b *Bus) Available(ctx context.Context) bool {
	return b.redis.Ping(ctx) == nil
}

func decodeEventValue(value interface{}, out *PostCreatedEvent) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
