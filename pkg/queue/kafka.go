package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaProducer struct {
	writer *kafka.Writer
}

type KafkaConsumer struct {
	reader *kafka.Reader
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
		Async:    false,
	}

	return &KafkaProducer{writer: writer}
}

func NewKafkaConsumer(brokers []string, topic, groupID string) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: 1 * time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	return &KafkaConsumer{reader: reader}
}

// Publish writes a single message; the caller (internal/bus) is
// responsible for retry/backoff policy.
func (p *KafkaProducer) Publish(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}

	return p.writer.WriteMessages(ctx, message)
}

// Subscribe reads messages until ctx is cancelled or a read fails; a
// handler error (or an undecodable value) skips that message and the loop
// moves on. kafka-go commits the consumer offset per CommitInterval
// regardless of handler outcome, so Kafka's own offset advances as soon as
// a message is read — durability of individual messages past that point is
// the handler's responsibility (see internal/bus, which stages into a
// Redis-backed pending queue), and a message the handler fails on is not
// read again.
func (c *KafkaConsumer) Subscribe(ctx context.Context, handler func(Message) error) error {
	for {
		message, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		var value interface{}
		if err := json.Unmarshal(message.Value, &value); err != nil {
			continue
		}

		msg := Message{
			Key:   string(message.Key),
			Value: value,
			Topic: message.Topic,
		}

		if err := handler(msg); err != nil {
			continue
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type Message struct {
	Key   string
	Value interface{}
	Topic string
}
