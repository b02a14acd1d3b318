// Package events publishes client analytics events.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// Event is one analytics event as it is written to the topic.
type Event struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	UserID     uint           `json:"userId,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// KafkaPublisher writes events synchronously to a Kafka topic keyed by user.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewKafkaPublisher connects a synchronous producer to brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}
	return newKafkaPublisher(producer, topic, logger), nil
}

func newKafkaPublisher(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", e.Name, err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(fmt.Sprint(e.UserID)),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		p.logger.ErrorContext(ctx, fmt.Sprintf("failed to publish event %s", e.Name), slog.Any("error", err))
		return fmt.Errorf("failed to publish event %s: %w", e.Name, err)
	}

	p.logger.DebugContext(ctx, fmt.Sprintf("published event %s", e.Name),
		slog.Int("partition", int(partition)), slog.Int64("offset", offset))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// LogPublisher writes events to the logger. It is used when no brokers are
// configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	if e.Name == "" {
		return errors.New("event name is required")
	}
	p.logger.InfoContext(ctx, fmt.Sprintf("analytics event %s", e.Name),
		slog.String("event_id", e.ID), slog.Any("properties", e.Properties))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
