// Package kafka publishes interaction events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/switchboard/pkg/eventstream"
)

// Config configures the Kafka publisher.
type Config struct {
	Brokers []string
	Topic   string

	// WriteTimeout bounds a single publish. Zero uses a 10s default.
	WriteTimeout time.Duration
}

// MessageWriter is the subset of *kafkago.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes each event as one message keyed by interaction id, so the
// created and completed events of an interaction land on the same partition.
type Publisher struct {
	writer       MessageWriter
	topic        string
	writeTimeout time.Duration
}

var _ eventstream.Publisher = (*Publisher)(nil)

// Option customizes a Publisher.
type Option func(*Publisher)

// WithWriter replaces the kafka-go writer.
func WithWriter(w MessageWriter) Option {
	return func(p *Publisher) {
		p.writer = w
	}
}

// NewPublisher creates a Kafka publisher.
func NewPublisher(cfg Config, opts ...Option) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka publisher requires a topic")
	}

	p := &Publisher{
		topic:        cfg.Topic,
		writeTimeout: cfg.WriteTimeout,
	}
	if p.writeTimeout <= 0 {
		p.writeTimeout = 10 * time.Second
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.writer == nil {
		p.writer = &kafkago.Writer{
			Addr:                   kafkago.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireOne,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		}
	}

	return p, nil
}

// PublishInteraction encodes the event as JSON and writes it.
func (p *Publisher) PublishInteraction(ctx context.Context, event *eventstream.InteractionEvent) error {
	if event == nil {
		return eventstream.ErrNilInteractionEvent
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding interaction event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	msg := kafkago.Message{
		Key:   []byte(event.Interaction.ID),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "schema_version", Value: []byte(fmt.Sprint(event.SchemaVersion))},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.topic, err)
	}

	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
