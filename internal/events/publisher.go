// Package events carries background search jobs over Kafka: the API
// publishes SearchRequested, the worker consumes it and publishes
// SearchCompleted for the notification service.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/compound-enrichment-service/internal/domain"
	"github.com/helixir/compound-enrichment-service/internal/observability"
)

// HeaderEventType names the message header holding the event type.
const HeaderEventType = "event_type"

// MessageWriter is the subset of *kafka.Writer used by Publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublisherConfig holds Kafka producer settings.
type PublisherConfig struct {
	Brokers            []string
	SearchRequestTopic string
	SearchResultTopic  string
	BatchTimeout       time.Duration
}

// Publisher writes search job events, keyed by job id so a job's events
// stay on one partition.
type Publisher struct {
	writer       MessageWriter
	requestTopic string
	resultTopic  string
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

// NewPublisher creates a publisher backed by a kafka.Writer. Topics are set
// per message.
func NewPublisher(cfg PublisherConfig, metrics *observability.Metrics, logger zerolog.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: cfg.BatchTimeout,
	}
	return NewPublisherWithWriter(writer, cfg, metrics, logger)
}

// NewPublisherWithWriter creates a publisher on an existing writer.
func NewPublisherWithWriter(writer MessageWriter, cfg PublisherConfig, metrics *observability.Metrics, logger zerolog.Logger) *Publisher {
	return &Publisher{
		writer:       writer,
		requestTopic: cfg.SearchRequestTopic,
		resultTopic:  cfg.SearchResultTopic,
		metrics:      metrics,
		logger:       logger.With().Str("component", "event_publisher").Logger(),
	}
}

// PublishSearchRequested enqueues a background search.
func (p *Publisher) PublishSearchRequested(ctx context.Context, event *domain.SearchRequested) error {
	return p.publish(ctx, p.requestTopic, event.JobID, event.EventType, event)
}

// PublishSearchCompleted reports a finished background search.
func (p *Publisher) PublishSearchCompleted(ctx context.Context, event *domain.SearchCompleted) error {
	return p.publish(ctx, p.resultTopic, event.JobID, event.EventType, event)
}

func (p *Publisher) publish(ctx context.Context, topic, key, eventType string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: HeaderEventType, Value: []byte(eventType)}},
		Time:    time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.metrics.RecordEventPublished(eventType)
	p.logger.Debug().
		Str("topic", topic).
		Str("job_id", key).
		Str("event_type", eventType).
		Msg("published event")
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
