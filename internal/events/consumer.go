package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/compound-enrichment-service/internal/domain"
	"github.com/helixir/compound-enrichment-service/internal/observability"
	"github.com/helixir/compound-enrichment-service/internal/pipeline"
)

// Job outcomes reported to metrics.
const (
	jobCompleted     = "completed"
	jobNoResults     = "no_results"
	jobInvalid       = "invalid"
	jobPublishFailed = "publish_failed"
)

const defaultPublishTimeout = 10 * time.Second

// MessageReader is the subset of *kafka.Reader used by the consumer.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Searcher runs a compound search.
type Searcher interface {
	Search(ctx context.Context, req pipeline.SearchRequest) []domain.AssayRecord
}

// CompletionPublisher reports finished jobs.
type CompletionPublisher interface {
	PublishSearchCompleted(ctx context.Context, event *domain.SearchCompleted) error
}

// ConsumerConfig holds settings for the search job consumer.
type ConsumerConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic carries SearchRequested events.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
	// Concurrency is the number of jobs processed at once.
	Concurrency int
	// JobTimeout bounds one search.
	JobTimeout time.Duration
	// PublishTimeout bounds the completion publish independently of
	// JobTimeout. Defaults to 10s.
	PublishTimeout time.Duration
}

// SearchJobConsumer runs background searches requested over Kafka.
type SearchJobConsumer struct {
	reader      MessageReader
	searcher    Searcher
	publisher   CompletionPublisher
	concurrency int
	jobTimeout  time.Duration
	pubTimeout  time.Duration
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

// NewSearchJobConsumer creates a consumer group reader for cfg.Topic.
func NewSearchJobConsumer(cfg ConsumerConfig, searcher Searcher, publisher CompletionPublisher, metrics *observability.Metrics, logger zerolog.Logger) *SearchJobConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return NewSearchJobConsumerWithReader(reader, cfg, searcher, publisher, metrics, logger)
}

// NewSearchJobConsumerWithReader creates a consumer on an existing reader.
func NewSearchJobConsumerWithReader(reader MessageReader, cfg ConsumerConfig, searcher Searcher, publisher CompletionPublisher, metrics *observability.Metrics, logger zerolog.Logger) *SearchJobConsumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	return &SearchJobConsumer{
		reader:      reader,
		searcher:    searcher,
		publisher:   publisher,
		concurrency: cfg.Concurrency,
		jobTimeout:  cfg.JobTimeout,
		pubTimeout:  cfg.PublishTimeout,
		metrics:     metrics,
		logger:      logger.With().Str("component", "search_job_consumer").Logger(),
	}
}

// Run consumes jobs until ctx is cancelled, then waits for in-flight jobs.
func (c *SearchJobConsumer) Run(ctx context.Context) error {
	c.logger.Info().Int("concurrency", c.concurrency).Msg("starting search job consumer")

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	defer func() { _ = g.Wait() }()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info().Msg("search job consumer stopped via context cancellation")
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info().Msg("search job reader closed")
				return nil
			}
			c.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		c.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received search job")

		var event domain.SearchRequested
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Error().Err(err).
				Str("raw_value", string(msg.Value)).
				Msg("failed to unmarshal search job")
			c.metrics.RecordJobConsumed(jobInvalid)
			continue
		}
		if strings.TrimSpace(event.Molecule) == "" || event.JobID == "" {
			c.logger.Warn().Str("job_id", event.JobID).Msg("search job without molecule or job id, skipping")
			c.metrics.RecordJobConsumed(jobInvalid)
			continue
		}

		g.Go(func() error {
			c.handle(context.WithoutCancel(ctx), &event)
			return nil
		})
	}
}

// handle runs one job and publishes its completion.
func (c *SearchJobConsumer) handle(ctx context.Context, event *domain.SearchRequested) {
	logger := observability.WithJobContext(c.logger, event.JobID, event.RequestedBy)
	ctx = observability.WithJobID(ctx, event.JobID)

	logger.Info().Str("molecule", event.Molecule).Msg("running search job")
	start := time.Now()
	records := c.search(ctx, event)
	completed := domain.NewSearchCompleted(event, records, time.Since(start))

	// The search deadline may have expired; the requester is still notified.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.pubTimeout)
	defer cancel()
	if err := c.publisher.PublishSearchCompleted(pubCtx, completed); err != nil {
		logger.Error().Err(err).Msg("failed to publish search completion")
		c.metrics.RecordJobConsumed(jobPublishFailed)
		return
	}

	outcome := jobCompleted
	if completed.Status == domain.SearchStatusNoResults {
		outcome = jobNoResults
	}
	c.metrics.RecordJobConsumed(outcome)
	logger.Info().
		Str("status", completed.Status).
		Int("result_count", completed.ResultCount).
		Int64("duration_ms", completed.DurationMS).
		Msg("search job finished")
}

func (c *SearchJobConsumer) search(ctx context.Context, event *domain.SearchRequested) []domain.AssayRecord {
	if c.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.jobTimeout)
		defer cancel()
	}
	return c.searcher.Search(ctx, pipeline.SearchRequest{
		Molecule:       event.Molecule,
		BioassayFilter: event.BioassayFilter,
		TargetClass:    event.TargetClass,
		MaxResults:     event.MaxResults,
	})
}

// Close closes the Kafka reader.
func (c *SearchJobConsumer) Close() error {
	c.logger.Info().Msg("closing search job consumer")
	return c.reader.Close()
}
