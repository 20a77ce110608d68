// Package events consumes CRM lifecycle events from Kafka and feeds them to the hooks.
package events

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/apperror"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/telemetry"
)

// MessageHandler processes one raw message value.
type MessageHandler func(ctx context.Context, value []byte) (event string, err error)

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	initialRetryBackoff = 500 * time.Millisecond
	maxRetryBackoff     = 30 * time.Second
)

// Consumer handles Kafka message consumption
type Consumer struct {
	reader    messageReader
	topic     string
	logger    *zap.Logger
	telemetry *telemetry.Metrics
	handler   MessageHandler
	wg        sync.WaitGroup
	cancel    context.CancelFunc

	retryBackoff    time.Duration
	maxRetryBackoff time.Duration
}

// NewConsumer creates a consumer-group reader for cfg.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger, metrics *telemetry.Metrics) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})
	return newConsumer(reader, cfg.Topic, handler, logger, metrics)
}

func newConsumer(reader messageReader, topic string, handler MessageHandler, logger *zap.Logger, metrics *telemetry.Metrics) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		reader:    reader,
		topic:     topic,
		logger:    logger.Named("events"),
		telemetry: metrics,
		handler:   handler,

		retryBackoff:    initialRetryBackoff,
		maxRetryBackoff: maxRetryBackoff,
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.Info("kafka consumer started", zap.String("topic", c.topic))
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer loop stopping")
			return
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
					return
				}
				c.logger.Error("failed to fetch message", zap.Error(err))
				continue
			}

			c.processMessage(ctx, msg)
		}
	}
}

// processMessage handles msg until it succeeds or is classified invalid, then commits it.
// Commits are offset based, so a later commit on the partition would skip a failed message:
// transient failures are retried in place with capped exponential backoff instead of moving
// on. Cancellation leaves msg uncommitted for redelivery.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	ctx, span := telemetry.StartSpan(ctx, "events.Consumer.processMessage",
		attribute.String("topic", msg.Topic),
		attribute.Int("partition", msg.Partition),
		attribute.Int64("offset", msg.Offset),
	)
	defer span.End()

	log := c.logger.With(
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	backoff := c.retryBackoff
	for attempt := 1; ; attempt++ {
		event, err := c.handler(ctx, msg.Value)
		if event == "" {
			event = "unknown"
		}
		if err == nil {
			c.telemetry.EventConsumed(event, "ok")
			break
		}
		if apperror.KindOf(err) == apperror.KindInvalidKey {
			// A malformed event will never succeed; commit so it does not block the partition.
			log.Warn("dropping invalid event", zap.String("event", event), zap.Error(err))
			c.telemetry.EventConsumed(event, "invalid")
			break
		}

		c.telemetry.EventConsumed(event, "error")
		log.Error("failed to process event, retrying",
			zap.String("event", event),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			log.Warn("consumer stopping with event uncommitted", zap.String("event", event))
			return
		case <-time.After(backoff):
			backoff *= 2
			if backoff > c.maxRetryBackoff {
				backoff = c.maxRetryBackoff
			}
		}
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.Error("failed to commit message", zap.Error(err))
	}
}
