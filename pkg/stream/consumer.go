package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campuscode/harvest/pkg/core"
	"github.com/campuscode/harvest/pkg/metrics"
	"github.com/campuscode/harvest/pkg/security"
)

// Handler processes one delivered entry. A non-nil error is logged but
// does not prevent acknowledgement: the consumer guarantees at-least-once
// delivery, and the dedup marker guarantees the handler's side effects run
// at most once per correlation id.
type Handler interface {
	Handle(ctx context.Context, entry Entry) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, entry Entry) error

func (f HandlerFunc) Handle(ctx context.Context, entry Entry) error {
	return f(ctx, entry)
}

// Consumer reads a stream as a member of a consumer group. Delivered
// entries are acknowledged whether handling succeeded, failed, or was
// skipped as a duplicate; only a dedup store outage leaves an entry
// pending for redelivery.
type Consumer struct {
	log     Log
	markers core.MarkerStore
	handler Handler

	streamKey string
	group     string
	consumer  string

	pollInterval time.Duration
	batchSize    int
	recoveryMax  int

	logger  *slog.Logger
	metrics *metrics.Collector
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithPollInterval sets the poll period for new entries.
func WithPollInterval(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.pollInterval = d }
}

// WithBatchSize sets how many entries one poll may deliver.
func WithBatchSize(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithRecoveryMax bounds how many pending entries one recovery scan claims.
func WithRecoveryMax(n int) ConsumerOption {
	return func(c *Consumer) { c.recoveryMax = security.ClampPendingScan(n) }
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = logger }
}

// WithConsumerMetrics sets the metrics collector.
func WithConsumerMetrics(m *metrics.Collector) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

// NewConsumer creates a consumer in the given group.
func NewConsumer(log Log, markers core.MarkerStore, handler Handler, streamKey, group, consumer string, opts ...ConsumerOption) (*Consumer, error) {
	if err := security.ValidateStreamKey(streamKey); err != nil {
		return nil, fmt.Errorf("stream: invalid stream key %q: %w", streamKey, err)
	}
	if err := security.ValidateConsumerName(group); err != nil {
		return nil, fmt.Errorf("stream: invalid group %q: %w", group, err)
	}
	if err := security.ValidateConsumerName(consumer); err != nil {
		return nil, fmt.Errorf("stream: invalid consumer %q: %w", consumer, err)
	}
	c := &Consumer{
		log:          log,
		markers:      markers,
		handler:      handler,
		streamKey:    streamKey,
		group:        group,
		consumer:     consumer,
		pollInterval: time.Second,
		batchSize:    10,
		recoveryMax:  1000,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start recovers pending entries and then polls for new ones until the
// context is cancelled. Poll errors are logged; the loop never stops on
// its own.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.Recover(ctx); err != nil {
		c.logger.Error("pending recovery failed",
			"stream", c.streamKey,
			"group", c.group,
			"error", err)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.PollOnce(ctx); err != nil {
				c.logger.Error("poll failed",
					"stream", c.streamKey,
					"group", c.group,
					"error", err)
			}
		}
	}
}

// PollOnce reads one batch of new entries and processes each.
func (c *Consumer) PollOnce(ctx context.Context) error {
	entries, err := c.log.ReadNew(ctx, c.streamKey, c.group, c.consumer, c.batchSize)
	if err != nil {
		return fmt.Errorf("stream: read: %w", err)
	}
	for _, entry := range entries {
		c.process(ctx, entry, false)
	}
	return nil
}

// Recover reprocesses entries that were delivered to this consumer but
// never acknowledged, e.g. after a crash mid-handling. The scan is bounded;
// a backlog larger than the bound drains over successive restarts.
func (c *Consumer) Recover(ctx context.Context) error {
	entries, err := c.log.Pending(ctx, c.streamKey, c.group, c.consumer, c.recoveryMax)
	if err != nil {
		return fmt.Errorf("stream: pending scan: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	c.logger.Info("recovering pending entries",
		"stream", c.streamKey,
		"group", c.group,
		"count", len(entries))
	for _, entry := range entries {
		c.process(ctx, entry, true)
	}
	return nil
}

// process handles one entry. Duplicates, handler errors, and successes all
// acknowledge: the dedup marker on the correlation id makes redelivery
// harmless. A marker store error leaves the entry pending instead, so the
// next recovery scan redelivers it once the store is back.
func (c *Consumer) process(ctx context.Context, entry Entry, recovered bool) {
	fresh, err := c.markers.AddIfAbsent(ctx, c.markerKey(entry))
	if err != nil {
		c.logger.Error("dedup marker check failed, leaving entry pending",
			"seq", entry.Seq,
			"correlation_id", entry.CorrelationID,
			"error", err)
		return
	}
	if !fresh {
		c.metrics.RecordDuplicate()
		c.logger.Info("duplicate entry, already processed",
			"seq", entry.Seq,
			"correlation_id", entry.CorrelationID)
		c.ack(ctx, entry)
		return
	}

	if recovered {
		c.metrics.RecordRecovered()
	}

	if err := c.handler.Handle(ctx, entry); err != nil {
		c.logger.Error("handler failed, acking anyway",
			"seq", entry.Seq,
			"entity_id", entry.EntityID,
			"correlation_id", entry.CorrelationID,
			"error", err)
		c.ack(ctx, entry)
		return
	}
	c.metrics.RecordConsume()
	c.ack(ctx, entry)
}

func (c *Consumer) ack(ctx context.Context, entry Entry) {
	if err := c.log.Ack(ctx, c.streamKey, c.group, entry.Seq); err != nil {
		c.logger.Error("ack failed",
			"seq", entry.Seq,
			"group", c.group,
			"error", err)
	}
}

// markerKey namespaces the dedup marker by group so independent groups can
// each process the same entry once.
func (c *Consumer) markerKey(entry Entry) string {
	return c.group + ":" + entry.CorrelationID
}
