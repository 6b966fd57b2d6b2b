package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campuscode/harvest/pkg/metrics"
	"github.com/campuscode/harvest/pkg/security"
)

// Publisher appends recompute-done events to the log. One publisher is
// bound to a single stream key.
type Publisher struct {
	log       Log
	streamKey string
	logger    *slog.Logger
	metrics   *metrics.Collector
	now       func() time.Time
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = logger }
}

// WithPublisherMetrics sets the metrics collector.
func WithPublisherMetrics(c *metrics.Collector) PublisherOption {
	return func(p *Publisher) { p.metrics = c }
}

// NewPublisher creates a publisher for the stream key.
func NewPublisher(log Log, streamKey string, opts ...PublisherOption) (*Publisher, error) {
	if err := security.ValidateStreamKey(streamKey); err != nil {
		return nil, fmt.Errorf("stream: invalid stream key %q: %w", streamKey, err)
	}
	p := &Publisher{
		log:       log,
		streamKey: streamKey,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish appends one event. The correlation id is the execution identity
// the consumer side dedups on; publishing the same correlation id twice is
// allowed and resolved downstream.
func (p *Publisher) Publish(ctx context.Context, entityID int64, correlationID string, computedAt time.Time) error {
	entry := &Entry{
		StreamKey:     p.streamKey,
		EntityID:      entityID,
		CorrelationID: correlationID,
		ComputedAt:    computedAt,
		CreatedAt:     p.now(),
	}
	seq, err := p.log.Append(ctx, entry)
	if err != nil {
		return fmt.Errorf("stream: append: %w", err)
	}
	p.metrics.RecordPublish()
	p.logger.Info("published recompute event",
		"stream", p.streamKey,
		"seq", seq,
		"entity_id", entityID,
		"correlation_id", correlationID)
	return nil
}
