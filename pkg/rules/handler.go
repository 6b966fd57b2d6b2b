package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/campuscode/harvest/pkg/core"
	"github.com/campuscode/harvest/pkg/metrics"
	"github.com/campuscode/harvest/pkg/stream"
)

// Handler adapts the engine to stream delivery: each recompute event
// triggers one evaluation pass for the event's entity. Events for entities
// that no longer exist are dropped as orphans.
type Handler struct {
	engine   *Engine
	entities core.EntityStore
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

// WithHandlerMetrics sets the metrics collector.
func WithHandlerMetrics(m *metrics.Collector) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates the stream handler driving the engine.
func NewHandler(engine *Engine, entities core.EntityStore, opts ...HandlerOption) *Handler {
	h := &Handler{
		engine:   engine,
		entities: entities,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle evaluates all rules for the event's entity. An unknown entity is
// not an error: the event is stale and dropping it is the right outcome.
func (h *Handler) Handle(ctx context.Context, entry stream.Entry) error {
	entity, err := h.entities.Get(ctx, entry.EntityID)
	if err != nil {
		return fmt.Errorf("rules: load entity %d: %w", entry.EntityID, err)
	}
	if entity == nil {
		h.metrics.RecordOrphan()
		h.logger.Warn("dropping event for unknown entity",
			"entity_id", entry.EntityID,
			"correlation_id", entry.CorrelationID)
		return nil
	}
	return h.engine.Evaluate(ctx, entry.EntityID)
}
