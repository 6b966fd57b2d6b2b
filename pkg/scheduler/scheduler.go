package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campuscode/harvest/pkg/core"
	"github.com/campuscode/harvest/pkg/metrics"
)

// Runner performs the collection work for one execution. Implementations
// are expected to persist the resulting metrics snapshot and publish the
// recompute-done event before returning.
type Runner interface {
	Run(ctx context.Context, entityID int64, executionID string) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, entityID int64, executionID string) error

func (f RunnerFunc) Run(ctx context.Context, entityID int64, executionID string) error {
	return f(ctx, entityID, executionID)
}

// Scheduler drains a priority queue of collection requests on a fixed
// period. Each drain pops one request and consults the execution store:
// a running execution drops the request, a failed one is restarted under
// its original identity, otherwise a fresh execution starts. Launch
// failures are logged and never stop the drain loop.
type Scheduler struct {
	queue      *requestQueue
	executions core.ExecutionStore
	entities   core.EntityStore
	runner     Runner

	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Collector
	now      func() time.Time

	wg sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithDrainInterval sets the drain period.
func WithDrainInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler draining into the given stores and runner.
func New(executions core.ExecutionStore, entities core.EntityStore, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:      newRequestQueue(),
		executions: executions,
		entities:   entities,
		runner:     runner,
		interval:   time.Second,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit queues a collection request for the entity. Duplicate submissions
// may create duplicate queue entries; the drain step drops them when an
// execution is already running.
func (s *Scheduler) Submit(entityID int64, priority core.Priority) {
	s.queue.push(core.JobRequest{
		EntityID:    entityID,
		Priority:    priority,
		RequestedAt: s.now(),
	})
	s.metrics.RecordSubmit(priority.String())
	s.metrics.SetQueueDepth(s.queue.len())
	s.logger.Info("submitted collection request",
		"entity_id", entityID,
		"priority", priority.String())
}

// QueueDepth returns the number of queued requests.
func (s *Scheduler) QueueDepth() int {
	return s.queue.len()
}

// Start runs the drain loop until the context is cancelled, then waits for
// in-flight launches to settle.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.DrainOnce(ctx)
		}
	}
}

// DrainOnce pops and processes a single request. It is exported so sweeps
// and tests can drive the scheduler without the ticker.
func (s *Scheduler) DrainOnce(ctx context.Context) {
	req := s.queue.pop()
	if req == nil {
		return
	}
	s.metrics.SetQueueDepth(s.queue.len())

	if err := s.launch(ctx, req); err != nil {
		s.metrics.RecordLaunchFailure()
		s.logger.Error("failed to launch execution",
			"entity_id", req.EntityID,
			"error", err)
	}
}

func (s *Scheduler) launch(ctx context.Context, req *core.JobRequest) error {
	running, err := s.executions.IsRunning(ctx, req.EntityID)
	if err != nil {
		return fmt.Errorf("scheduler: running check: %w", err)
	}
	if running {
		// The in-flight execution is trusted to finish or fail; the
		// request is dropped, not requeued.
		s.metrics.RecordSkip()
		s.logger.Info("execution already running, dropping request",
			"entity_id", req.EntityID)
		return nil
	}

	latest, err := s.executions.LatestByEntity(ctx, req.EntityID)
	if err != nil {
		return fmt.Errorf("scheduler: latest lookup: %w", err)
	}

	if latest != nil && latest.Status == core.ExecutionFailed {
		return s.restart(ctx, latest)
	}
	return s.startNew(ctx, req.EntityID)
}

// restart relaunches a failed execution under its original identity so the
// retry history stays attributable to one logical run.
func (s *Scheduler) restart(ctx context.Context, exec *core.Execution) error {
	if err := s.executions.Restart(ctx, exec.ID); err != nil {
		return fmt.Errorf("scheduler: restart: %w", err)
	}
	s.metrics.RecordLaunch("restart")
	s.logger.Info("restarting failed execution",
		"execution_id", exec.ID,
		"entity_id", exec.EntityID,
		"attempt", exec.Attempt+1)
	s.run(ctx, exec.EntityID, exec.ID)
	return nil
}

func (s *Scheduler) startNew(ctx context.Context, entityID int64) error {
	exec := &core.Execution{
		ID:          uuid.New().String(),
		EntityID:    entityID,
		Status:      core.ExecutionRunning,
		ScheduledAt: s.now(),
		Attempt:     1,
	}
	if err := s.executions.Start(ctx, exec); err != nil {
		return fmt.Errorf("scheduler: start: %w", err)
	}
	s.metrics.RecordLaunch("new")
	s.logger.Info("starting new execution",
		"execution_id", exec.ID,
		"entity_id", entityID,
		"scheduled_at", exec.ScheduledAt)
	s.run(ctx, entityID, exec.ID)
	return nil
}

// run executes the collection work asynchronously and records the outcome.
// The outcome write uses a context detached from cancellation: shutdown
// cancels the work, but a record left RUNNING would make the skip-if-running
// check drop every future request for the entity.
func (s *Scheduler) run(ctx context.Context, entityID int64, executionID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := s.runGuarded(ctx, entityID, executionID)
		recordCtx := context.WithoutCancel(ctx)
		if completeErr := s.executions.Complete(recordCtx, executionID, err); completeErr != nil {
			s.logger.Error("failed to record execution outcome",
				"execution_id", executionID,
				"error", completeErr)
		}
		if err != nil {
			s.logger.Error("execution failed",
				"execution_id", executionID,
				"entity_id", entityID,
				"error", err)
		} else {
			s.logger.Info("execution succeeded",
				"execution_id", executionID,
				"entity_id", entityID)
		}
	}()
}

func (s *Scheduler) runGuarded(ctx context.Context, entityID int64, executionID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.runner.Run(ctx, entityID, executionID)
}

// Wait blocks until all in-flight launches settle. Intended for tests and
// shutdown paths.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Seed enqueues a collection request for every active entity: high priority
// when the entity's quota reset time is unknown or already passed, low
// priority otherwise. Run at process start and from sweeps.
func (s *Scheduler) Seed(ctx context.Context) error {
	ids, err := s.entities.ActiveIDs(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: seed: %w", err)
	}

	var immediate, deferred int
	now := s.now()
	for _, id := range ids {
		entity, err := s.entities.Get(ctx, id)
		if err != nil || entity == nil {
			continue
		}
		if entity.QuotaResetAt == nil || entity.QuotaResetAt.Before(now) {
			s.Submit(id, core.PriorityHigh)
			immediate++
			continue
		}
		s.Submit(id, core.PriorityLow)
		deferred++
	}

	s.logger.Info("scheduler seeded",
		"immediate", immediate,
		"deferred", deferred)
	return nil
}
