package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// Defaults match the external API's documented hourly quota.
const (
	DefaultCapacity  = 5000
	DefaultThreshold = 100
	DefaultWindow    = time.Hour
)

// Admission is the result of a TryAdmit call. When Admitted is false,
// RetryAfter is the time remaining until the window resets.
type Admission struct {
	Admitted   bool
	RetryAfter time.Duration
}

// Budget gates callers against a rolling-window call quota. It never blocks:
// once remaining quota drops to the safety threshold it rejects and reports
// when to retry, and callers defer the work. The threshold protects against
// exhausting quota between the local check and the remote side's own
// accounting.
type Budget struct {
	mu          sync.Mutex
	capacity    int
	threshold   int
	window      time.Duration
	windowStart time.Time
	count       int

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Budget.
type Option func(*Budget)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Budget) { b.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Budget) { b.now = now }
}

// NewBudget creates a budget with the given capacity, safety threshold, and
// window length. Zero or negative values fall back to the defaults.
func NewBudget(capacity, threshold int, window time.Duration, opts ...Option) *Budget {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if window <= 0 {
		window = DefaultWindow
	}
	b := &Budget{
		capacity:  capacity,
		threshold: threshold,
		window:    window,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.windowStart = b.now()
	return b
}

// TryAdmit checks whether one more call fits the budget. It rejects once
// remaining quota is at or below the threshold.
func (b *Budget) TryAdmit() Admission {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetWindowIfElapsed()

	remaining := b.capacity - b.count
	if remaining <= b.threshold {
		retryAfter := b.untilReset()
		b.logger.Warn("rate budget threshold reached",
			"remaining", remaining,
			"retry_after", retryAfter)
		return Admission{Admitted: false, RetryAfter: retryAfter}
	}

	return Admission{Admitted: true}
}

// RecordSuccess counts one completed call against the window.
func (b *Budget) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
}

// Remaining returns the quota left in the current window.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetWindowIfElapsed()
	return b.capacity - b.count
}

// ObserveServerQuota reconciles the local counter with the remaining quota
// and reset time reported by the remote API. Local counting drifts across
// process restarts and multiple instances; the server's numbers are ground
// truth.
func (b *Budget) ObserveServerQuota(remaining int, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	used := b.capacity - remaining
	if used < 0 {
		used = 0
	}
	b.count = used
	b.windowStart = resetAt.Add(-b.window)

	b.logger.Debug("rate budget reconciled with server quota",
		"remaining", remaining,
		"reset_at", resetAt)
}

// ResetAt returns when the current window ends.
func (b *Budget) ResetAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.windowStart.Add(b.window)
}

// resetWindowIfElapsed lazily starts a fresh window. Callers must hold mu.
func (b *Budget) resetWindowIfElapsed() {
	now := b.now()
	if now.Sub(b.windowStart) >= b.window {
		b.windowStart = now
		b.count = 0
		b.logger.Info("rate budget window reset")
	}
}

// untilReset returns the time left in the window, clamped to zero.
// Callers must hold mu.
func (b *Budget) untilReset() time.Duration {
	left := b.window - b.now().Sub(b.windowStart)
	if left < 0 {
		return 0
	}
	return left
}
