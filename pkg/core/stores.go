package core

import (
	"context"
	"time"
)

// ExecutionStore persists collection run records. The scheduler reads the
// latest record per entity to decide skip, restart, or start.
type ExecutionStore interface {
	// Start creates a new execution in the running state.
	Start(ctx context.Context, exec *Execution) error

	// Restart moves a failed execution back to running, preserving its
	// identity and incrementing its attempt counter.
	Restart(ctx context.Context, executionID string) error

	// Complete finalizes a running execution as succeeded or failed.
	Complete(ctx context.Context, executionID string, execErr error) error

	// LatestByEntity returns the most recent execution for the entity, or
	// nil when none exists.
	LatestByEntity(ctx context.Context, entityID int64) (*Execution, error)

	// IsRunning reports whether any execution for the entity is running.
	IsRunning(ctx context.Context, entityID int64) (bool, error)
}

// EntityStore exposes the entities eligible for collection.
type EntityStore interface {
	Get(ctx context.Context, entityID int64) (*Entity, error)
	ActiveIDs(ctx context.Context) ([]int64, error)
}

// StatsStore holds the computed metrics snapshot per entity.
type StatsStore interface {
	// Get returns the snapshot, or nil when none has been computed yet.
	Get(ctx context.Context, entityID int64) (*Stats, error)
	Upsert(ctx context.Context, stats *Stats) error
}

// RuleStore exposes the administered challenge rules, read-only during
// evaluation.
type RuleStore interface {
	All(ctx context.Context) ([]Rule, error)
}

// AchievementStore tracks per-(entity, rule) progress.
type AchievementStore interface {
	// Get returns the record, or nil when the pair has never been evaluated.
	Get(ctx context.Context, entityID, ruleID int64) (*Achievement, error)

	// UpdateProgress upserts the current progress without touching the
	// achieved flag.
	UpdateProgress(ctx context.Context, entityID, ruleID int64, progress int) error

	// MarkAchieved flips achieved from false to true and reports whether
	// this call performed the transition. The check-and-set is atomic so
	// racing evaluators cannot both observe the transition.
	MarkAchieved(ctx context.Context, entityID, ruleID int64, progress int, at time.Time) (bool, error)
}

// MarkerStore is the durable dedup set shared by consumers in a group.
type MarkerStore interface {
	// AddIfAbsent atomically inserts the key, reporting true when the key
	// was new.
	AddIfAbsent(ctx context.Context, key string) (bool, error)
}

// RewardGranter receives reward side effects. Fire-and-forget from the rule
// engine's perspective; delivery failures are the granter's concern.
type RewardGranter interface {
	Grant(ctx context.Context, entityID int64, amount int, reason, category string) error
}
