package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/campuscode/harvest/pkg/core"
	"github.com/campuscode/harvest/pkg/metrics"
)

// Engine evaluates every administered rule for an entity against its
// current snapshot. A rule whose progress reaches 100 marks the
// achievement; the achieved flag flips false to true exactly once, and
// only that transition grants the reward.
type Engine struct {
	rules        core.RuleStore
	stats        core.StatsStore
	achievements core.AchievementStore
	rewards      core.RewardGranter

	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]Expr
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithEngineMetrics sets the metrics collector.
func WithEngineMetrics(m *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithEngineClock overrides the time source.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a rule engine over the given stores.
func NewEngine(rules core.RuleStore, stats core.StatsStore, achievements core.AchievementStore, rewards core.RewardGranter, opts ...EngineOption) *Engine {
	e := &Engine{
		rules:        rules,
		stats:        stats,
		achievements: achievements,
		rewards:      rewards,
		logger:       slog.Default(),
		now:          time.Now,
		cache:        make(map[string]Expr),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs every rule against the entity's snapshot. A missing
// snapshot is a no-op: the entity has never been collected. Per-rule
// failures score zero progress and never abort the pass.
func (e *Engine) Evaluate(ctx context.Context, entityID int64) error {
	snapshot, err := e.stats.Get(ctx, entityID)
	if err != nil {
		return fmt.Errorf("rules: load snapshot: %w", err)
	}
	if snapshot == nil {
		e.logger.Info("no snapshot yet, skipping evaluation", "entity_id", entityID)
		return nil
	}

	ruleSet, err := e.rules.All(ctx)
	if err != nil {
		return fmt.Errorf("rules: load rules: %w", err)
	}

	for _, rule := range ruleSet {
		if err := e.evaluateRule(ctx, entityID, rule, snapshot); err != nil {
			e.logger.Error("rule evaluation failed",
				"entity_id", entityID,
				"rule_id", rule.ID,
				"rule", rule.Name,
				"error", err)
		}
	}
	return nil
}

func (e *Engine) evaluateRule(ctx context.Context, entityID int64, rule core.Rule, snapshot *core.Stats) error {
	existing, err := e.achievements.Get(ctx, entityID, rule.ID)
	if err != nil {
		return fmt.Errorf("load achievement: %w", err)
	}
	if existing != nil && existing.Achieved {
		return nil
	}

	progress := e.score(rule, snapshot)

	if progress < 100 {
		if err := e.achievements.UpdateProgress(ctx, entityID, rule.ID, progress); err != nil {
			return fmt.Errorf("update progress: %w", err)
		}
		return nil
	}

	transitioned, err := e.achievements.MarkAchieved(ctx, entityID, rule.ID, progress, e.now())
	if err != nil {
		return fmt.Errorf("mark achieved: %w", err)
	}
	if !transitioned {
		// A concurrent evaluation already flipped the flag and granted.
		return nil
	}

	e.logger.Info("challenge achieved",
		"entity_id", entityID,
		"rule_id", rule.ID,
		"rule", rule.Name,
		"points", rule.Points)
	if err := e.rewards.Grant(ctx, entityID, rule.Points, "Challenge achieved: "+rule.Name, "CHALLENGE"); err != nil {
		return fmt.Errorf("grant reward: %w", err)
	}
	e.metrics.RecordReward()
	return nil
}

// score evaluates the rule's condition, treating any parse or eval failure
// as zero progress. A bad expression must never block the other rules.
func (e *Engine) score(rule core.Rule, snapshot *core.Stats) int {
	expr, err := e.compile(rule.Condition)
	if err != nil {
		e.logger.Error("invalid rule condition",
			"rule_id", rule.ID,
			"condition", rule.Condition,
			"error", err)
		return 0
	}
	progress, err := Progress(expr, snapshot)
	if err != nil {
		e.logger.Error("rule condition evaluation failed",
			"rule_id", rule.ID,
			"condition", rule.Condition,
			"error", err)
		return 0
	}
	return progress
}

// compile parses a condition, memoizing by source text. Rules change
// rarely; the cache only grows.
func (e *Engine) compile(condition string) (Expr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if expr, ok := e.cache[condition]; ok {
		return expr, nil
	}
	expr, err := Parse(condition)
	if err != nil {
		return nil, err
	}
	e.cache[condition] = expr
	return expr, nil
}
