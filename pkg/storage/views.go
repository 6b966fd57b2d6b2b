package storage

import (
	"context"
	"time"

	"github.com/campuscode/harvest/pkg/core"
)

// The store interfaces overlap on method names (Get in particular), so the
// accessors below hand out narrow views of the same Store.

// Executions returns the execution store view.
func (s *Store) Executions() core.ExecutionStore { return s }

// Entities returns the entity store view.
func (s *Store) Entities() core.EntityStore { return s }

// Rules returns the rule store view.
func (s *Store) Rules() core.RuleStore { return s }

// Markers returns the dedup marker store view.
func (s *Store) Markers() core.MarkerStore { return s }

// Rewards returns the reward granter view.
func (s *Store) Rewards() core.RewardGranter { return s }

// Stats returns the snapshot store view.
func (s *Store) Stats() core.StatsStore { return statsView{s} }

type statsView struct{ s *Store }

func (v statsView) Get(ctx context.Context, entityID int64) (*core.Stats, error) {
	return v.s.GetStats(ctx, entityID)
}

func (v statsView) Upsert(ctx context.Context, stats *core.Stats) error {
	return v.s.UpsertStats(ctx, stats)
}

// Achievements returns the achievement store view.
func (s *Store) Achievements() core.AchievementStore { return achievementView{s} }

type achievementView struct{ s *Store }

func (v achievementView) Get(ctx context.Context, entityID, ruleID int64) (*core.Achievement, error) {
	return v.s.GetAchievement(ctx, entityID, ruleID)
}

func (v achievementView) UpdateProgress(ctx context.Context, entityID, ruleID int64, progress int) error {
	return v.s.UpdateProgress(ctx, entityID, ruleID, progress)
}

func (v achievementView) MarkAchieved(ctx context.Context, entityID, ruleID int64, progress int, at time.Time) (bool, error) {
	return v.s.MarkAchieved(ctx, entityID, ruleID, progress, at)
}
