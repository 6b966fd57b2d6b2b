// Package collect implements the collection run: fetch an entity's remote
// activity through the rate-gated client, fold it into a metrics snapshot,
// persist it, and publish the recompute-done event.
package collect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campuscode/harvest/pkg/core"
	"github.com/campuscode/harvest/pkg/stream"
)

// Querier is the slice of the API client the collector needs.
type Querier interface {
	Query(ctx context.Context, query string, variables map[string]any, out any) error
}

// activityQuery fetches everything one snapshot needs in a single call to
// keep rate budget consumption at one unit per collection.
const activityQuery = `
query($login: String!) {
  member(login: $login) {
    contributions {
      totalCommits
      totalLines
      totalAdditions
      totalDeletions
      totalPullRequests
      totalIssues
    }
    repositories {
      ownedCount
      contributedCount
      starsReceived
      forksReceived
    }
    recentCommits {
      committedAt
    }
  }
}`

type activityResponse struct {
	Member struct {
		Contributions struct {
			TotalCommits      int `json:"totalCommits"`
			TotalLines        int `json:"totalLines"`
			TotalAdditions    int `json:"totalAdditions"`
			TotalDeletions    int `json:"totalDeletions"`
			TotalPullRequests int `json:"totalPullRequests"`
			TotalIssues       int `json:"totalIssues"`
		} `json:"contributions"`
		Repositories struct {
			OwnedCount       int `json:"ownedCount"`
			ContributedCount int `json:"contributedCount"`
			StarsReceived    int `json:"starsReceived"`
			ForksReceived    int `json:"forksReceived"`
		} `json:"repositories"`
		RecentCommits []struct {
			CommittedAt time.Time `json:"committedAt"`
		} `json:"recentCommits"`
	} `json:"member"`
}

// Night hours follow the platform's definition: commits landing between
// 22:00 and 06:00 local to the commit timestamp.
const (
	nightStartHour = 22
	nightEndHour   = 6
)

// Collector runs one collection per execution. It satisfies the
// scheduler's Runner contract.
type Collector struct {
	client    Querier
	entities  core.EntityStore
	stats     core.StatsStore
	publisher *stream.Publisher

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) { c.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// New creates a collector.
func New(client Querier, entities core.EntityStore, stats core.StatsStore, publisher *stream.Publisher, opts ...Option) *Collector {
	c := &Collector{
		client:    client,
		entities:  entities,
		stats:     stats,
		publisher: publisher,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run fetches the entity's activity, stores the snapshot, and publishes
// the recompute event keyed by the execution id. Any failure leaves the
// execution failed so the scheduler restarts it on the next trigger.
func (c *Collector) Run(ctx context.Context, entityID int64, executionID string) error {
	entity, err := c.entities.Get(ctx, entityID)
	if err != nil {
		return fmt.Errorf("collect: load entity: %w", err)
	}
	if entity == nil {
		return fmt.Errorf("collect: entity %d: %w", entityID, core.ErrEntityNotFound)
	}

	var resp activityResponse
	if err := c.client.Query(ctx, activityQuery, map[string]any{"login": entity.Login}, &resp); err != nil {
		return fmt.Errorf("collect: fetch activity for %s: %w", entity.Login, err)
	}

	snapshot := c.fold(entityID, &resp)
	if err := c.stats.Upsert(ctx, snapshot); err != nil {
		return fmt.Errorf("collect: store snapshot: %w", err)
	}

	if err := c.publisher.Publish(ctx, entityID, executionID, snapshot.ComputedAt); err != nil {
		return fmt.Errorf("collect: publish: %w", err)
	}

	c.logger.Info("collection complete",
		"entity_id", entityID,
		"login", entity.Login,
		"execution_id", executionID,
		"total_commits", snapshot.TotalCommits)
	return nil
}

// fold reduces the API response to a snapshot.
func (c *Collector) fold(entityID int64, resp *activityResponse) *core.Stats {
	m := resp.Member
	stats := &core.Stats{
		EntityID:         entityID,
		TotalCommits:     m.Contributions.TotalCommits,
		TotalLines:       m.Contributions.TotalLines,
		TotalAdditions:   m.Contributions.TotalAdditions,
		TotalDeletions:   m.Contributions.TotalDeletions,
		TotalPRs:         m.Contributions.TotalPullRequests,
		TotalIssues:      m.Contributions.TotalIssues,
		OwnedRepos:       m.Repositories.OwnedCount,
		ContributedRepos: m.Repositories.ContributedCount,
		StarsReceived:    m.Repositories.StarsReceived,
		ForksReceived:    m.Repositories.ForksReceived,
		ComputedAt:       c.now(),
	}
	for _, commit := range m.RecentCommits {
		if isNight(commit.CommittedAt) {
			stats.NightCommits++
		} else {
			stats.DayCommits++
		}
	}
	return stats
}

func isNight(t time.Time) bool {
	h := t.Hour()
	return h >= nightStartHour || h < nightEndHour
}
