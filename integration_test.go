package harvest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/campuscode/harvest"
)

const activityPayload = `{
  "data": {
    "member": {
      "contributions": {
        "totalCommits": 150,
        "totalLines": 8000,
        "totalAdditions": 6000,
        "totalDeletions": 2000,
        "totalPullRequests": 12,
        "totalIssues": 4
      },
      "repositories": {
        "ownedCount": 3,
        "contributedCount": 9,
        "starsReceived": 20,
        "forksReceived": 5
      },
      "recentCommits": [
        {"committedAt": "2026-03-01T23:45:00Z"},
        {"committedAt": "2026-03-02T10:00:00Z"}
      ]
    }
  }
}`

func openStore(t *testing.T) *harvest.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := harvest.NewStore(db)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// TestPipelineEndToEnd drives the whole flow over one database: a queued
// request drains into a collection execution, the snapshot lands, the
// recompute event travels the durable log, and the rule engine grants the
// reward exactly once.
func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	require.NoError(t, store.SaveEntity(ctx, &harvest.Entity{ID: 1, Login: "alice", Active: true}))
	require.NoError(t, store.SaveRule(ctx, &harvest.Rule{
		ID:        1,
		Name:      "Century",
		Condition: "totalCommits >= 100",
		Tier:      1,
		Points:    50,
	}))
	require.NoError(t, store.SaveRule(ctx, &harvest.Rule{
		ID:        2,
		Name:      "Marathon",
		Condition: "progress(totalCommits, 500)",
		Tier:      2,
		Points:    200,
	}))

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "4999")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(activityPayload))
	}))
	defer api.Close()

	budget := harvest.NewBudget(5000, 100, time.Hour)
	apiClient := harvest.NewClient(api.URL, "test-token", budget)

	publisher, err := harvest.NewPublisher(store.Log(), "harvest:recompute")
	require.NoError(t, err)
	runner := harvest.NewCollector(apiClient, store.Entities(), store.Stats(), publisher)

	sched := harvest.NewScheduler(store.Executions(), store.Entities(), runner)

	// Harvester side: seed and drain one request.
	require.NoError(t, sched.Seed(ctx))
	require.Equal(t, 1, sched.QueueDepth())
	sched.DrainOnce(ctx)
	sched.Wait()

	latest, err := store.LatestByEntity(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, harvest.ExecutionSucceeded, latest.Status)

	snapshot, err := store.GetStats(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, 150, snapshot.TotalCommits)
	assert.Equal(t, 1, snapshot.NightCommits)

	// Challenger side: consume the event and evaluate.
	engine := harvest.NewEngine(store.Rules(), store.Stats(), store.Achievements(), store.Rewards())
	handler := harvest.NewHandler(engine, store.Entities())
	consumer, err := harvest.NewConsumer(store.Log(), store.Markers(), handler,
		"harvest:recompute", "challenge-workers", "worker-1")
	require.NoError(t, err)

	require.NoError(t, consumer.PollOnce(ctx))

	century, err := store.GetAchievement(ctx, 1, 1)
	require.NoError(t, err)
	require.NotNil(t, century)
	assert.True(t, century.Achieved)

	marathon, err := store.GetAchievement(ctx, 1, 2)
	require.NoError(t, err)
	require.NotNil(t, marathon)
	assert.False(t, marathon.Achieved)
	assert.Equal(t, 30, marathon.Progress, "150 of 500 commits")

	rewards, err := store.RewardsByEntity(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	assert.Equal(t, 50, rewards[0].Amount)
	assert.Equal(t, "Challenge achieved: Century", rewards[0].Reason)

	// A duplicate event for the same execution changes nothing.
	require.NoError(t, publisher.Publish(ctx, 1, latest.ID, snapshot.ComputedAt))
	require.NoError(t, consumer.PollOnce(ctx))

	rewards, err = store.RewardsByEntity(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rewards, 1, "duplicate correlation id must not grant again")
}

// TestPipelineRecoveryAfterCrash replays delivered-but-unacked entries on
// startup and still grants at most once.
func TestPipelineRecoveryAfterCrash(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	require.NoError(t, store.SaveEntity(ctx, &harvest.Entity{ID: 1, Login: "alice", Active: true}))
	require.NoError(t, store.SaveRule(ctx, &harvest.Rule{
		ID:        1,
		Name:      "Century",
		Condition: "totalCommits >= 100",
		Points:    50,
	}))
	require.NoError(t, store.UpsertStats(ctx, &harvest.Stats{EntityID: 1, TotalCommits: 120}))

	publisher, err := harvest.NewPublisher(store.Log(), "harvest:recompute")
	require.NoError(t, err)
	require.NoError(t, publisher.Publish(ctx, 1, "exec-crash", time.Now()))

	// Simulate a consumer that read the entry and crashed before acking.
	delivered, err := store.Log().ReadNew(ctx, "harvest:recompute", "challenge-workers", "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, delivered, 1)

	engine := harvest.NewEngine(store.Rules(), store.Stats(), store.Achievements(), store.Rewards())
	handler := harvest.NewHandler(engine, store.Entities())
	consumer, err := harvest.NewConsumer(store.Log(), store.Markers(), handler,
		"harvest:recompute", "challenge-workers", "worker-1")
	require.NoError(t, err)

	require.NoError(t, consumer.Recover(ctx))

	rec, err := store.GetAchievement(ctx, 1, 1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Achieved)

	// A second restart finds nothing pending and grants nothing new.
	require.NoError(t, consumer.Recover(ctx))
	rewards, err := store.RewardsByEntity(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rewards, 1)
}

// TestBudgetExhaustionFailsExecution verifies a rejected admission surfaces
// as a failed execution that the next trigger restarts.
func TestBudgetExhaustionFailsExecution(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	require.NoError(t, store.SaveEntity(ctx, &harvest.Entity{ID: 1, Login: "alice", Active: true}))

	calls := 0
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(activityPayload))
	}))
	defer api.Close()

	// A budget already at the reserve threshold rejects immediately.
	budget := harvest.NewBudget(100, 100, time.Hour)
	apiClient := harvest.NewClient(api.URL, "test-token", budget)

	publisher, err := harvest.NewPublisher(store.Log(), "harvest:recompute")
	require.NoError(t, err)
	runner := harvest.NewCollector(apiClient, store.Entities(), store.Stats(), publisher)
	sched := harvest.NewScheduler(store.Executions(), store.Entities(), runner)

	sched.Submit(1, harvest.PriorityHigh)
	sched.DrainOnce(ctx)
	sched.Wait()

	assert.Equal(t, 0, calls, "rejected admission must not reach the network")

	latest, err := store.LatestByEntity(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, harvest.ExecutionFailed, latest.Status)
	assert.Contains(t, latest.LastError, "rate limited")

	// The next trigger restarts the same execution.
	sched.Submit(1, harvest.PriorityHigh)
	sched.DrainOnce(ctx)
	sched.Wait()

	restarted, err := store.LatestByEntity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, latest.ID, restarted.ID)
	assert.Equal(t, 2, restarted.Attempt)
}
