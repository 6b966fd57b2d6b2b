package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuscode/harvest/pkg/core"
)

func newExecution(entityID int64) *core.Execution {
	return &core.Execution{
		ID:          uuid.New().String(),
		EntityID:    entityID,
		ScheduledAt: time.Now(),
	}
}

func TestExecutionLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	exec := newExecution(1)
	require.NoError(t, store.Start(ctx, exec))

	running, err := store.IsRunning(ctx, 1)
	require.NoError(t, err)
	assert.True(t, running)

	require.NoError(t, store.Complete(ctx, exec.ID, nil))

	running, err = store.IsRunning(ctx, 1)
	require.NoError(t, err)
	assert.False(t, running)

	latest, err := store.LatestByEntity(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, exec.ID, latest.ID)
	assert.Equal(t, core.ExecutionSucceeded, latest.Status)
	assert.NotNil(t, latest.CompletedAt)
}

func TestCompleteWithErrorStoresSanitizedMessage(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	exec := newExecution(1)
	require.NoError(t, store.Start(ctx, exec))
	require.NoError(t, store.Complete(ctx, exec.ID, errors.New("fetch failed\x00 badly")))

	latest, err := store.LatestByEntity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionFailed, latest.Status)
	assert.Equal(t, "fetch failed badly", latest.LastError)
}

func TestRestartPreservesIDAndBumpsAttempt(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	exec := newExecution(1)
	require.NoError(t, store.Start(ctx, exec))
	require.NoError(t, store.Complete(ctx, exec.ID, errors.New("boom")))

	require.NoError(t, store.Restart(ctx, exec.ID))

	latest, err := store.LatestByEntity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, latest.ID)
	assert.Equal(t, core.ExecutionRunning, latest.Status)
	assert.Equal(t, 2, latest.Attempt)
	assert.Nil(t, latest.CompletedAt)
}

func TestRestartRequiresFailedState(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	exec := newExecution(1)
	require.NoError(t, store.Start(ctx, exec))

	err := store.Restart(ctx, exec.ID)
	assert.ErrorIs(t, err, core.ErrExecutionNotFound)

	err = store.Restart(ctx, uuid.New().String())
	assert.ErrorIs(t, err, core.ErrExecutionNotFound)
}

func TestLatestByEntityOrdersByScheduleTime(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old := newExecution(1)
	old.ScheduledAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Start(ctx, old))
	require.NoError(t, store.Complete(ctx, old.ID, nil))

	recent := newExecution(1)
	require.NoError(t, store.Start(ctx, recent))

	latest, err := store.LatestByEntity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, recent.ID, latest.ID)

	none, err := store.LatestByEntity(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestEntityActiveIDs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEntity(ctx, &core.Entity{ID: 1, Login: "alice", Active: true}))
	require.NoError(t, store.SaveEntity(ctx, &core.Entity{ID: 2, Login: "bob", Active: false}))
	require.NoError(t, store.SaveEntity(ctx, &core.Entity{ID: 3, Login: "carol", Active: true}))

	ids, err := store.ActiveIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)

	entity, err := store.Get(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, entity)
	assert.Equal(t, "bob", entity.Login)
	assert.False(t, entity.Active, "deactivated member must round-trip as inactive")

	// Deactivating an existing member removes it from the active set.
	require.NoError(t, store.SaveEntity(ctx, &core.Entity{ID: 1, Login: "alice", Active: false}))
	ids, err = store.ActiveIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids)

	missing, err := store.Get(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStatsUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	missing, err := store.GetStats(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.UpsertStats(ctx, &core.Stats{EntityID: 1, TotalCommits: 10}))
	require.NoError(t, store.UpsertStats(ctx, &core.Stats{EntityID: 1, TotalCommits: 25, TotalPRs: 3}))

	stats, err := store.GetStats(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 25, stats.TotalCommits)
	assert.Equal(t, 3, stats.TotalPRs)
}

func TestRulesOrderedByTier(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRule(ctx, &core.Rule{ID: 1, Name: "Gold", Condition: "totalCommits >= 500", Tier: 3, Points: 300}))
	require.NoError(t, store.SaveRule(ctx, &core.Rule{ID: 2, Name: "Bronze", Condition: "totalCommits >= 10", Tier: 1, Points: 10}))

	rules, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "Bronze", rules[0].Name)
	assert.Equal(t, "Gold", rules[1].Name)
}

func TestAchievementProgressUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateProgress(ctx, 1, 1, 40))
	require.NoError(t, store.UpdateProgress(ctx, 1, 1, 60))

	rec, err := store.GetAchievement(ctx, 1, 1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 60, rec.Progress)
	assert.False(t, rec.Achieved)
}

func TestMarkAchievedTransitionsExactlyOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Now()

	transitioned, err := store.MarkAchieved(ctx, 1, 1, 100, at)
	require.NoError(t, err)
	assert.True(t, transitioned)

	again, err := store.MarkAchieved(ctx, 1, 1, 100, at)
	require.NoError(t, err)
	assert.False(t, again, "second mark must not report a transition")

	rec, err := store.GetAchievement(ctx, 1, 1)
	require.NoError(t, err)
	assert.True(t, rec.Achieved)
	assert.Equal(t, 100, rec.Progress)
	assert.NotNil(t, rec.AchievedAt)
}

func TestMarkerAddIfAbsent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	fresh, err := store.AddIfAbsent(ctx, "group:exec-1")
	require.NoError(t, err)
	assert.True(t, fresh)

	dup, err := store.AddIfAbsent(ctx, "group:exec-1")
	require.NoError(t, err)
	assert.False(t, dup)

	other, err := store.AddIfAbsent(ctx, "group:exec-2")
	require.NoError(t, err)
	assert.True(t, other)
}

func TestRewardLedger(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Grant(ctx, 1, 50, "Challenge achieved: Century", "CHALLENGE"))
	require.NoError(t, store.Grant(ctx, 1, 10, "Challenge achieved: Starter", "CHALLENGE"))

	rewards, err := store.RewardsByEntity(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rewards, 2)
	assert.Equal(t, 10, rewards[0].Amount)
	assert.Equal(t, "CHALLENGE", rewards[0].Category)

	none, err := store.RewardsByEntity(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, none)
}
