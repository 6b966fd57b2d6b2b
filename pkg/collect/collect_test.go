package collect

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuscode/harvest/pkg/core"
	"github.com/campuscode/harvest/pkg/stream"
)

type fakeQuerier struct {
	payload string
	err     error

	lastQuery     string
	lastVariables map[string]any
}

func (f *fakeQuerier) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	f.lastQuery = query
	f.lastVariables = variables
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.payload), out)
}

type fakeEntities struct {
	entities map[int64]*core.Entity
}

func (f *fakeEntities) Get(ctx context.Context, entityID int64) (*core.Entity, error) {
	return f.entities[entityID], nil
}

func (f *fakeEntities) ActiveIDs(ctx context.Context) ([]int64, error) {
	return nil, nil
}

type fakeStats struct {
	mu     sync.Mutex
	stored *core.Stats
	err    error
}

func (f *fakeStats) Get(ctx context.Context, entityID int64) (*core.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored, nil
}

func (f *fakeStats) Upsert(ctx context.Context, stats *core.Stats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.stored = stats
	return nil
}

type memoryLog struct {
	mu      sync.Mutex
	entries []stream.Entry
}

func (m *memoryLog) Append(ctx context.Context, entry *stream.Entry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.Seq = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *entry)
	return entry.Seq, nil
}

func (m *memoryLog) ReadNew(ctx context.Context, streamKey, group, consumer string, count int) ([]stream.Entry, error) {
	return nil, nil
}

func (m *memoryLog) Ack(ctx context.Context, streamKey, group string, seq int64) error {
	return nil
}

func (m *memoryLog) Pending(ctx context.Context, streamKey, group, consumer string, max int) ([]stream.Entry, error) {
	return nil, nil
}

const samplePayload = `{
  "member": {
    "contributions": {
      "totalCommits": 250,
      "totalLines": 12000,
      "totalAdditions": 9000,
      "totalDeletions": 3000,
      "totalPullRequests": 8,
      "totalIssues": 3
    },
    "repositories": {
      "ownedCount": 4,
      "contributedCount": 11,
      "starsReceived": 42,
      "forksReceived": 7
    },
    "recentCommits": [
      {"committedAt": "2026-03-01T23:30:00Z"},
      {"committedAt": "2026-03-02T03:10:00Z"},
      {"committedAt": "2026-03-02T14:00:00Z"}
    ]
  }
}`

func newTestCollector(t *testing.T, querier Querier) (*Collector, *fakeStats, *memoryLog) {
	t.Helper()
	log := &memoryLog{}
	publisher, err := stream.NewPublisher(log, "harvest:recompute")
	require.NoError(t, err)

	stats := &fakeStats{}
	entities := &fakeEntities{entities: map[int64]*core.Entity{
		1: {ID: 1, Login: "alice", Active: true},
	}}
	return New(querier, entities, stats, publisher), stats, log
}

func TestRunStoresSnapshotAndPublishes(t *testing.T) {
	querier := &fakeQuerier{payload: samplePayload}
	collector, stats, log := newTestCollector(t, querier)

	require.NoError(t, collector.Run(context.Background(), 1, "exec-1"))

	assert.Equal(t, map[string]any{"login": "alice"}, querier.lastVariables)

	require.NotNil(t, stats.stored)
	assert.Equal(t, int64(1), stats.stored.EntityID)
	assert.Equal(t, 250, stats.stored.TotalCommits)
	assert.Equal(t, 8, stats.stored.TotalPRs)
	assert.Equal(t, 42, stats.stored.StarsReceived)
	assert.Equal(t, 2, stats.stored.NightCommits, "23:30 and 03:10 are night commits")
	assert.Equal(t, 1, stats.stored.DayCommits)

	require.Len(t, log.entries, 1)
	assert.Equal(t, int64(1), log.entries[0].EntityID)
	assert.Equal(t, "exec-1", log.entries[0].CorrelationID)
	assert.Equal(t, stats.stored.ComputedAt, log.entries[0].ComputedAt)
}

func TestRunFailsForUnknownEntity(t *testing.T) {
	collector, stats, log := newTestCollector(t, &fakeQuerier{payload: samplePayload})

	err := collector.Run(context.Background(), 99, "exec-1")
	assert.ErrorIs(t, err, core.ErrEntityNotFound)
	assert.Nil(t, stats.stored)
	assert.Empty(t, log.entries)
}

func TestRunPropagatesFetchFailure(t *testing.T) {
	throttled := core.RemoteThrottled(errors.New("403"))
	collector, stats, log := newTestCollector(t, &fakeQuerier{err: throttled})

	err := collector.Run(context.Background(), 1, "exec-1")
	require.Error(t, err)

	var remoteErr *core.RemoteThrottledError
	assert.ErrorAs(t, err, &remoteErr)
	assert.Nil(t, stats.stored, "no snapshot on a failed fetch")
	assert.Empty(t, log.entries, "no event without a snapshot")
}

func TestRunDoesNotPublishWhenStoreFails(t *testing.T) {
	querier := &fakeQuerier{payload: samplePayload}
	collector, stats, log := newTestCollector(t, querier)
	stats.err = errors.New("disk full")

	err := collector.Run(context.Background(), 1, "exec-1")
	require.Error(t, err)
	assert.Empty(t, log.entries)
}

func TestIsNightBoundaries(t *testing.T) {
	at := func(hour int) time.Time {
		return time.Date(2026, 3, 1, hour, 0, 0, 0, time.UTC)
	}
	assert.True(t, isNight(at(22)))
	assert.True(t, isNight(at(23)))
	assert.True(t, isNight(at(0)))
	assert.True(t, isNight(at(5)))
	assert.False(t, isNight(at(6)))
	assert.False(t, isNight(at(12)))
	assert.False(t, isNight(at(21)))
}
