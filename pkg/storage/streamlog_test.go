package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuscode/harvest/pkg/stream"
)

const testStream = "harvest:recompute"

func appendEntry(t *testing.T, log stream.Log, entityID int64, correlationID string) int64 {
	t.Helper()
	seq, err := log.Append(context.Background(), &stream.Entry{
		StreamKey:     testStream,
		EntityID:      entityID,
		CorrelationID: correlationID,
		ComputedAt:    time.Now(),
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)
	return seq
}

func TestAppendAssignsMonotonicSequences(t *testing.T) {
	log := openTestStore(t).Log()

	first := appendEntry(t, log, 1, "exec-a")
	second := appendEntry(t, log, 2, "exec-b")

	assert.Greater(t, second, first)
}

func TestReadNewAdvancesGroupCursor(t *testing.T) {
	log := openTestStore(t).Log()
	ctx := context.Background()

	appendEntry(t, log, 1, "exec-a")
	appendEntry(t, log, 2, "exec-b")
	appendEntry(t, log, 3, "exec-c")

	batch, err := log.ReadNew(ctx, testStream, "workers", "w1", 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "exec-a", batch[0].CorrelationID)
	assert.Equal(t, "exec-b", batch[1].CorrelationID)

	rest, err := log.ReadNew(ctx, testStream, "workers", "w1", 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "exec-c", rest[0].CorrelationID)

	empty, err := log.ReadNew(ctx, testStream, "workers", "w1", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestIndependentGroupsEachSeeAllEntries(t *testing.T) {
	log := openTestStore(t).Log()
	ctx := context.Background()

	appendEntry(t, log, 1, "exec-a")

	a, err := log.ReadNew(ctx, testStream, "group-a", "w1", 10)
	require.NoError(t, err)
	require.Len(t, a, 1)

	b, err := log.ReadNew(ctx, testStream, "group-b", "w1", 10)
	require.NoError(t, err)
	require.Len(t, b, 1)
}

func TestPendingUntilAcked(t *testing.T) {
	log := openTestStore(t).Log()
	ctx := context.Background()

	appendEntry(t, log, 1, "exec-a")
	appendEntry(t, log, 2, "exec-b")

	batch, err := log.ReadNew(ctx, testStream, "workers", "w1", 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	pending, err := log.Pending(ctx, testStream, "workers", "w1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "exec-a", pending[0].CorrelationID)

	require.NoError(t, log.Ack(ctx, testStream, "workers", batch[0].Seq))

	pending, err = log.Pending(ctx, testStream, "workers", "w1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "exec-b", pending[0].CorrelationID)

	require.NoError(t, log.Ack(ctx, testStream, "workers", batch[1].Seq))

	pending, err = log.Pending(ctx, testStream, "workers", "w1", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAckUnknownSequenceIsHarmless(t *testing.T) {
	log := openTestStore(t).Log()
	assert.NoError(t, log.Ack(context.Background(), testStream, "workers", 999))
}

func TestPendingRespectsConsumerAndLimit(t *testing.T) {
	log := openTestStore(t).Log()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		appendEntry(t, log, int64(i), "exec-"+string(rune('a'+i)))
	}

	_, err := log.ReadNew(ctx, testStream, "workers", "w1", 10)
	require.NoError(t, err)

	limited, err := log.Pending(ctx, testStream, "workers", "w1", 3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)

	other, err := log.Pending(ctx, testStream, "workers", "w2", 10)
	require.NoError(t, err)
	assert.Empty(t, other, "pending entries belong to the consumer they were delivered to")
}
