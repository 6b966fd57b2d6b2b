package stream

import (
	"context"
	"time"
)

// Entry is one event in the durable log. The sequence is assigned by the
// log on append and orders entries within a stream key.
type Entry struct {
	Seq           int64
	StreamKey     string
	EntityID      int64
	CorrelationID string
	ComputedAt    time.Time
	CreatedAt     time.Time
}

// Log is the durable ordered event log. Implementations must assign
// monotonically increasing sequences per stream key and retain entries
// until they are acknowledged by every group that read them.
type Log interface {
	// Append durably stores the entry and returns its assigned sequence.
	Append(ctx context.Context, entry *Entry) (int64, error)

	// ReadNew delivers up to count entries the group has not seen yet,
	// records each as pending for the consumer, and advances the group
	// cursor. It never blocks; an empty slice means nothing is new.
	ReadNew(ctx context.Context, streamKey, group, consumer string, count int) ([]Entry, error)

	// Ack marks a delivered entry as processed for the group. Acking an
	// unknown or already-acked entry is not an error.
	Ack(ctx context.Context, streamKey, group string, seq int64) error

	// Pending returns up to max delivered-but-unacked entries for the
	// consumer, oldest first.
	Pending(ctx context.Context, streamKey, group, consumer string, max int) ([]Entry, error)
}
