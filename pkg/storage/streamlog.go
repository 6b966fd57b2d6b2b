package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campuscode/harvest/pkg/stream"
)

// streamEntry is one durable log row. The auto-incremented sequence orders
// entries; rows are retained after acknowledgement so late-joining groups
// can still read history.
type streamEntry struct {
	Seq           int64  `gorm:"primaryKey;autoIncrement"`
	StreamKey     string `gorm:"index;size:255;not null"`
	EntityID      int64  `gorm:"not null"`
	CorrelationID string `gorm:"size:255;not null"`
	ComputedAt    time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// groupCursor tracks how far a consumer group has read into a stream.
type groupCursor struct {
	StreamKey string    `gorm:"primaryKey;size:255"`
	GroupName string    `gorm:"primaryKey;size:255"`
	LastSeq   int64     `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// streamDelivery records one entry handed to one consumer, unacked until
// the consumer finishes with it. Unacked rows are what recovery replays.
type streamDelivery struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	StreamKey   string    `gorm:"uniqueIndex:idx_delivery_entry;size:255;not null"`
	GroupName   string    `gorm:"uniqueIndex:idx_delivery_entry;size:255;not null"`
	Seq         int64     `gorm:"uniqueIndex:idx_delivery_entry;not null"`
	Consumer    string    `gorm:"index;size:255;not null"`
	Acked       bool      `gorm:"index;default:false"`
	DeliveredAt time.Time `gorm:"autoCreateTime"`
}

// Log returns the durable event log view.
func (s *Store) Log() stream.Log { return logView{s} }

type logView struct{ s *Store }

// Append durably stores the entry and returns its assigned sequence.
func (v logView) Append(ctx context.Context, entry *stream.Entry) (int64, error) {
	row := streamEntry{
		StreamKey:     entry.StreamKey,
		EntityID:      entry.EntityID,
		CorrelationID: entry.CorrelationID,
		ComputedAt:    entry.ComputedAt,
		CreatedAt:     entry.CreatedAt,
	}
	if err := v.s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, err
	}
	entry.Seq = row.Seq
	return row.Seq, nil
}

// ReadNew delivers up to count entries past the group cursor, records each
// as a pending delivery, and advances the cursor. The whole step is one
// transaction so a crash cannot advance the cursor without the matching
// delivery rows.
func (v logView) ReadNew(ctx context.Context, streamKey, group, consumer string, count int) ([]stream.Entry, error) {
	if count < 1 {
		return nil, nil
	}

	var out []stream.Entry
	err := v.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cursor groupCursor
		err := tx.Where("stream_key = ? AND group_name = ?", streamKey, group).
			First(&cursor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cursor = groupCursor{StreamKey: streamKey, GroupName: group}
		} else if err != nil {
			return err
		}

		var rows []streamEntry
		err = tx.Where("stream_key = ? AND seq > ?", streamKey, cursor.LastSeq).
			Order("seq ASC").
			Limit(count).
			Find(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		for _, row := range rows {
			delivery := streamDelivery{
				StreamKey: streamKey,
				GroupName: group,
				Seq:       row.Seq,
				Consumer:  consumer,
			}
			if err := tx.Create(&delivery).Error; err != nil {
				return err
			}
			out = append(out, entryFromRow(row))
		}

		cursor.LastSeq = rows[len(rows)-1].Seq
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stream_key"}, {Name: "group_name"}},
			DoUpdates: clause.Assignments(map[string]any{
				"last_seq": cursor.LastSeq,
			}),
		}).Create(&cursor).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Ack marks the delivery as processed. Acking an unknown or already-acked
// entry is not an error.
func (v logView) Ack(ctx context.Context, streamKey, group string, seq int64) error {
	return v.s.db.WithContext(ctx).
		Model(&streamDelivery{}).
		Where("stream_key = ? AND group_name = ? AND seq = ?", streamKey, group, seq).
		Update("acked", true).Error
}

// Pending returns up to max delivered-but-unacked entries for the
// consumer, oldest first.
func (v logView) Pending(ctx context.Context, streamKey, group, consumer string, max int) ([]stream.Entry, error) {
	if max < 1 {
		return nil, nil
	}

	var rows []streamEntry
	err := v.s.db.WithContext(ctx).
		Model(&streamEntry{}).
		Select("stream_entries.*").
		Joins("JOIN stream_deliveries ON stream_deliveries.stream_key = stream_entries.stream_key AND stream_deliveries.seq = stream_entries.seq").
		Where("stream_deliveries.group_name = ? AND stream_deliveries.consumer = ? AND stream_deliveries.acked = ?", group, consumer, false).
		Where("stream_entries.stream_key = ?", streamKey).
		Order("stream_entries.seq ASC").
		Limit(max).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]stream.Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, entryFromRow(row))
	}
	return out, nil
}

func entryFromRow(row streamEntry) stream.Entry {
	return stream.Entry{
		Seq:           row.Seq,
		StreamKey:     row.StreamKey,
		EntityID:      row.EntityID,
		CorrelationID: row.CorrelationID,
		ComputedAt:    row.ComputedAt,
		CreatedAt:     row.CreatedAt,
	}
}
