package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campuscode/harvest/pkg/core"
	"github.com/campuscode/harvest/pkg/security"
)

// Store implements every core store interface over a single GORM database.
type Store struct {
	db *gorm.DB
}

// New creates a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the necessary tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.Entity{},
		&core.Execution{},
		&core.Stats{},
		&core.Rule{},
		&core.Achievement{},
		&core.Reward{},
		&core.ProcessedMarker{},
		&streamEntry{},
		&groupCursor{},
		&streamDelivery{},
	)
}

// Start creates a new execution in the running state.
func (s *Store) Start(ctx context.Context, exec *core.Execution) error {
	now := time.Now()
	if exec.StartedAt == nil {
		exec.StartedAt = &now
	}
	if exec.Attempt == 0 {
		exec.Attempt = 1
	}
	exec.Status = core.ExecutionRunning
	return s.db.WithContext(ctx).Create(exec).Error
}

// Restart moves a failed execution back to running under its original
// identity, incrementing its attempt counter.
func (s *Store) Restart(ctx context.Context, executionID string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&core.Execution{}).
		Where("id = ? AND status = ?", executionID, core.ExecutionFailed).
		Updates(map[string]any{
			"status":       core.ExecutionRunning,
			"started_at":   now,
			"completed_at": nil,
			"attempt":      gorm.Expr("attempt + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrExecutionNotFound
	}
	return nil
}

// Complete finalizes a running execution. Error messages are sanitized
// before storage.
func (s *Store) Complete(ctx context.Context, executionID string, execErr error) error {
	now := time.Now()
	updates := map[string]any{
		"completed_at": now,
	}
	if execErr != nil {
		updates["status"] = core.ExecutionFailed
		updates["last_error"] = security.SanitizeErrorMessage(execErr.Error())
	} else {
		updates["status"] = core.ExecutionSucceeded
		updates["last_error"] = ""
	}

	result := s.db.WithContext(ctx).
		Model(&core.Execution{}).
		Where("id = ? AND status = ?", executionID, core.ExecutionRunning).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrExecutionNotFound
	}
	return nil
}

// LatestByEntity returns the most recent execution for the entity, or nil
// when none exists.
func (s *Store) LatestByEntity(ctx context.Context, entityID int64) (*core.Execution, error) {
	var exec core.Execution
	err := s.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("scheduled_at DESC, created_at DESC").
		First(&exec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// IsRunning reports whether any execution for the entity is running.
func (s *Store) IsRunning(ctx context.Context, entityID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&core.Execution{}).
		Where("entity_id = ? AND status = ?", entityID, core.ExecutionRunning).
		Count(&count).Error
	return count > 0, err
}

// Get returns the entity, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, entityID int64) (*core.Entity, error) {
	var entity core.Entity
	err := s.db.WithContext(ctx).First(&entity, entityID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// ActiveIDs returns the ids of all active entities.
func (s *Store) ActiveIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&core.Entity{}).
		Where("active = ?", true).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// SaveEntity upserts an entity record.
func (s *Store) SaveEntity(ctx context.Context, entity *core.Entity) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(entity).Error
}

// GetStats returns the entity's snapshot, or nil when none has been
// computed yet.
func (s *Store) GetStats(ctx context.Context, entityID int64) (*core.Stats, error) {
	var stats core.Stats
	err := s.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// UpsertStats replaces the entity's snapshot.
func (s *Store) UpsertStats(ctx context.Context, stats *core.Stats) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_id"}},
			UpdateAll: true,
		}).
		Create(stats).Error
}

// All returns every administered rule, lowest tier first.
func (s *Store) All(ctx context.Context) ([]core.Rule, error) {
	var rules []core.Rule
	err := s.db.WithContext(ctx).
		Order("tier ASC, id ASC").
		Find(&rules).Error
	return rules, err
}

// SaveRule upserts a rule definition.
func (s *Store) SaveRule(ctx context.Context, rule *core.Rule) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(rule).Error
}

// GetAchievement returns the record for the pair, or nil when it has never
// been evaluated.
func (s *Store) GetAchievement(ctx context.Context, entityID, ruleID int64) (*core.Achievement, error) {
	var rec core.Achievement
	err := s.db.WithContext(ctx).
		Where("entity_id = ? AND rule_id = ?", entityID, ruleID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateProgress upserts the current progress without touching the
// achieved flag.
func (s *Store) UpdateProgress(ctx context.Context, entityID, ruleID int64, progress int) error {
	rec := &core.Achievement{
		EntityID: entityID,
		RuleID:   ruleID,
		Progress: progress,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "entity_id"}, {Name: "rule_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"progress":   progress,
				"updated_at": time.Now(),
			}),
		}).
		Create(rec).Error
}

// MarkAchieved flips the achieved flag false to true. The conditional
// update makes the transition atomic: of any number of racing callers,
// exactly one observes a row change and reports true.
func (s *Store) MarkAchieved(ctx context.Context, entityID, ruleID int64, progress int, at time.Time) (bool, error) {
	// Make sure the row exists; a fresh pair may reach 100 on its first
	// evaluation.
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_id"}, {Name: "rule_id"}},
			DoNothing: true,
		}).
		Create(&core.Achievement{EntityID: entityID, RuleID: ruleID}).Error
	if err != nil {
		return false, err
	}

	result := s.db.WithContext(ctx).
		Model(&core.Achievement{}).
		Where("entity_id = ? AND rule_id = ? AND achieved = ?", entityID, ruleID, false).
		Updates(map[string]any{
			"achieved":    true,
			"progress":    progress,
			"achieved_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// AddIfAbsent atomically inserts the dedup marker, reporting true when the
// key was new.
func (s *Store) AddIfAbsent(ctx context.Context, key string) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&core.ProcessedMarker{Key: key})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Grant appends a reward ledger row.
func (s *Store) Grant(ctx context.Context, entityID int64, amount int, reason, category string) error {
	return s.db.WithContext(ctx).Create(&core.Reward{
		EntityID: entityID,
		Amount:   amount,
		Reason:   reason,
		Category: category,
	}).Error
}

// RewardsByEntity returns the entity's reward ledger, newest first.
func (s *Store) RewardsByEntity(ctx context.Context, entityID int64) ([]core.Reward, error) {
	var rewards []core.Reward
	err := s.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("created_at DESC, id DESC").
		Find(&rewards).Error
	return rewards, err
}
