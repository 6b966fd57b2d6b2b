package core

import (
	"time"
)

// Priority orders queued collection requests. High drains before Low;
// within a priority, requests drain in arrival order.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// JobRequest is a pending request to collect data for one entity.
// Requests live only in process memory; a crash drops undrained requests
// and the next external trigger resubmits them.
type JobRequest struct {
	EntityID    int64
	Priority    Priority
	RequestedAt time.Time
}

// ExecutionStatus is the externally visible state of a collection run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionSucceeded ExecutionStatus = "succeeded"
)

// Execution records one logical collection run for an entity.
// A failed execution is restarted under the same ID so retry history
// stays attributable to a single run.
type Execution struct {
	ID          string          `gorm:"primaryKey;size:36"`
	EntityID    int64           `gorm:"index;not null"`
	Status      ExecutionStatus `gorm:"index;size:20;not null"`
	ScheduledAt time.Time       `gorm:"not null"`
	StartedAt   *time.Time
	CompletedAt *time.Time
	Attempt     int       `gorm:"default:1"`
	LastError   string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// Entity is a platform member whose external activity is harvested.
type Entity struct {
	ID           int64  `gorm:"primaryKey"`
	Login        string `gorm:"index;size:255;not null"`
	Active       bool   `gorm:"index"`
	QuotaResetAt *time.Time
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// Stats is the computed metrics snapshot a collection run produces for an
// entity. Rule conditions reference these fields by name.
type Stats struct {
	EntityID         int64     `gorm:"primaryKey"`
	TotalCommits     int       `gorm:"default:0"`
	TotalLines       int       `gorm:"default:0"`
	TotalAdditions   int       `gorm:"default:0"`
	TotalDeletions   int       `gorm:"default:0"`
	TotalPRs         int       `gorm:"default:0"`
	TotalIssues      int       `gorm:"default:0"`
	OwnedRepos       int       `gorm:"default:0"`
	ContributedRepos int       `gorm:"default:0"`
	StarsReceived    int       `gorm:"default:0"`
	ForksReceived    int       `gorm:"default:0"`
	NightCommits     int       `gorm:"default:0"`
	DayCommits       int       `gorm:"default:0"`
	ComputedAt       time.Time `gorm:"autoUpdateTime"`
}

// Field returns the stat named by a condition expression identifier.
func (s *Stats) Field(name string) (int, bool) {
	switch name {
	case "totalCommits":
		return s.TotalCommits, true
	case "totalLines":
		return s.TotalLines, true
	case "totalAdditions":
		return s.TotalAdditions, true
	case "totalDeletions":
		return s.TotalDeletions, true
	case "totalPrs":
		return s.TotalPRs, true
	case "totalIssues":
		return s.TotalIssues, true
	case "ownedRepos":
		return s.OwnedRepos, true
	case "contributedRepos":
		return s.ContributedRepos, true
	case "starsReceived":
		return s.StarsReceived, true
	case "forksReceived":
		return s.ForksReceived, true
	case "nightCommits":
		return s.NightCommits, true
	case "dayCommits":
		return s.DayCommits, true
	default:
		return 0, false
	}
}

// Rule is an administrator-configured challenge definition. Read-only
// during evaluation.
type Rule struct {
	ID          int64     `gorm:"primaryKey"`
	Name        string    `gorm:"size:255;not null"`
	Description string    `gorm:"type:text"`
	Condition   string    `gorm:"type:text;not null"`
	Tier        int       `gorm:"default:1"`
	Points      int       `gorm:"not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// Achievement tracks one entity's progress against one rule.
// Achieved transitions false to true exactly once; that transition is the
// only point a reward may be granted.
type Achievement struct {
	ID         int64 `gorm:"primaryKey;autoIncrement"`
	EntityID   int64 `gorm:"uniqueIndex:idx_achievement_entity_rule;not null"`
	RuleID     int64 `gorm:"uniqueIndex:idx_achievement_entity_rule;not null"`
	Achieved   bool  `gorm:"default:false"`
	Progress   int   `gorm:"default:0"`
	AchievedAt *time.Time
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// Reward is a ledger row written when an achievement fires.
type Reward struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	EntityID  int64     `gorm:"index;not null"`
	Amount    int       `gorm:"not null"`
	Reason    string    `gorm:"size:255;not null"`
	Category  string    `gorm:"size:64;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// ProcessedMarker is a durable dedup marker keyed by an event's idempotency
// key. Rows are append-only and never expire.
type ProcessedMarker struct {
	Key       string    `gorm:"primaryKey;size:255"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
