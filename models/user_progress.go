package models

import (
	"time"

	"gorm.io/datatypes"
)

// TypeProgress is the derived state for a single activity type.
type TypeProgress struct {
	Count            int64   `json:"count"`
	AmountSum        float64 `json:"amount_sum"`
	CurrentStreak    int     `json:"current_streak"`
	LongestStreak    int     `json:"longest_streak"`
	LastActivityDate string  `json:"last_activity_date,omitempty"` // day bucket
}

// UserProgress caches everything derived from a user's ledger (denormalized for reads).
// It is never the source of truth: dropping the row and recomputing yields the same value.
type UserProgress struct {
	UserID string `gorm:"primaryKey;type:varchar(128)" json:"user_id"`

	Stats                datatypes.JSONType[map[ActivityType]TypeProgress] `json:"stats"`
	UnlockedAchievements datatypes.JSONType[[]string]                      `json:"unlocked_achievements"`

	// Snapshot markers: a cache write only wins if it saw at least as many events.
	EventCount    int64      `gorm:"not null;default:0" json:"event_count"`
	UnlockedCount int        `gorm:"not null;default:0" json:"-"`
	LastEventAt   *time.Time `json:"last_event_at,omitempty"`

	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"-"`
}

func (UserProgress) TableName() string { return "user_progress" }

// StatsFor returns the progress for one type (zero value when the user never did it).
func (p *UserProgress) StatsFor(t ActivityType) TypeProgress {
	return p.Stats.Data()[t]
}

// HasUnlocked reports whether the achievement is already in the unlocked set.
func (p *UserProgress) HasUnlocked(achievementID string) bool {
	for _, id := range p.UnlockedAchievements.Data() {
		if id == achievementID {
			return true
		}
	}
	return false
}
