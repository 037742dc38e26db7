package models

import (
	"time"

	"gorm.io/datatypes"
)

// MintStatus is the state of a mint record in the coordinator state machine.
type MintStatus string

const (
	MintPending    MintStatus = "PENDING"
	MintSubmitting MintStatus = "SUBMITTING"
	MintConfirmed  MintStatus = "CONFIRMED"
	MintFailed     MintStatus = "FAILED"
	MintDead       MintStatus = "DEAD"
)

// Terminal reports whether no automatic transition leaves this status.
func (s MintStatus) Terminal() bool {
	return s == MintConfirmed || s == MintDead
}

// EarnedContext snapshots the progress that qualified the achievement.
type EarnedContext struct {
	Value    float64   `json:"value"` // total or streak length at unlock time
	EarnedOn string    `json:"earned_on"`
	QueuedAt time.Time `json:"queued_at"`
}

// MintRecord tracks one (user, achievement) pair from unlock to confirmed token.
// The unique index on (user_id, achievement_id) is what makes minting at-most-once.
type MintRecord struct {
	ID            string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID        string     `gorm:"type:varchar(128);not null;uniqueIndex:idx_mint_user_achievement,priority:1" json:"user_id"`
	AchievementID string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_mint_user_achievement,priority:2" json:"achievement_id"`
	Status        MintStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`

	OwnerAddress string  `gorm:"type:varchar(128)" json:"owner_address,omitempty"`
	MetadataURI  string  `gorm:"type:text" json:"metadata_uri,omitempty"`
	TxReference  string  `gorm:"type:varchar(128);index" json:"tx_reference,omitempty"`
	TokenID      *string `gorm:"type:varchar(128)" json:"token_id,omitempty"`
	LastError    string  `gorm:"type:text" json:"last_error,omitempty"`

	Earned datatypes.JSONType[EarnedContext] `json:"earned"`

	NextAttemptAt *time.Time `gorm:"index" json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null" json:"updated_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
}
