package models

import "time"

type AlertKind string

const (
	AlertDeadLetter  AlertKind = "dead_letter"
	AlertConsistency AlertKind = "consistency"
)

// MintAlert is a durable operator notification. Rows are acknowledged, never deleted.
type MintAlert struct {
	ID             string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Kind           AlertKind  `gorm:"type:varchar(32);not null;index" json:"kind"`
	MintRecordID   *string    `gorm:"type:varchar(36);index" json:"mint_record_id,omitempty"`
	UserID         string     `gorm:"type:varchar(128);not null" json:"user_id"`
	AchievementID  string     `gorm:"type:varchar(64);not null" json:"achievement_id"`
	Message        string     `gorm:"type:text;not null" json:"message"`
	Acknowledged   bool       `gorm:"not null;default:false;index" json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time  `gorm:"not null" json:"created_at"`
}
