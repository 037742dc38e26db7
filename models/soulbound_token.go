package models

import "time"

// SoulboundToken mirrors a confirmed on-chain token. The chain stays authoritative:
// reconciliation rewrites this row whenever the two disagree.
type SoulboundToken struct {
	TokenID       string    `gorm:"primaryKey;type:varchar(128)" json:"token_id"`
	Owner         string    `gorm:"type:varchar(128);not null;index" json:"owner"`
	UserID        string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_sbt_user_achievement,priority:1" json:"user_id"`
	AchievementID string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_sbt_user_achievement,priority:2" json:"achievement_id"`
	MetadataURI   string    `gorm:"type:text" json:"metadata_uri"`
	TxReference   string    `gorm:"type:varchar(128)" json:"tx_reference,omitempty"`
	MintedAt      time.Time `gorm:"not null" json:"minted_at"`
}
