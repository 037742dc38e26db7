// models/wallet_mirror.go
package models

import (
	"time"
)

// WalletMirror mirrors wallet data from the sync service.
// The mint coordinator resolves a user's token owner address from this table.
type WalletMirror struct {
	ID                 string    `gorm:"primaryKey;type:varchar(36);not null" json:"id"`
	UserID             string    `gorm:"type:varchar(128);not null;index" json:"user_id"` // External user ID
	Chain              string    `gorm:"type:varchar(64);not null;index" json:"chain"`
	Address            string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"address"` // Primary lookup key
	IsTreasury         bool      `gorm:"not null" json:"is_treasury"`
	IsActive           bool      `gorm:"not null" json:"is_active"`
	LastBalanceCheckAt time.Time `gorm:"not null" json:"last_balance_check_at"`
	CreatedAt          time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time `gorm:"not null" json:"updated_at"`
}

// Eligible reports whether tokens may be minted to this wallet.
func (w WalletMirror) Eligible() bool {
	return w.IsActive && !w.IsTreasury
}
