package services

import (
	"context"
	"errors"

	"activity-rewards-system/models"

	"gorm.io/gorm"
)

// ResolveOwner returns the address a user's tokens are minted to: their most recently
// updated active, non-treasury wallet.
func ResolveOwner(ctx context.Context, db *gorm.DB, userID string) (string, error) {
	var wallet models.WalletMirror
	err := db.WithContext(ctx).
		Where("user_id = ? AND is_active = ? AND is_treasury = ?", userID, true, false).
		Order("updated_at DESC").
		First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNoWallet
	}
	if err != nil {
		return "", storageErr("resolve owner", err)
	}
	return wallet.Address, nil
}
