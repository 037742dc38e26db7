package services

import (
	"context"

	"activity-rewards-system/models"
)

// ListRecords returns mint records, optionally filtered by status, oldest first.
func (c *MintCoordinator) ListRecords(ctx context.Context, status *models.MintStatus, limit int) ([]models.MintRecord, error) {
	q := c.DB.WithContext(ctx).Order("created_at ASC")
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var records []models.MintRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, storageErr("list mint records", err)
	}
	return records, nil
}

// UserRecords returns every mint record of a user, whatever its status.
func (c *MintCoordinator) UserRecords(ctx context.Context, userID string) ([]models.MintRecord, error) {
	var records []models.MintRecord
	err := c.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, storageErr("list user mint records", err)
	}
	return records, nil
}

// UserTokens returns the confirmed token mirror rows of a user.
func (c *MintCoordinator) UserTokens(ctx context.Context, userID string) ([]models.SoulboundToken, error) {
	var tokens []models.SoulboundToken
	err := c.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("minted_at ASC").
		Find(&tokens).Error
	if err != nil {
		return nil, storageErr("list user tokens", err)
	}
	return tokens, nil
}

// WalletsChanged makes records deferred for lack of a wallet due immediately.
func (c *MintCoordinator) WalletsChanged(ctx context.Context, userIDs []string) error {
	now := c.now()
	res := c.DB.WithContext(ctx).Model(&models.MintRecord{}).
		Where("user_id IN ? AND status = ? AND owner_address = ?", userIDs, models.MintFailed, "").
		Updates(map[string]interface{}{
			"next_attempt_at": now,
			"updated_at":      now,
		})
	if res.Error != nil {
		return storageErr("wake deferred mints", res.Error)
	}
	if res.RowsAffected > 0 {
		c.log.Info("Deferred mints woken by wallet sync", "records", res.RowsAffected)
	}
	return nil
}
