package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"activity-rewards-system/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReconcileReport summarizes a reconciliation pass.
type ReconcileReport struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Released  int `json:"released"`
	Healed    int `json:"healed"`
}

const reconcileBatch = 100

// ReconcileStale checks records left in SUBMITTING or PENDING longer than the grace
// period against the chain before anything is resubmitted. A record whose token
// exists is confirmed as is; an interrupted submission with no token is released to
// FAILED, due immediately.
func (c *MintCoordinator) ReconcileStale(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	cutoff := c.now().Add(-c.cfg.ReconcileGrace)

	var stale []models.MintRecord
	err := c.DB.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []models.MintStatus{models.MintSubmitting, models.MintPending}, cutoff).
		Order("updated_at ASC").
		Limit(reconcileBatch).
		Find(&stale).Error
	if err != nil {
		return report, storageErr("find stale mint records", err)
	}

	for i := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		rec := &stale[i]
		report.Checked++

		before := rec.Status
		status, err := c.reconcileStaleRecord(ctx, rec, cutoff)
		if errors.Is(err, errClaimLost) {
			continue
		}
		if err != nil {
			c.log.Warn("Reconciliation check failed", "mint_record_id", rec.ID, "error", err)
			continue
		}
		switch {
		case status == models.MintConfirmed:
			report.Confirmed++
		case before == models.MintSubmitting && status != before:
			report.Released++
		}
	}

	if report.Checked > 0 {
		c.log.Info("Stale mint records reconciled",
			"checked", report.Checked,
			"confirmed", report.Confirmed,
			"released", report.Released,
		)
	}
	return report, nil
}

func (c *MintCoordinator) reconcileStaleRecord(ctx context.Context, rec *models.MintRecord, cutoff time.Time) (models.MintStatus, error) {
	owner := rec.OwnerAddress
	if owner == "" {
		resolved, err := ResolveOwner(ctx, c.DB, rec.UserID)
		if err != nil && !errors.Is(err, ErrNoWallet) {
			return rec.Status, err
		}
		owner = resolved
	}

	if owner != "" {
		tok, err := c.Minter.FindToken(ctx, owner, rec.AchievementID)
		if err != nil {
			return rec.Status, err
		}
		if tok != nil {
			rec.OwnerAddress = owner
			c.log.Info("Token found on chain for stale record, confirming without resubmission",
				"mint_record_id", rec.ID,
				"status", rec.Status,
				"token_id", tok.TokenID,
			)
			return c.confirm(ctx, rec, *tok)
		}
	}

	if rec.Status != models.MintSubmitting {
		return rec.Status, nil
	}
	stillStale := func(db *gorm.DB) *gorm.DB { return db.Where("updated_at < ?", cutoff) }
	return c.recordFailure(ctx, rec,
		Transient("coordinator", errors.New("submission interrupted and no token found on chain")),
		true, stillStale)
}

// ReconcileUser compares every catalog achievement of a user with the chain and heals
// local state to match it. Divergences are raised as consistency alerts.
func (c *MintCoordinator) ReconcileUser(ctx context.Context, userID string) (ReconcileReport, error) {
	var report ReconcileReport
	owner, err := ResolveOwner(ctx, c.DB, userID)
	if err != nil {
		return report, err
	}

	for _, def := range c.Catalog.All() {
		report.Checked++
		tok, err := c.Minter.FindToken(ctx, owner, def.ID)
		if err != nil {
			return report, err
		}

		var rec models.MintRecord
		err = c.DB.WithContext(ctx).
			Where("user_id = ? AND achievement_id = ?", userID, def.ID).
			First(&rec).Error
		found := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return report, storageErr("load mint record", err)
		}

		switch {
		case tok == nil:
			if found && rec.Status == models.MintConfirmed {
				c.Alerts.Raise(ctx, models.AlertConsistency, &rec.ID, userID, def.ID,
					"record is CONFIRMED locally but the chain has no token for "+owner)
			}

		case !found:
			if err := c.adoptToken(ctx, userID, def.ID, *tok); err != nil {
				return report, err
			}
			report.Healed++
			c.Alerts.Raise(ctx, models.AlertConsistency, nil, userID, def.ID,
				fmt.Sprintf("token %s exists on chain without a local record; record created", tok.TokenID))

		case rec.Status != models.MintConfirmed:
			prev := rec.Status
			if _, err := c.confirm(ctx, &rec, *tok); err != nil {
				if errors.Is(err, errClaimLost) {
					continue
				}
				return report, err
			}
			report.Confirmed++
			if prev == models.MintDead || prev == models.MintFailed {
				c.Alerts.Raise(ctx, models.AlertConsistency, &rec.ID, userID, def.ID,
					fmt.Sprintf("record was %s but token %s exists on chain; confirmed", prev, tok.TokenID))
			}

		default:
			healed, err := c.healMirror(ctx, &rec, *tok)
			if err != nil {
				return report, err
			}
			if healed {
				report.Healed++
				c.Alerts.Raise(ctx, models.AlertConsistency, &rec.ID, userID, def.ID,
					fmt.Sprintf("local mirror disagreed with chain token %s; healed", tok.TokenID))
			}
		}
	}
	return report, nil
}

// adoptToken creates a CONFIRMED record and its mirror for a token minted outside
// this service's bookkeeping.
func (c *MintCoordinator) adoptToken(ctx context.Context, userID, achievementID string, tok ExternalToken) error {
	now := c.now()
	tokenID := tok.TokenID
	rec := models.MintRecord{
		ID:            uuid.NewString(),
		UserID:        userID,
		AchievementID: achievementID,
		Status:        models.MintConfirmed,
		OwnerAddress:  tok.Owner,
		MetadataURI:   tok.MetadataURI,
		TxReference:   tok.TxReference,
		TokenID:       &tokenID,
		Earned: datatypes.NewJSONType(models.EarnedContext{
			EarnedOn: now.Format(models.DayBucketLayout),
			QueuedAt: now,
		}),
		CreatedAt:   now,
		UpdatedAt:   now,
		ConfirmedAt: &now,
	}
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "achievement_id"}},
			DoNothing: true,
		}).Create(&rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrDuplicateAchievement
		}
		return upsertToken(tx, models.SoulboundToken{
			TokenID:       tok.TokenID,
			Owner:         tok.Owner,
			UserID:        userID,
			AchievementID: achievementID,
			MetadataURI:   tok.MetadataURI,
			TxReference:   tok.TxReference,
			MintedAt:      now,
		})
	})
	if errors.Is(err, ErrDuplicateAchievement) {
		return nil
	}
	return storageErr("adopt token", err)
}

// healMirror rewrites the record and mirror of a CONFIRMED pair when they disagree
// with the chain. It reports whether anything changed.
func (c *MintCoordinator) healMirror(ctx context.Context, rec *models.MintRecord, tok ExternalToken) (bool, error) {
	var mirror models.SoulboundToken
	err := c.DB.WithContext(ctx).
		Where("user_id = ? AND achievement_id = ?", rec.UserID, rec.AchievementID).
		First(&mirror).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, storageErr("load token mirror", err)
	}
	missing := errors.Is(err, gorm.ErrRecordNotFound)

	if tok.Owner == "" {
		tok.Owner = rec.OwnerAddress
	}
	if tok.MetadataURI == "" {
		tok.MetadataURI = rec.MetadataURI
	}
	if tok.TxReference == "" {
		tok.TxReference = rec.TxReference
	}

	recordOK := rec.TokenID != nil && *rec.TokenID == tok.TokenID
	mirrorOK := !missing && mirror.TokenID == tok.TokenID && mirror.Owner == tok.Owner
	if recordOK && mirrorOK {
		return false, nil
	}

	mintedAt := c.now()
	if !missing {
		mintedAt = mirror.MintedAt
	}
	err = c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.MintRecord{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"token_id":      tok.TokenID,
				"owner_address": tok.Owner,
				"updated_at":    c.now(),
			}).Error; err != nil {
			return err
		}
		return upsertToken(tx, models.SoulboundToken{
			TokenID:       tok.TokenID,
			Owner:         tok.Owner,
			UserID:        rec.UserID,
			AchievementID: rec.AchievementID,
			MetadataURI:   tok.MetadataURI,
			TxReference:   tok.TxReference,
			MintedAt:      mintedAt,
		})
	})
	if err != nil {
		return false, storageErr("heal token mirror", err)
	}
	return true, nil
}

// Requeue gives a DEAD record a fresh set of attempts, due immediately.
func (c *MintCoordinator) Requeue(ctx context.Context, recordID string) error {
	now := c.now()
	res := c.DB.WithContext(ctx).Model(&models.MintRecord{}).
		Where("id = ? AND status = ?", recordID, models.MintDead).
		Updates(map[string]interface{}{
			"status":          models.MintFailed,
			"attempts":        0,
			"next_attempt_at": now,
			"updated_at":      now,
		})
	if res.Error != nil {
		return storageErr("requeue mint record", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	c.log.Info("Dead mint record requeued", "mint_record_id", recordID)
	return nil
}
