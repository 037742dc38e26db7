package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"activity-rewards-system/logger"
	"activity-rewards-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxLastErrorLen = 1000

// errClaimLost means another worker or the reconciler moved the record first.
var errClaimLost = errors.New("mint record is no longer held by this worker")

// CoordinatorConfig bounds the retries and waits of the mint coordinator.
type CoordinatorConfig struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	ConfirmTimeout time.Duration
	ReconcileGrace time.Duration
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		MaxAttempts:    5,
		BackoffBase:    10 * time.Second,
		BackoffMax:     10 * time.Minute,
		ConfirmTimeout: 45 * time.Second,
		ReconcileGrace: 3 * time.Minute,
	}
}

// MintCoordinator drives mint records from PENDING to CONFIRMED (or DEAD).
//
// Records are claimed with a compare-and-set on their status, so any number of
// coordinator instances can share one database.
type MintCoordinator struct {
	DB       *gorm.DB
	Catalog  *Catalog
	Metadata MetadataService
	Minter   MintingService
	Alerts   *AlertService
	cfg      CoordinatorConfig
	log      *logger.Logger
	now      func() time.Time
}

func NewMintCoordinator(
	db *gorm.DB,
	catalog *Catalog,
	metadata MetadataService,
	minter MintingService,
	alerts *AlertService,
	cfg CoordinatorConfig,
	baseLog *logger.Logger,
) *MintCoordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &MintCoordinator{
		DB:       db,
		Catalog:  catalog,
		Metadata: metadata,
		Minter:   minter,
		Alerts:   alerts,
		cfg:      cfg,
		log:      baseLog.With("service", "MintCoordinator"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ClaimNext moves one due record (PENDING, or FAILED whose backoff elapsed) to
// SUBMITTING and returns it. It returns nil, nil when nothing is due.
func (c *MintCoordinator) ClaimNext(ctx context.Context) (*models.MintRecord, error) {
	now := c.now()
	var candidates []models.MintRecord
	err := c.DB.WithContext(ctx).
		Where("status = ? OR (status = ? AND next_attempt_at <= ?)", models.MintPending, models.MintFailed, now).
		Order("created_at ASC").
		Limit(8).
		Find(&candidates).Error
	if err != nil {
		return nil, storageErr("find due mint records", err)
	}

	for i := range candidates {
		rec := candidates[i]
		res := c.DB.WithContext(ctx).Model(&models.MintRecord{}).
			Where("id = ? AND status = ? AND attempts = ?", rec.ID, rec.Status, rec.Attempts).
			Where("status = ? OR next_attempt_at <= ?", models.MintPending, now).
			Updates(map[string]interface{}{
				"status":     models.MintSubmitting,
				"updated_at": now,
			})
		if res.Error != nil {
			return nil, storageErr("claim mint record", res.Error)
		}
		if res.RowsAffected == 1 {
			rec.Status = models.MintSubmitting
			rec.UpdatedAt = now
			return &rec, nil
		}
	}
	return nil, nil
}

// RunOnce claims and processes a single record. It reports whether one was found.
func (c *MintCoordinator) RunOnce(ctx context.Context) (bool, error) {
	rec, err := c.ClaimNext(ctx)
	if err != nil || rec == nil {
		return false, err
	}
	_, err = c.Process(ctx, rec)
	return true, err
}

// Process submits a claimed (SUBMITTING) record and records the outcome.
// The returned status is the record's state afterwards. Failures of the external
// services are recorded on the record rather than returned.
func (c *MintCoordinator) Process(ctx context.Context, rec *models.MintRecord) (models.MintStatus, error) {
	log := c.log.With(
		"mint_record_id", rec.ID,
		"user_id", rec.UserID,
		"achievement_id", rec.AchievementID,
		"attempt", rec.Attempts+1,
	)

	def, ok := c.Catalog.Get(rec.AchievementID)
	if !ok {
		return c.fail(ctx, rec, Permanent("catalog", fmt.Errorf("unknown achievement %q", rec.AchievementID)))
	}

	// A previous attempt may have broadcast to this address; keep using it.
	if rec.OwnerAddress == "" {
		owner, err := ResolveOwner(ctx, c.DB, rec.UserID)
		if err != nil {
			return c.fail(ctx, rec, err)
		}
		rec.OwnerAddress = owner
	}
	owner := rec.OwnerAddress

	if rec.Attempts > 0 || rec.TxReference != "" {
		tok, err := c.Minter.FindToken(ctx, owner, rec.AchievementID)
		if err != nil {
			return c.fail(ctx, rec, err)
		}
		if tok != nil {
			log.Info("Token already on chain, submission cancelled", "token_id", tok.TokenID)
			return c.confirm(ctx, rec, *tok)
		}
	}

	// An earlier broadcast may still be in flight. Only a failed one is replaced.
	if rec.TxReference != "" {
		waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
		conf, err := c.Minter.AwaitConfirmation(waitCtx, rec.TxReference)
		cancel()
		if ctx.Err() != nil {
			return rec.Status, ctx.Err()
		}
		if err != nil {
			return c.fail(ctx, rec, fmt.Errorf("previous transaction %s unresolved: %w", rec.TxReference, err))
		}
		if conf.Confirmed && conf.TokenID != "" {
			log.Info("Previous transaction confirmed, submission cancelled", "tx_reference", rec.TxReference)
			return c.confirm(ctx, rec, ExternalToken{
				TokenID:     conf.TokenID,
				Owner:       owner,
				MetadataURI: rec.MetadataURI,
				TxReference: rec.TxReference,
			})
		}
		log.Info("Previous transaction failed, resubmitting", "tx_reference", rec.TxReference)
	}

	uri := rec.MetadataURI
	if uri == "" {
		meta, err := BuildMetadata(def, rec)
		if err != nil {
			return c.fail(ctx, rec, err)
		}
		if uri, err = c.Metadata.UploadMetadata(ctx, meta); err != nil {
			return c.fail(ctx, rec, err)
		}
	}
	if err := c.update(ctx, rec, map[string]interface{}{
		"owner_address": owner,
		"metadata_uri":  uri,
		"updated_at":    c.now(),
	}); err != nil {
		return rec.Status, err
	}
	rec.MetadataURI = uri

	txRef, err := c.Minter.Mint(ctx, owner, uri, rec.AchievementID)
	if errors.Is(err, ErrAlreadyMinted) {
		log.Warn("Minting service reports the token as already minted, reconciling")
		return c.settleFromChain(ctx, rec, err)
	}
	if err != nil {
		return c.fail(ctx, rec, err)
	}
	if err := c.update(ctx, rec, map[string]interface{}{
		"tx_reference": txRef,
		"updated_at":   c.now(),
	}); err != nil {
		return rec.Status, err
	}
	rec.TxReference = txRef
	log.Info("Mint broadcast", "tx_reference", txRef)

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	conf, err := c.Minter.AwaitConfirmation(waitCtx, txRef)
	cancel()
	if ctx.Err() != nil {
		// Broadcast mints cannot be cancelled; reconciliation resolves it later.
		log.Warn("Stopped while awaiting confirmation", "tx_reference", txRef)
		return rec.Status, ctx.Err()
	}
	if err != nil {
		log.Warn("Confirmation wait failed, polling chain", "tx_reference", txRef, "error", err)
		return c.settleFromChain(ctx, rec, err)
	}
	if !conf.Confirmed || conf.TokenID == "" {
		return c.fail(ctx, rec, Transient("minting", fmt.Errorf("transaction %s was not confirmed", txRef)))
	}
	return c.confirm(ctx, rec, ExternalToken{
		TokenID:     conf.TokenID,
		Owner:       owner,
		MetadataURI: uri,
		TxReference: txRef,
	})
}

// settleFromChain looks for the token before cause is recorded as a failure, so a
// mint that succeeded slowly is not retried.
func (c *MintCoordinator) settleFromChain(ctx context.Context, rec *models.MintRecord, cause error) (models.MintStatus, error) {
	tok, err := c.Minter.FindToken(ctx, rec.OwnerAddress, rec.AchievementID)
	if err != nil {
		return c.fail(ctx, rec, errors.Join(cause, err))
	}
	if tok == nil {
		return c.fail(ctx, rec, cause)
	}
	return c.confirm(ctx, rec, *tok)
}

// confirm marks rec CONFIRMED and writes the token mirror in one transaction.
// It only succeeds while rec still has the status it was loaded with.
func (c *MintCoordinator) confirm(ctx context.Context, rec *models.MintRecord, tok ExternalToken) (models.MintStatus, error) {
	now := c.now()
	if tok.Owner == "" {
		tok.Owner = rec.OwnerAddress
	}
	if tok.MetadataURI == "" {
		tok.MetadataURI = rec.MetadataURI
	}
	if tok.TxReference == "" {
		tok.TxReference = rec.TxReference
	}

	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.MintRecord{}).
			Where("id = ? AND status = ? AND attempts = ?", rec.ID, rec.Status, rec.Attempts).
			Updates(map[string]interface{}{
				"status":          models.MintConfirmed,
				"token_id":        tok.TokenID,
				"owner_address":   tok.Owner,
				"metadata_uri":    tok.MetadataURI,
				"tx_reference":    tok.TxReference,
				"last_error":      "",
				"next_attempt_at": nil,
				"confirmed_at":    now,
				"updated_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errClaimLost
		}
		return upsertToken(tx, models.SoulboundToken{
			TokenID:       tok.TokenID,
			Owner:         tok.Owner,
			UserID:        rec.UserID,
			AchievementID: rec.AchievementID,
			MetadataURI:   tok.MetadataURI,
			TxReference:   tok.TxReference,
			MintedAt:      now,
		})
	})
	if errors.Is(err, errClaimLost) {
		return rec.Status, err
	}
	if err != nil {
		return rec.Status, storageErr("confirm mint", err)
	}

	tokenID := tok.TokenID
	rec.Status = models.MintConfirmed
	rec.TokenID = &tokenID
	rec.OwnerAddress = tok.Owner
	rec.MetadataURI = tok.MetadataURI
	rec.TxReference = tok.TxReference
	rec.LastError = ""
	rec.NextAttemptAt = nil
	rec.ConfirmedAt = &now
	rec.UpdatedAt = now

	c.log.Info("Mint confirmed",
		"mint_record_id", rec.ID,
		"user_id", rec.UserID,
		"achievement_id", rec.AchievementID,
		"token_id", tok.TokenID,
	)
	return models.MintConfirmed, nil
}

// upsertToken writes the mirror row, replacing whatever the mirror held for the pair.
func upsertToken(tx *gorm.DB, tok models.SoulboundToken) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "achievement_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"token_id", "owner", "metadata_uri", "tx_reference", "minted_at"}),
	}).Create(&tok).Error
}

func (c *MintCoordinator) fail(ctx context.Context, rec *models.MintRecord, cause error) (models.MintStatus, error) {
	return c.recordFailure(ctx, rec, cause, false)
}

// recordFailure counts an attempt. Retryable causes move the record to FAILED with a
// backoff (or due immediately when dueNow); exhausted or permanent ones move it to DEAD.
func (c *MintCoordinator) recordFailure(ctx context.Context, rec *models.MintRecord, cause error, dueNow bool, scopes ...func(*gorm.DB) *gorm.DB) (models.MintStatus, error) {
	if ctx.Err() != nil {
		// Left in SUBMITTING; the reconciler releases it after the grace period.
		return rec.Status, ctx.Err()
	}

	now := c.now()
	attempts := rec.Attempts + 1
	msg := cause.Error()
	if len(msg) > maxLastErrorLen {
		msg = msg[:maxLastErrorLen]
	}

	status := models.MintFailed
	var next *time.Time
	switch {
	case errors.Is(cause, ErrNoWallet):
		// Nothing was attempted; wait for the wallet sync without spending an attempt.
		attempts = rec.Attempts
		at := now.Add(c.cfg.BackoffMax)
		next = &at
	case !retryable(cause) || attempts >= c.cfg.MaxAttempts:
		status = models.MintDead
	default:
		at := now
		if !dueNow {
			at = now.Add(retryBackoff(attempts, c.cfg.BackoffBase, c.cfg.BackoffMax))
		}
		next = &at
	}

	if err := c.update(ctx, rec, map[string]interface{}{
		"status":          status,
		"attempts":        attempts,
		"last_error":      msg,
		"next_attempt_at": next,
		"updated_at":      now,
	}, scopes...); err != nil {
		return rec.Status, err
	}
	rec.Status = status
	rec.Attempts = attempts
	rec.LastError = msg
	rec.NextAttemptAt = next
	rec.UpdatedAt = now

	if status == models.MintDead {
		c.Alerts.Raise(ctx, models.AlertDeadLetter, &rec.ID, rec.UserID, rec.AchievementID,
			fmt.Sprintf("mint gave up after %d attempt(s): %s", attempts, msg))
		return status, nil
	}
	c.log.Warn("Mint attempt failed, retry scheduled",
		"mint_record_id", rec.ID,
		"user_id", rec.UserID,
		"achievement_id", rec.AchievementID,
		"attempts", attempts,
		"next_attempt_at", next,
		"error", cause,
	)
	return status, nil
}

func retryable(err error) bool {
	var verr *ValidationError
	return !IsPermanent(err) && !errors.As(err, &verr)
}

// update applies fields while rec is unchanged in the store (same status and attempts).
func (c *MintCoordinator) update(ctx context.Context, rec *models.MintRecord, fields map[string]interface{}, scopes ...func(*gorm.DB) *gorm.DB) error {
	res := c.DB.WithContext(ctx).Model(&models.MintRecord{}).
		Scopes(scopes...).
		Where("id = ? AND status = ? AND attempts = ?", rec.ID, rec.Status, rec.Attempts).
		Updates(fields)
	if res.Error != nil {
		return storageErr("update mint record", res.Error)
	}
	if res.RowsAffected == 0 {
		return errClaimLost
	}
	return nil
}
