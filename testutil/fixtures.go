package testutil

import (
	"testing"
	"time"

	"activity-rewards-system/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func SeedWallet(tb testing.TB, db *gorm.DB, userID, address string) *models.WalletMirror {
	tb.Helper()
	now := time.Now().UTC()
	w := &models.WalletMirror{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Chain:              "polygon",
		Address:            address,
		IsActive:           true,
		LastBalanceCheckAt: now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := db.Create(w).Error; err != nil {
		tb.Fatalf("seed wallet: %v", err)
	}
	return w
}

// SeedMintRecord inserts a record as a previous run would have left it.
func SeedMintRecord(tb testing.TB, db *gorm.DB, rec models.MintRecord) *models.MintRecord {
	tb.Helper()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = models.MintPending
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	if rec.Earned.Data().EarnedOn == "" {
		rec.Earned = datatypes.NewJSONType(models.EarnedContext{
			Value:    1,
			EarnedOn: now.Format(models.DayBucketLayout),
			QueuedAt: now,
		})
	}
	if err := db.Create(&rec).Error; err != nil {
		tb.Fatalf("seed mint record: %v", err)
	}
	return &rec
}

func SeedToken(tb testing.TB, db *gorm.DB, userID, achievementID, tokenID string) *models.SoulboundToken {
	tb.Helper()
	tok := &models.SoulboundToken{
		TokenID:       tokenID,
		Owner:         "0x" + userID,
		UserID:        userID,
		AchievementID: achievementID,
		MetadataURI:   "https://cdn.test/" + tokenID + ".json",
		MintedAt:      time.Now().UTC(),
	}
	if err := db.Create(tok).Error; err != nil {
		tb.Fatalf("seed token: %v", err)
	}
	return tok
}

func SeedProgress(tb testing.TB, db *gorm.DB, prog models.UserProgress) *models.UserProgress {
	tb.Helper()
	if err := db.Create(&prog).Error; err != nil {
		tb.Fatalf("seed progress: %v", err)
	}
	return &prog
}
