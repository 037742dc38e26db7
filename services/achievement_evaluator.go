package services

import (
	"context"
	"errors"
	"time"

	"activity-rewards-system/logger"
	"activity-rewards-system/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AchievementEvaluator turns recomputed progress into PENDING mint records.
type AchievementEvaluator struct {
	DB      *gorm.DB
	Catalog *Catalog
	log     *logger.Logger
	now     func() time.Time
}

func NewAchievementEvaluator(db *gorm.DB, catalog *Catalog, baseLog *logger.Logger) *AchievementEvaluator {
	return &AchievementEvaluator{
		DB:      db,
		Catalog: catalog,
		log:     baseLog.With("service", "AchievementEvaluator"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate returns the ids of active definitions that prog newly qualifies for,
// in catalog order. Achievements already in prog's unlocked set are skipped.
func Evaluate(catalog *Catalog, prog *models.UserProgress) []string {
	var qualified []string
	for _, def := range catalog.Active() {
		if prog.HasUnlocked(def.ID) {
			continue
		}
		if progressValue(def, prog) >= def.Threshold {
			qualified = append(qualified, def.ID)
		}
	}
	return qualified
}

// progressValue is the number a definition's threshold is compared against.
func progressValue(def models.AchievementDefinition, prog *models.UserProgress) float64 {
	tp := prog.StatsFor(def.ActivityType)
	switch def.Kind {
	case models.KindStreak:
		return float64(tp.CurrentStreak)
	case models.KindMilestone:
		if def.Metric == models.MetricAmount {
			return tp.AmountSum
		}
		return float64(tp.Count)
	}
	return 0
}

// EvaluateAndEnqueue evaluates prog and creates a PENDING mint record for every newly
// qualified achievement. It returns the ids whose record this call created; ids lost
// to a concurrent caller are silently skipped.
func (e *AchievementEvaluator) EvaluateAndEnqueue(ctx context.Context, prog *models.UserProgress) ([]string, error) {
	var created []string
	for _, id := range Evaluate(e.Catalog, prog) {
		def, _ := e.Catalog.Get(id)
		err := e.createIfAbsent(ctx, prog, def)
		switch {
		case err == nil:
			created = append(created, id)
			e.log.Info("Achievement unlocked", "user_id", prog.UserID, "achievement_id", id)
		case errors.Is(err, ErrDuplicateAchievement):
			e.log.Debug("Achievement already recorded", "user_id", prog.UserID, "achievement_id", id)
		default:
			return created, err
		}
	}
	return created, nil
}

// createIfAbsent inserts the mint record, relying on the unique (user_id, achievement_id)
// index. ErrDuplicateAchievement is returned when the row already exists.
func (e *AchievementEvaluator) createIfAbsent(ctx context.Context, prog *models.UserProgress, def models.AchievementDefinition) error {
	now := e.now()
	earnedOn := prog.StatsFor(def.ActivityType).LastActivityDate
	if earnedOn == "" {
		earnedOn = now.Format(models.DayBucketLayout)
	}

	rec := models.MintRecord{
		ID:            uuid.NewString(),
		UserID:        prog.UserID,
		AchievementID: def.ID,
		Status:        models.MintPending,
		Earned: datatypes.NewJSONType(models.EarnedContext{
			Value:    progressValue(def, prog),
			EarnedOn: earnedOn,
			QueuedAt: now,
		}),
		CreatedAt: now,
		UpdatedAt: now,
	}

	res := e.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "achievement_id"}},
		DoNothing: true,
	}).Create(&rec)
	if res.Error != nil {
		return storageErr("create mint record", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateAchievement
	}
	return nil
}
