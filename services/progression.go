package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"activity-rewards-system/logger"
	"activity-rewards-system/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Recompute derives a user's progress from their ledger. It is a pure function:
// the same events and unlocked ids always produce the same value, whatever their order.
// Events belonging to another user are ignored.
func Recompute(userID string, events []models.ActivityEvent, unlocked []string) models.UserProgress {
	ordered := make([]models.ActivityEvent, 0, len(events))
	for _, ev := range events {
		if ev.UserID == userID {
			ordered = append(ordered, ev)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].ID < ordered[j].ID
	})

	stats := make(map[models.ActivityType]models.TypeProgress, len(models.ActivityTypes))
	days := make(map[models.ActivityType][]string, len(models.ActivityTypes))
	for _, t := range models.ActivityTypes {
		stats[t] = models.TypeProgress{}
	}

	var lastEventAt *time.Time
	for i := range ordered {
		ev := ordered[i]
		tp := stats[ev.Type]
		tp.Count++
		if ev.Amount != nil {
			tp.AmountSum += *ev.Amount
		}
		stats[ev.Type] = tp
		days[ev.Type] = append(days[ev.Type], ev.DayBucket)
		ts := ev.Timestamp.UTC()
		lastEventAt = &ts
	}

	for t, buckets := range days {
		tp := stats[t]
		tp.CurrentStreak, tp.LongestStreak, tp.LastActivityDate = ComputeStreaks(buckets)
		stats[t] = tp
	}

	ids := normalizeIDs(unlocked)
	return models.UserProgress{
		UserID:               userID,
		Stats:                datatypes.NewJSONType(stats),
		UnlockedAchievements: datatypes.NewJSONType(ids),
		EventCount:           int64(len(ordered)),
		UnlockedCount:        len(ids),
		LastEventAt:          lastEventAt,
	}
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ProgressionService keeps the per-user progress cache in step with the ledger.
type ProgressionService struct {
	DB     *gorm.DB
	Ledger *ActivityLedger
	log    *logger.Logger
}

func NewProgressionService(db *gorm.DB, ledger *ActivityLedger, baseLog *logger.Logger) *ProgressionService {
	return &ProgressionService{
		DB:     db,
		Ledger: ledger,
		log:    baseLog.With("service", "ProgressionService"),
	}
}

// RecomputeUser rebuilds the user's progress from the full ledger and stores it.
func (s *ProgressionService) RecomputeUser(ctx context.Context, userID string) (*models.UserProgress, error) {
	events, err := s.Ledger.Query(ctx, userID, nil, nil)
	if err != nil {
		return nil, err
	}

	var unlocked []string
	if err := s.DB.WithContext(ctx).
		Model(&models.MintRecord{}).
		Where("user_id = ?", userID).
		Pluck("achievement_id", &unlocked).Error; err != nil {
		return nil, storageErr("load unlocked achievements", err)
	}

	prog := Recompute(userID, events, unlocked)
	if prog.EventCount == 0 && prog.UnlockedCount == 0 {
		// Nothing to cache for a user the ledger has never seen.
		return &prog, nil
	}
	if err := s.save(ctx, &prog); err != nil {
		return nil, err
	}
	return &prog, nil
}

// save upserts the cache row. A snapshot that saw fewer events or fewer unlocks than
// the stored one is dropped, so a slow concurrent recompute cannot roll the cache back.
func (s *ProgressionService) save(ctx context.Context, prog *models.UserProgress) error {
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"stats", "unlocked_achievements", "unlocked_count", "event_count", "last_event_at", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "user_progress.event_count <= excluded.event_count AND user_progress.unlocked_count <= excluded.unlocked_count"},
		}},
	}).Create(prog).Error
	return storageErr("save progress", err)
}

// GetProgress returns the cached progress, computing it on first access.
// Unknown users get an empty snapshot and no cache row.
func (s *ProgressionService) GetProgress(ctx context.Context, userID string) (*models.UserProgress, error) {
	userID = strings.TrimSpace(userID)
	if fe := validateUserID(userID); fe != nil {
		return nil, &ValidationError{Fields: []FieldError{*fe}}
	}
	var prog models.UserProgress
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&prog).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.RecomputeUser(ctx, userID)
	}
	if err != nil {
		return nil, storageErr("get progress", err)
	}
	return &prog, nil
}
