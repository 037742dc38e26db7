package services

import (
	"context"
	"time"

	"activity-rewards-system/logger"
	"activity-rewards-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AlertService is the operational alert path: every alert is logged at error level
// and persisted until an operator acknowledges it.
type AlertService struct {
	DB  *gorm.DB
	log *logger.Logger
}

func NewAlertService(db *gorm.DB, baseLog *logger.Logger) *AlertService {
	return &AlertService{DB: db, log: baseLog.With("service", "AlertService")}
}

// Raise records an alert. A failure to persist is logged but not returned: the caller
// has already committed the state change the alert describes.
func (s *AlertService) Raise(ctx context.Context, kind models.AlertKind, recordID *string, userID, achievementID, message string) {
	s.log.Error("Mint alert raised",
		"kind", kind,
		"mint_record_id", recordID,
		"user_id", userID,
		"achievement_id", achievementID,
		"message", message,
	)
	alert := models.MintAlert{
		ID:            uuid.NewString(),
		Kind:          kind,
		MintRecordID:  recordID,
		UserID:        userID,
		AchievementID: achievementID,
		Message:       message,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Create(&alert).Error; err != nil {
		s.log.Error("Failed to persist mint alert", "kind", kind, "user_id", userID, "error", err)
	}
}

// List returns alerts newest first. Acknowledged alerts are included only on request.
func (s *AlertService) List(ctx context.Context, includeAcknowledged bool, limit int) ([]models.MintAlert, error) {
	q := s.DB.WithContext(ctx).Order("created_at DESC")
	if !includeAcknowledged {
		q = q.Where("acknowledged = ?", false)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var alerts []models.MintAlert
	if err := q.Find(&alerts).Error; err != nil {
		return nil, storageErr("list alerts", err)
	}
	return alerts, nil
}

func (s *AlertService) Acknowledge(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res := s.DB.WithContext(ctx).Model(&models.MintAlert{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"acknowledged": true, "acknowledged_at": now})
	if res.Error != nil {
		return storageErr("acknowledge alert", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
