package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"activity-rewards-system/logger"
	"activity-rewards-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	MaxUserIDLen         = 128
	MaxIdempotencyKeyLen = 128
)

// ActivityLedger is the append-only store of user actions.
type ActivityLedger struct {
	DB   *gorm.DB
	log  *logger.Logger
	loc  *time.Location
	skew time.Duration
	now  func() time.Time
}

// NewActivityLedger builds a ledger whose day buckets are computed in loc.
// skew is the tolerated clock drift for "not in the future" checks.
func NewActivityLedger(db *gorm.DB, baseLog *logger.Logger, loc *time.Location, skew time.Duration) *ActivityLedger {
	if loc == nil {
		loc = time.UTC
	}
	return &ActivityLedger{
		DB:   db,
		log:  baseLog.With("service", "ActivityLedger"),
		loc:  loc,
		skew: skew,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Location returns the reference timezone of day buckets.
func (l *ActivityLedger) Location() *time.Location { return l.loc }

// DayBucket returns the calendar date of ts in loc, formatted as YYYY-MM-DD.
func DayBucket(ts time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return ts.In(loc).Format(models.DayBucketLayout)
}

func validateUserID(userID string) *FieldError {
	if userID == "" {
		return &FieldError{"user_id", "required"}
	}
	if len(userID) > MaxUserIDLen {
		return &FieldError{"user_id", fmt.Sprintf("max length %d", MaxUserIDLen)}
	}
	return nil
}

// ValidateEvent performs strict checks on an event before it is appended.
func ValidateEvent(ev *models.ActivityEvent, now time.Time, skew time.Duration) []FieldError {
	var errs []FieldError

	if fe := validateUserID(ev.UserID); fe != nil {
		errs = append(errs, *fe)
	}

	if !ev.Type.Valid() {
		errs = append(errs, FieldError{"type", fmt.Sprintf("unknown activity type %q", ev.Type)})
	}

	if ev.Amount != nil {
		a := *ev.Amount
		if math.IsNaN(a) || math.IsInf(a, 0) || a < 0 {
			errs = append(errs, FieldError{"amount", "must be a finite, non-negative number"})
		}
	}

	if ev.Timestamp.IsZero() {
		errs = append(errs, FieldError{"timestamp", "required"})
	} else if ev.Timestamp.After(now.Add(skew)) {
		errs = append(errs, FieldError{"timestamp", "must not be in the future"})
	}

	if ev.IdempotencyKey != nil && (*ev.IdempotencyKey == "" || len(*ev.IdempotencyKey) > MaxIdempotencyKeyLen) {
		errs = append(errs, FieldError{"idempotency_key", fmt.Sprintf("must be 1..%d characters", MaxIdempotencyKeyLen)})
	}

	return errs
}

// Append validates and persists ev, returning the stored event.
// When ev carries an idempotency key that was already used, the original event is returned.
func (l *ActivityLedger) Append(ctx context.Context, ev models.ActivityEvent) (*models.ActivityEvent, error) {
	ev.UserID = strings.TrimSpace(ev.UserID)
	if ev.IdempotencyKey != nil {
		key := strings.TrimSpace(*ev.IdempotencyKey)
		ev.IdempotencyKey = &key
	}
	if fieldErrs := ValidateEvent(&ev, l.now(), l.skew); len(fieldErrs) > 0 {
		return nil, &ValidationError{Fields: fieldErrs}
	}

	ev.ID = uuid.NewString()
	ev.Timestamp = ev.Timestamp.UTC()
	ev.DayBucket = DayBucket(ev.Timestamp, l.loc)
	ev.CreatedAt = l.now()

	db := l.DB.WithContext(ctx)
	if ev.IdempotencyKey == nil {
		if err := db.Create(&ev).Error; err != nil {
			return nil, storageErr("append activity", err)
		}
		return &ev, nil
	}

	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(&ev)
	if res.Error != nil {
		return nil, storageErr("append activity", res.Error)
	}
	if res.RowsAffected > 0 {
		return &ev, nil
	}

	var existing models.ActivityEvent
	if err := db.Where("idempotency_key = ?", *ev.IdempotencyKey).First(&existing).Error; err != nil {
		return nil, storageErr("load idempotent activity", err)
	}
	if existing.UserID != ev.UserID || existing.Type != ev.Type {
		return nil, &ValidationError{Fields: []FieldError{{"idempotency_key", "already used for a different activity"}}}
	}
	l.log.Debug("Duplicate activity append collapsed", "user_id", ev.UserID, "event_id", existing.ID)
	return &existing, nil
}

// Query returns a user's events ordered by timestamp. typ and since are optional filters.
func (l *ActivityLedger) Query(ctx context.Context, userID string, typ *models.ActivityType, since *time.Time) ([]models.ActivityEvent, error) {
	q := l.DB.WithContext(ctx).Where("user_id = ?", userID)
	if typ != nil {
		q = q.Where("type = ?", *typ)
	}
	if since != nil {
		q = q.Where("occurred_at >= ?", since.UTC())
	}

	var events []models.ActivityEvent
	if err := q.Order("occurred_at ASC").Order("id ASC").Find(&events).Error; err != nil {
		return nil, storageErr("query activity", err)
	}
	return events, nil
}
