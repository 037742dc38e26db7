package models

import "time"

// ActivityType is the kind of platform action recorded in the ledger.
type ActivityType string

const (
	ActivityLogin           ActivityType = "LOGIN"
	ActivityPayment         ActivityType = "PAYMENT"
	ActivityTaskCompletion  ActivityType = "TASK_COMPLETION"
	ActivityQuestCompletion ActivityType = "QUEST_COMPLETION"
)

// ActivityTypes lists every known type in a fixed order.
var ActivityTypes = []ActivityType{
	ActivityLogin,
	ActivityPayment,
	ActivityTaskCompletion,
	ActivityQuestCompletion,
}

func (t ActivityType) Valid() bool {
	for _, known := range ActivityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// DayBucketLayout is the canonical calendar-date format of a day bucket.
const DayBucketLayout = "2006-01-02"

// ActivityEvent is one immutable row of the append-only activity ledger.
// Rows are only ever inserted; nothing in the service updates or deletes them.
type ActivityEvent struct {
	ID             string       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID         string       `gorm:"type:varchar(128);not null;index:idx_activity_user_ts,priority:1" json:"user_id"`
	Type           ActivityType `gorm:"type:varchar(32);not null;index" json:"type"`
	Amount         *float64     `json:"amount,omitempty"`
	Timestamp      time.Time    `gorm:"column:occurred_at;not null;index:idx_activity_user_ts,priority:2" json:"timestamp"`
	DayBucket      string       `gorm:"type:varchar(10);not null" json:"day_bucket"`
	IdempotencyKey *string      `gorm:"type:varchar(128);uniqueIndex" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time    `gorm:"autoCreateTime" json:"created_at"`
}
