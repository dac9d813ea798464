package models

import "time"

// SMS queue statuses.
const (
	SmsPending = "pending"
	SmsSent    = "sent"
	SmsFailed  = "failed"
)

// SmsQueueEntry is one outbound failure notification.
//
// ClaimToken and ClaimedAt hold the dispatch lease; they are cleared when the
// attempt finishes.
type SmsQueueEntry struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp  time.Time `gorm:"not null;index"`
	Phone      string    `gorm:"size:32;not null"`
	Name       *string   `gorm:"size:128"`
	Message    string    `gorm:"type:text;not null"`
	Status     string    `gorm:"size:16;not null;default:pending;index;check:status IN ('pending','sent','failed')"`
	RetryCount int       `gorm:"not null;default:0"`
	LastError  *string   `gorm:"size:255"`
	ClaimToken *string   `gorm:"size:36;index"`
	ClaimedAt  *time.Time
}

// TableName keeps the historical table name.
func (SmsQueueEntry) TableName() string { return "sms_queue" }
