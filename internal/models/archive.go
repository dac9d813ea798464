package models

import "time"

// Archive rows keep the primary key of the live row they were copied from,
// so a second copy of the same row is detectable by id.

// CycleArchive is an archived cycles row.
type CycleArchive struct {
	ID           uint      `gorm:"primaryKey;autoIncrement:false"`
	Timestamp    time.Time `gorm:"not null;index"`
	ModelID      uint      `gorm:"not null"`
	ModelName    string    `gorm:"size:128;not null"`
	ModelType    string    `gorm:"size:32;not null"`
	PeakHeight   float64   `gorm:"type:decimal(10,3);not null"`
	PassFail     string    `gorm:"size:32;not null"`
	QRCode       string    `gorm:"column:qr_code;size:64;not null;index"`
	Printed      bool      `gorm:"not null"`
	ArchivedAt   time.Time `gorm:"not null;index"`
	PurgeBatchID string    `gorm:"size:32;not null;index"`
}

// TableName keeps the historical table name.
func (CycleArchive) TableName() string { return "cycles_archive" }

// QRCodeArchive is an archived qr_codes row.
type QRCodeArchive struct {
	ID           uint      `gorm:"primaryKey;autoIncrement:false"`
	QRData       string    `gorm:"column:qr_data;size:64;not null;index"`
	CreatedAt    time.Time `gorm:"not null"`
	Filename     string    `gorm:"size:255;not null"`
	ArchivedAt   time.Time `gorm:"not null;index"`
	PurgeBatchID string    `gorm:"size:32;not null;index"`
}

// TableName keeps the historical table name.
func (QRCodeArchive) TableName() string { return "qr_codes_archive" }

// CyclePrintLogArchive is an archived cycle_print_log row.
type CyclePrintLogArchive struct {
	ID           uint      `gorm:"primaryKey;autoIncrement:false"`
	CycleID      uint      `gorm:"not null;index"`
	PrintType    string    `gorm:"size:32;not null"`
	PrintedAt    time.Time `gorm:"not null"`
	PrintedBy    string    `gorm:"size:64;not null"`
	Reason       string    `gorm:"size:255;not null"`
	ArchivedAt   time.Time `gorm:"not null;index"`
	PurgeBatchID string    `gorm:"size:32;not null;index"`
}

// TableName keeps the historical table name.
func (CyclePrintLogArchive) TableName() string { return "cycle_print_log_archive" }

// SmsQueueArchive is an archived sms_queue row.
type SmsQueueArchive struct {
	ID           uint      `gorm:"primaryKey;autoIncrement:false"`
	Timestamp    time.Time `gorm:"not null"`
	Phone        string    `gorm:"size:32;not null"`
	Name         string    `gorm:"size:128;not null"`
	Message      string    `gorm:"type:text;not null"`
	Status       string    `gorm:"size:32;not null"`
	RetryCount   int       `gorm:"not null"`
	LastError    string    `gorm:"size:255;not null"`
	ArchivedAt   time.Time `gorm:"not null;index"`
	PurgeBatchID string    `gorm:"size:32;not null;index"`
}

// TableName keeps the historical table name.
func (SmsQueueArchive) TableName() string { return "sms_queue_archive" }

// Purge run statuses.
const (
	PurgeRunning   = "running"
	PurgeCompleted = "completed"
	PurgeFailed    = "failed"
)

// PurgeRun records one archival run. At most one run is active at a time.
type PurgeRun struct {
	BatchID      string    `gorm:"primaryKey;size:32"`
	Status       string    `gorm:"size:16;not null;index"`
	Cutoff       time.Time `gorm:"not null"`
	StartedAt    time.Time `gorm:"not null"`
	FinishedAt   *time.Time
	RowsArchived int    `gorm:"not null;default:0"`
	Error        string `gorm:"type:text"`
}

// TableName returns the purge run table name.
func (PurgeRun) TableName() string { return "purge_runs" }
