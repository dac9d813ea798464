package models

import "time"

// Pass/fail verdicts.
const (
	PassFailPass = "PASS"
	PassFailFail = "FAIL"
)

// Print log types.
const (
	PrintTypeAuto    = "AUTO"
	PrintTypeManual  = "MANUAL"
	PrintTypeReprint = "REPRINT"
)

// Cycle is one measured weld/seal operation and its verdict. ModelName and
// ModelType are copied from the active model when the row is created and are
// never refreshed afterwards.
type Cycle struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp  time.Time `gorm:"not null;index"`
	ModelID    *uint     `gorm:"index"`
	ModelName  string    `gorm:"size:128;not null"`
	ModelType  string    `gorm:"size:32;not null"`
	PeakHeight float64   `gorm:"type:decimal(10,3);not null"`
	PassFail   string    `gorm:"size:4;not null;check:pass_fail IN ('PASS','FAIL')"`
	QRCode     *string   `gorm:"column:qr_code;size:64;index"`
	Printed    bool      `gorm:"not null;default:false;index"`

	Model *ProductModel `gorm:"foreignKey:ModelID"`
}

// TableName keeps the historical table name.
func (Cycle) TableName() string { return "cycles" }

// Passed reports whether the cycle was judged PASS.
func (c Cycle) Passed() bool { return c.PassFail == PassFailPass }

// QR returns the traceability code, or "" when none was issued.
func (c Cycle) QR() string {
	if c.QRCode == nil {
		return ""
	}
	return *c.QRCode
}

// CyclePrintLog is one append-only entry of a label print or reprint.
type CyclePrintLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	CycleID   uint      `gorm:"not null;index"`
	PrintType string    `gorm:"size:8;not null;check:print_type IN ('AUTO','MANUAL','REPRINT')"`
	PrintedAt time.Time `gorm:"not null;index"`
	PrintedBy *string   `gorm:"size:64"`
	Reason    *string   `gorm:"size:255"`

	Cycle *Cycle `gorm:"foreignKey:CycleID;constraint:OnDelete:CASCADE"`
}

// TableName keeps the historical table name.
func (CyclePrintLog) TableName() string { return "cycle_print_log" }

// QRCode is an issued traceability code. Cycles reference it by QRData value.
type QRCode struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	QRData    string    `gorm:"column:qr_data;size:64;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"not null;index"`
	Filename  *string   `gorm:"size:255"`
}

// TableName keeps the historical table name.
func (QRCode) TableName() string { return "qr_codes" }
