package models

import (
	"math"
	"time"
)

// PeakScale is 10^n for the n decimal places peak heights and limits are
// stored with.
const PeakScale = 1000

// RoundPeak rounds a peak height to the stored precision.
func RoundPeak(peak float64) float64 {
	return math.Round(peak*PeakScale) / PeakScale
}

// ProductModel is a product definition carrying the acceptable peak-height band.
type ProductModel struct {
	ID         uint    `gorm:"primaryKey;autoIncrement"`
	Name       string  `gorm:"size:128;not null;uniqueIndex"`
	ModelType  string  `gorm:"size:32;not null"`
	LowerLimit float64 `gorm:"type:decimal(10,3);not null"`
	UpperLimit float64 `gorm:"type:decimal(10,3);not null"`
}

// TableName keeps the historical table name.
func (ProductModel) TableName() string { return "models" }

// Within reports whether peak lies in the closed interval [LowerLimit, UpperLimit].
func (m ProductModel) Within(peak float64) bool {
	return m.LowerLimit <= peak && peak <= m.UpperLimit
}

// Judge returns PassFailPass or PassFailFail for a measured peak.
func (m ProductModel) Judge(peak float64) string {
	if m.Within(peak) {
		return PassFailPass
	}
	return PassFailFail
}

// SystemState is the single row pointing at the model currently in
// production. QRCounter is the number of the last issued traceability code;
// it survives production resets so codes on shipped parts are not reissued.
type SystemState struct {
	ID            uint `gorm:"primaryKey;autoIncrement:false"`
	ActiveModelID *uint
	QRCounter     uint `gorm:"column:qr_counter;not null;default:0"`
	UpdatedAt     time.Time

	ActiveModel *ProductModel `gorm:"foreignKey:ActiveModelID"`
}

// TableName keeps the historical table name.
func (SystemState) TableName() string { return "system_state" }

// SystemStateID is the primary key of the only system_state row.
const SystemStateID = 1

// AlertPhone is a recipient notified when a cycle of its model fails.
type AlertPhone struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ModelID     uint   `gorm:"not null;index"`
	Name        string `gorm:"size:128"`
	PhoneNumber string `gorm:"size:32;not null"`

	Model *ProductModel `gorm:"foreignKey:ModelID;constraint:OnDelete:CASCADE"`
}

// TableName keeps the historical table name.
func (AlertPhone) TableName() string { return "alert_phones" }
