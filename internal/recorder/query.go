package recorder

import (
	"context"
	"fmt"

	"github.com/zulandar/pneumaticqc/internal/db"
	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
)

// Get returns a live cycle.
func (r *Recorder) Get(ctx context.Context, id uint) (*models.Cycle, error) {
	var c models.Cycle
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, fmt.Errorf("recorder: %w", qcerr.NotFound("cycle %d", id))
		}
		return nil, fmt.Errorf("recorder: get cycle %d: %w", id, err)
	}
	return &c, nil
}

// Recent returns the latest cycles, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]models.Cycle, error) {
	q := r.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var cycles []models.Cycle
	if err := q.Find(&cycles).Error; err != nil {
		return nil, fmt.Errorf("recorder: recent cycles: %w", err)
	}
	return cycles, nil
}

// PendingPrints returns PASS cycles whose label has not been printed, oldest
// first.
func (r *Recorder) PendingPrints(ctx context.Context, limit int) ([]models.Cycle, error) {
	q := r.db.WithContext(ctx).
		Where("pass_fail = ? AND printed = ? AND qr_code IS NOT NULL", models.PassFailPass, false).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var cycles []models.Cycle
	if err := q.Find(&cycles).Error; err != nil {
		return nil, fmt.Errorf("recorder: pending prints: %w", err)
	}
	return cycles, nil
}

// FindByQR returns the cycle carrying a traceability code, searching the live
// table first and then the archive. archived reports where it was found.
func (r *Recorder) FindByQR(ctx context.Context, qrData string) (c *models.Cycle, archived bool, err error) {
	gdb := r.db.WithContext(ctx)

	var live models.Cycle
	err = gdb.Where("qr_code = ?", qrData).First(&live).Error
	if err == nil {
		return &live, false, nil
	}
	if !db.IsNotFound(err) {
		return nil, false, fmt.Errorf("recorder: find %s: %w", qrData, err)
	}

	var a models.CycleArchive
	err = gdb.Where("qr_code = ?", qrData).First(&a).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil, false, fmt.Errorf("recorder: %w", qcerr.NotFound("cycle with code %s", qrData))
		}
		return nil, false, fmt.Errorf("recorder: find %s: %w", qrData, err)
	}
	return fromArchive(a), true, nil
}

func fromArchive(a models.CycleArchive) *models.Cycle {
	c := &models.Cycle{
		ID:         a.ID,
		Timestamp:  a.Timestamp,
		ModelName:  a.ModelName,
		ModelType:  a.ModelType,
		PeakHeight: a.PeakHeight,
		PassFail:   a.PassFail,
		Printed:    a.Printed,
	}
	if a.ModelID != 0 {
		id := a.ModelID
		c.ModelID = &id
	}
	if a.QRCode != "" {
		qr := a.QRCode
		c.QRCode = &qr
	}
	return c
}
