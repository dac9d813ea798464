package recorder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zulandar/pneumaticqc/internal/db"
	"github.com/zulandar/pneumaticqc/internal/label"
	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
	"gorm.io/gorm"
)

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// loadPrintable reads a cycle inside tx and checks it carries a code.
func loadPrintable(tx *gorm.DB, cycleID uint) (*models.Cycle, error) {
	var c models.Cycle
	if err := db.ForUpdate(tx).First(&c, cycleID).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, qcerr.NotFound("cycle %d", cycleID)
		}
		return nil, err
	}
	if c.QR() == "" {
		return nil, qcerr.Invalid("cycle %d has no traceability code", cycleID)
	}
	return &c, nil
}

// RecordPrint logs an automatic print of a cycle's label and marks the cycle
// printed. It is used when the printer outcome is reported from outside, and
// after the recorder's own automatic print.
func (r *Recorder) RecordPrint(ctx context.Context, cycleID uint, printedBy string) (*models.CyclePrintLog, error) {
	var entry models.CyclePrintLog
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadPrintable(tx, cycleID); err != nil {
			return err
		}
		if err := tx.Model(&models.Cycle{}).Where("id = ?", cycleID).Update("printed", true).Error; err != nil {
			return err
		}
		entry = models.CyclePrintLog{
			CycleID:   cycleID,
			PrintType: models.PrintTypeAuto,
			PrintedAt: r.now(),
			PrintedBy: optional(printedBy),
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return nil, fmt.Errorf("recorder: record print of cycle %d: %w", cycleID, err)
	}
	return &entry, nil
}

func validateReprint(printType, reason string) error {
	if printType != models.PrintTypeManual && printType != models.PrintTypeReprint {
		return qcerr.Invalid("print type %q, want %s or %s", printType, models.PrintTypeManual, models.PrintTypeReprint)
	}
	if strings.TrimSpace(reason) == "" {
		return qcerr.Invalid("reason is required for %s prints", printType)
	}
	return nil
}

// RecordReprint appends a MANUAL or REPRINT entry to the print log. A MANUAL
// print also marks the cycle printed, covering labels that were never printed
// automatically.
func (r *Recorder) RecordReprint(ctx context.Context, cycleID uint, printType, reason, printedBy string) (*models.CyclePrintLog, error) {
	if err := validateReprint(printType, reason); err != nil {
		return nil, fmt.Errorf("recorder: reprint cycle %d: %w", cycleID, err)
	}

	var entry models.CyclePrintLog
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadPrintable(tx, cycleID); err != nil {
			return err
		}
		if printType == models.PrintTypeManual {
			if err := tx.Model(&models.Cycle{}).Where("id = ?", cycleID).Update("printed", true).Error; err != nil {
				return err
			}
		}
		entry = models.CyclePrintLog{
			CycleID:   cycleID,
			PrintType: printType,
			PrintedAt: r.now(),
			PrintedBy: optional(printedBy),
			Reason:    optional(reason),
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return nil, fmt.Errorf("recorder: reprint cycle %d: %w", cycleID, err)
	}
	return &entry, nil
}

// Reprint prints a cycle's label again and logs it with RecordReprint.
func (r *Recorder) Reprint(ctx context.Context, cycleID uint, printType, reason, printedBy string) (*models.CyclePrintLog, error) {
	if err := validateReprint(printType, reason); err != nil {
		return nil, fmt.Errorf("recorder: reprint cycle %d: %w", cycleID, err)
	}
	if r.printer == nil {
		return nil, fmt.Errorf("recorder: reprint cycle %d: %w", cycleID,
			qcerr.Transport("print", errors.New("no printer configured")))
	}

	c, err := r.Get(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if c.QR() == "" {
		return nil, fmt.Errorf("recorder: reprint cycle %d: %w", cycleID, qcerr.Invalid("cycle has no traceability code"))
	}

	var imagePath string
	if rec, err := r.codes.Lookup(ctx, c.QR()); err == nil {
		imagePath = rec.Filename
	}

	pctx, cancel := context.WithTimeout(ctx, r.opts.PrintTimeout)
	err = r.printer.Print(pctx, label.FromCycle(*c, imagePath))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("recorder: reprint cycle %d: %w", cycleID, qcerr.Transport("print", err))
	}
	return r.RecordReprint(ctx, cycleID, printType, reason, printedBy)
}

// PrintEntry is one print log row, live or archived.
type PrintEntry struct {
	ID        uint      `json:"id"`
	CycleID   uint      `json:"cycle_id"`
	PrintType string    `json:"print_type"`
	PrintedAt time.Time `json:"printed_at"`
	PrintedBy string    `json:"printed_by,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Archived  bool      `json:"archived"`
}

// PrintHistory returns every print of a cycle, archived ones included, in
// the order they happened.
func (r *Recorder) PrintHistory(ctx context.Context, cycleID uint) ([]PrintEntry, error) {
	gdb := r.db.WithContext(ctx)

	var live []models.CyclePrintLog
	if err := gdb.Where("cycle_id = ?", cycleID).Find(&live).Error; err != nil {
		return nil, fmt.Errorf("recorder: print history of cycle %d: %w", cycleID, err)
	}
	var archived []models.CyclePrintLogArchive
	if err := gdb.Where("cycle_id = ?", cycleID).Find(&archived).Error; err != nil {
		return nil, fmt.Errorf("recorder: print history of cycle %d: %w", cycleID, err)
	}

	entries := make([]PrintEntry, 0, len(live)+len(archived))
	for _, l := range live {
		e := PrintEntry{ID: l.ID, CycleID: l.CycleID, PrintType: l.PrintType, PrintedAt: l.PrintedAt}
		if l.PrintedBy != nil {
			e.PrintedBy = *l.PrintedBy
		}
		if l.Reason != nil {
			e.Reason = *l.Reason
		}
		entries = append(entries, e)
	}
	for _, a := range archived {
		entries = append(entries, PrintEntry{
			ID:        a.ID,
			CycleID:   a.CycleID,
			PrintType: a.PrintType,
			PrintedAt: a.PrintedAt,
			PrintedBy: a.PrintedBy,
			Reason:    a.Reason,
			Archived:  true,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].PrintedAt.Equal(entries[j].PrintedAt) {
			return entries[i].PrintedAt.Before(entries[j].PrintedAt)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}
