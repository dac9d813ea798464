// Package recorder records measured cycles, judges them against the active
// model and drives their side effects: code issuance and label printing for
// PASS, SMS alerts for FAIL.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/zulandar/pneumaticqc/internal/alert"
	"github.com/zulandar/pneumaticqc/internal/db"
	"github.com/zulandar/pneumaticqc/internal/label"
	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
	"github.com/zulandar/pneumaticqc/internal/qrcode"
	"github.com/zulandar/pneumaticqc/internal/registry"
	"gorm.io/gorm"
)

const (
	defaultRenderTimeout = 10 * time.Second
	defaultPrintTimeout  = 15 * time.Second

	// recordAttempts bounds retries of a recording transaction that lost a
	// lock race; the wait grows by recordBackoff per attempt.
	recordAttempts = 5
	recordBackoff  = 50 * time.Millisecond
)

// Options tune collaborator timeouts and the operator recorded on automatic
// prints.
type Options struct {
	RenderTimeout time.Duration
	PrintTimeout  time.Duration
	PrintedBy     string
}

// Recorder is the Cycle Recorder and Print Audit Log.
type Recorder struct {
	db       *gorm.DB
	codes    *qrcode.Store
	alerts   *alert.Queue
	renderer qrcode.Renderer
	printer  label.Printer
	opts     Options
	now      func() time.Time
}

// New returns a Recorder. renderer and printer may be nil, in which case PASS
// codes are left unrendered or unprinted for later handling.
func New(gdb *gorm.DB, codes *qrcode.Store, alerts *alert.Queue, renderer qrcode.Renderer, printer label.Printer, opts Options) *Recorder {
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = defaultRenderTimeout
	}
	if opts.PrintTimeout <= 0 {
		opts.PrintTimeout = defaultPrintTimeout
	}
	r := &Recorder{
		db:       gdb,
		codes:    codes,
		alerts:   alerts,
		renderer: renderer,
		opts:     opts,
		now:      time.Now,
	}
	// A nil *CommandPrinter means printing is disabled.
	if p, ok := printer.(*label.CommandPrinter); !ok || p != nil {
		r.printer = printer
	}
	return r
}

// DegradedError reports a cycle that was persisted without its side effects.
// The measurement is kept; Err says which side effect failed.
type DegradedError struct {
	CycleID uint
	Err     error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("recorder: cycle %d saved without side effects: %v", e.CycleID, e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

// sideEffectError marks a failure inside the transaction that should fall
// back to saving the bare cycle.
type sideEffectError struct{ err error }

func (e sideEffectError) Error() string { return e.err.Error() }
func (e sideEffectError) Unwrap() error { return e.err }

// RecordCycle judges peak against the active model and stores the cycle. On
// PASS a traceability code is issued; on FAIL one alert is queued per phone
// of the model. Cycle and side effects commit together, and the transaction
// is retried when it loses a lock race. If it still fails the bare cycle is
// stored and returned along with a *DegradedError, so a measurement is only
// refused when no model is active.
//
// After commit, a PASS label is rendered and printed; collaborator failures
// there are logged and leave the cycle pending print.
func (r *Recorder) RecordCycle(ctx context.Context, peak float64, ts time.Time) (*models.Cycle, error) {
	if math.IsNaN(peak) || math.IsInf(peak, 0) {
		return nil, fmt.Errorf("recorder: record cycle: %w", qcerr.Invalid("peak height %v", peak))
	}
	if ts.IsZero() {
		ts = r.now()
	}

	var c models.Cycle
	var active *models.ProductModel
	var err error
	for attempt := 1; ; attempt++ {
		c, active, err = r.recordTx(ctx, peak, ts)
		if err == nil || !db.IsTransient(err) || attempt == recordAttempts {
			break
		}
		log.Printf("recorder: record cycle attempt %d: %v", attempt, err)
		timer := time.NewTimer(time.Duration(attempt) * recordBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("recorder: record cycle: %w", errors.Join(err, ctx.Err()))
		case <-timer.C:
		}
	}

	var side sideEffectError
	switch {
	case err == nil:
	case active == nil || errors.Is(err, qcerr.ErrNoActiveModel):
		return nil, fmt.Errorf("recorder: record cycle: %w", err)
	case errors.As(err, &side):
		return r.saveBare(ctx, *active, peak, ts, side.err)
	default:
		return r.saveBare(ctx, *active, peak, ts, err)
	}

	if c.Passed() {
		if err := r.labelAndPrint(ctx, &c); err != nil {
			log.Printf("recorder: cycle %d (%s): %v", c.ID, c.QR(), err)
		}
	}
	return &c, nil
}

// recordTx runs one attempt of the recording transaction. The active model is
// returned once read, even when a later step fails.
func (r *Recorder) recordTx(ctx context.Context, peak float64, ts time.Time) (models.Cycle, *models.ProductModel, error) {
	var c models.Cycle
	var active *models.ProductModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := registry.ActiveModel(tx)
		if err != nil {
			return err
		}
		active = m
		c = newCycle(*m, peak, ts)

		if c.Passed() {
			if _, err := r.codes.Issue(tx, &c); err != nil {
				return sideEffectError{err}
			}
		}
		if err := tx.Create(&c).Error; err != nil {
			return err
		}
		if !c.Passed() {
			phones, err := registry.PhonesFor(tx, m.ID)
			if err != nil {
				return sideEffectError{err}
			}
			if _, err := r.alerts.EnqueueFailure(tx, c, *m, phones); err != nil {
				return sideEffectError{err}
			}
		}
		return nil
	})
	return c, active, err
}

// newCycle snapshots m into a cycle. The peak is rounded to the stored
// precision before judging so the verdict matches the persisted value.
func newCycle(m models.ProductModel, peak float64, ts time.Time) models.Cycle {
	peak = models.RoundPeak(peak)
	id := m.ID
	return models.Cycle{
		Timestamp:  ts,
		ModelID:    &id,
		ModelName:  m.Name,
		ModelType:  m.ModelType,
		PeakHeight: peak,
		PassFail:   m.Judge(peak),
	}
}

// saveBare stores the cycle alone after its side effects failed.
func (r *Recorder) saveBare(ctx context.Context, m models.ProductModel, peak float64, ts time.Time, cause error) (*models.Cycle, error) {
	c := newCycle(m, peak, ts)
	if err := r.db.WithContext(ctx).Create(&c).Error; err != nil {
		return nil, fmt.Errorf("recorder: record cycle: %w", errors.Join(cause, err))
	}
	log.Printf("recorder: cycle %d (%s) saved without side effects: %v", c.ID, c.PassFail, cause)
	return &c, &DegradedError{CycleID: c.ID, Err: cause}
}

// labelAndPrint renders the code image and prints the label of a PASS cycle.
func (r *Recorder) labelAndPrint(ctx context.Context, c *models.Cycle) error {
	var imagePath string
	if r.renderer != nil {
		rctx, cancel := context.WithTimeout(ctx, r.opts.RenderTimeout)
		path, err := r.renderer.Render(rctx, qrcode.RequestFromCycle(*c))
		cancel()
		if err != nil {
			// The label can still be printed; the code is encoded on the fly.
			log.Printf("recorder: %v", qcerr.Transport("render "+c.QR(), err))
		} else if err := r.codes.SetFilename(ctx, c.QR(), path); err != nil {
			log.Printf("recorder: %v", err)
		} else {
			imagePath = path
		}
	}

	if r.printer == nil {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, r.opts.PrintTimeout)
	err := r.printer.Print(pctx, label.FromCycle(*c, imagePath))
	cancel()
	if err != nil {
		return qcerr.Transport("print", err)
	}

	if _, err := r.RecordPrint(ctx, c.ID, r.opts.PrintedBy); err != nil {
		return err
	}
	c.Printed = true
	return nil
}

// BackfillCodes issues codes for PASS cycles that were saved without one and
// returns how many were repaired.
func (r *Recorder) BackfillCodes(ctx context.Context) (int, error) {
	var missing []models.Cycle
	err := r.db.WithContext(ctx).
		Where("pass_fail = ? AND qr_code IS NULL", models.PassFailPass).
		Order("id ASC").
		Find(&missing).Error
	if err != nil {
		return 0, fmt.Errorf("recorder: backfill codes: %w", err)
	}

	repaired := 0
	for i := range missing {
		c := &missing[i]
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := r.codes.Issue(tx, c); err != nil {
				return err
			}
			result := tx.Model(&models.Cycle{}).
				Where("id = ? AND qr_code IS NULL", c.ID).
				Update("qr_code", c.QR())
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return qcerr.Conflict("cycle %d already has a code", c.ID)
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, qcerr.ErrConflict) {
				log.Printf("recorder: backfill cycle %d: %v", c.ID, err)
				continue
			}
			return repaired, fmt.Errorf("recorder: backfill cycle %d: %w", c.ID, err)
		}
		log.Printf("recorder: backfilled cycle %d with %s", c.ID, c.QR())
		repaired++
	}
	return repaired, nil
}
