// Package archive moves aged rows from the live tables into their archive
// counterparts in tracked purge batches.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
	"gorm.io/gorm"
)

// Live tables, in the order a batch processes them.
const (
	TableSms      = "sms_queue"
	TableQRCodes  = "qr_codes"
	TablePrintLog = "cycle_print_log"
	TableCycles   = "cycles"
)

// BatchIDLayout formats purge batch ids from the run time.
const BatchIDLayout = "20060102150405"

// chunkSize bounds the rows loaded at once within a table transaction.
const chunkSize = 500

// Cutoffs holds the per-table age limit of one batch. Rows strictly older
// than their table's cutoff are archived.
type Cutoffs struct {
	Sms      time.Time
	QRCodes  time.Time
	PrintLog time.Time
	Cycles   time.Time
}

// Uniform applies one cutoff to every table.
func Uniform(cutoff time.Time) Cutoffs {
	return Cutoffs{Sms: cutoff, QRCodes: cutoff, PrintLog: cutoff, Cycles: cutoff}
}

func (c Cutoffs) earliest() time.Time {
	t := c.Sms
	for _, o := range []time.Time{c.QRCodes, c.PrintLog, c.Cycles} {
		if o.Before(t) {
			t = o
		}
	}
	return t
}

// TableResult is the outcome of one table within a batch.
type TableResult struct {
	Table    string    `json:"table"`
	Cutoff   time.Time `json:"cutoff"`
	Archived int       `json:"archived"`
	// Skipped counts rows already present in the archive; they are removed
	// from the live table without a second copy.
	Skipped int `json:"skipped"`
	Deleted int `json:"deleted"`
	// Swept counts print log rows archived along with their cycles.
	Swept         int   `json:"swept,omitempty"`
	ImagesRemoved int   `json:"images_removed,omitempty"`
	Err           error `json:"-"`
}

// Report summarises one batch.
type Report struct {
	BatchID string        `json:"batch_id"`
	Tables  []TableResult `json:"tables"`
}

// Archived returns the rows copied across all tables.
func (r *Report) Archived() int {
	n := 0
	for _, t := range r.Tables {
		n += t.Archived + t.Swept
	}
	return n
}

// Err joins the failures of individual tables.
func (r *Report) Err() error {
	var errs []error
	for _, t := range r.Tables {
		if t.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Table, t.Err))
		}
	}
	return errors.Join(errs...)
}

// Options configure an Engine.
type Options struct {
	StaleRunTimeout time.Duration
	// DeleteImages removes the rendered image of every archived code once its
	// table transaction has committed.
	DeleteImages bool
}

// Engine is the Archival & Purge Engine. Runs are serialised within the
// process by a mutex and across processes by the purge_runs table.
type Engine struct {
	db           *gorm.DB
	mu           sync.Mutex
	staleAfter   time.Duration
	deleteImages bool
	now          func() time.Time
}

// NewEngine returns an Engine.
func NewEngine(gdb *gorm.DB, opts Options) *Engine {
	if opts.StaleRunTimeout <= 0 {
		opts.StaleRunTimeout = DefaultStaleRunTimeout
	}
	return &Engine{
		db:           gdb,
		staleAfter:   opts.StaleRunTimeout,
		deleteImages: opts.DeleteImages,
		now:          time.Now,
	}
}

// ArchiveOlderThan archives every live row older than cutoff under batchID.
// Each table is copied and deleted in its own transaction; a failing table is
// rolled back and reported without stopping the others. Re-running a batch is
// safe: rows already archived are not copied twice.
//
// The returned error is ErrConflict when another run is active, or the joined
// table failures otherwise; the report is returned in both latter cases.
func (e *Engine) ArchiveOlderThan(ctx context.Context, cutoff time.Time, batchID string) (*Report, error) {
	return e.Run(ctx, Uniform(cutoff), batchID)
}

// Run archives with per-table cutoffs.
func (e *Engine) Run(ctx context.Context, cutoffs Cutoffs, batchID string) (*Report, error) {
	if batchID == "" {
		return nil, fmt.Errorf("archive: %w", qcerr.Invalid("batch id is required"))
	}
	if !e.mu.TryLock() {
		return nil, fmt.Errorf("archive: batch %s: %w", batchID, qcerr.Conflict("another run is active in this process"))
	}
	defer e.mu.Unlock()

	if err := acquireRun(ctx, e.db, batchID, cutoffs.earliest(), e.staleAfter); err != nil {
		return nil, err
	}

	st := stamp{at: e.now(), batch: batchID}
	report := &Report{BatchID: batchID}
	report.Tables = append(report.Tables,
		e.runTable(ctx, TableSms, cutoffs.Sms, func(tx *gorm.DB, r *TableResult) error {
			return archiveSmsTable(tx, cutoffs.Sms, st, r)
		}),
		e.runQRCodes(ctx, cutoffs.QRCodes, st),
		e.runTable(ctx, TablePrintLog, cutoffs.PrintLog, func(tx *gorm.DB, r *TableResult) error {
			return archivePrintLogTable(tx, cutoffs.PrintLog, cutoffs.Cycles, st, r)
		}),
		e.runTable(ctx, TableCycles, cutoffs.Cycles, func(tx *gorm.DB, r *TableResult) error {
			return archiveCyclesTable(tx, cutoffs.Cycles, st, r)
		}),
	)

	runErr := report.Err()
	if err := finishRun(context.WithoutCancel(ctx), e.db, batchID, report.Archived(), runErr); err != nil {
		log.Printf("archive: %v", err)
	}
	for _, t := range report.Tables {
		if t.Err != nil {
			log.Printf("archive: batch %s: %s rolled back: %v", batchID, t.Table, t.Err)
		} else if t.Archived+t.Skipped+t.Swept > 0 {
			log.Printf("archive: batch %s: %s archived=%d skipped=%d swept=%d", batchID, t.Table, t.Archived, t.Skipped, t.Swept)
		}
	}
	if runErr != nil {
		return report, fmt.Errorf("archive: batch %s: %w", batchID, runErr)
	}
	return report, nil
}

// runTable executes fn in one transaction. On failure the counters are reset
// since nothing was committed.
func (e *Engine) runTable(ctx context.Context, table string, cutoff time.Time, fn func(*gorm.DB, *TableResult) error) TableResult {
	r := TableResult{Table: table, Cutoff: cutoff}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, &r)
	})
	if err != nil {
		return TableResult{Table: table, Cutoff: cutoff, Err: err}
	}
	return r
}

func (e *Engine) runQRCodes(ctx context.Context, cutoff time.Time, st stamp) TableResult {
	var images []string
	r := e.runTable(ctx, TableQRCodes, cutoff, func(tx *gorm.DB, r *TableResult) error {
		return archiveQRTable(tx, cutoff, st, r, &images)
	})
	if r.Err != nil || !e.deleteImages {
		return r
	}
	for _, path := range images {
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				log.Printf("archive: remove image %s: %v", path, err)
			}
			continue
		}
		r.ImagesRemoved++
	}
	return r
}

// archiveChunks runs the select-copy-delete loop for one live table. sel
// scopes the live rows to archive; it is re-applied per chunk since archived
// rows leave the live table.
func archiveChunks[L any, A any](
	tx *gorm.DB,
	sel func(*gorm.DB) *gorm.DB,
	id func(L) uint,
	coerce func(L, stamp) (A, error),
	st stamp,
	r *TableResult,
	each func([]L) error,
) error {
	var lastID uint
	for {
		var rows []L
		if err := sel(tx).Where("id > ?", lastID).Order("id ASC").Limit(chunkSize).Find(&rows).Error; err != nil {
			return fmt.Errorf("select: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		lastID = id(rows[len(rows)-1])

		if each != nil {
			if err := each(rows); err != nil {
				return err
			}
		}
		archived, skipped, err := copyRows(tx, rows, id, coerce, st)
		if err != nil {
			return err
		}
		ids := make([]uint, len(rows))
		for i, row := range rows {
			ids[i] = id(row)
		}
		var zero L
		result := tx.Where("id IN ?", ids).Delete(&zero)
		if result.Error != nil {
			return fmt.Errorf("delete: %w", result.Error)
		}
		r.Archived += archived
		r.Skipped += skipped
		r.Deleted += int(result.RowsAffected)
	}
}

// copyRows inserts the archive form of rows not yet in the archive and
// returns how many were copied and skipped.
func copyRows[L any, A any](tx *gorm.DB, rows []L, id func(L) uint, coerce func(L, stamp) (A, error), st stamp) (int, int, error) {
	ids := make([]uint, len(rows))
	for i, row := range rows {
		ids[i] = id(row)
	}
	var present []uint
	var zero A
	if err := tx.Model(&zero).Where("id IN ?", ids).Pluck("id", &present).Error; err != nil {
		return 0, 0, fmt.Errorf("check archive: %w", err)
	}
	already := make(map[uint]bool, len(present))
	for _, p := range present {
		already[p] = true
	}

	var out []A
	for _, row := range rows {
		if already[id(row)] {
			continue
		}
		a, err := coerce(row, st)
		if err != nil {
			return 0, 0, err
		}
		out = append(out, a)
	}
	if len(out) > 0 {
		if err := tx.CreateInBatches(&out, 100).Error; err != nil {
			return 0, 0, fmt.Errorf("insert archive: %w", err)
		}
	}
	return len(out), len(rows) - len(out), nil
}

func smsID(e models.SmsQueueEntry) uint      { return e.ID }
func qrID(q models.QRCode) uint              { return q.ID }
func printLogID(l models.CyclePrintLog) uint { return l.ID }
func cycleID(c models.Cycle) uint            { return c.ID }

// archiveSmsTable archives delivered and failed alerts. Pending entries are
// still owed a delivery attempt and stay live regardless of age.
func archiveSmsTable(tx *gorm.DB, cutoff time.Time, st stamp, r *TableResult) error {
	sel := func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.SmsQueueEntry{}).
			Where("status IN ? AND timestamp < ?", []string{models.SmsSent, models.SmsFailed}, cutoff)
	}
	return archiveChunks(tx, sel, smsID, archiveSms, st, r, nil)
}

func archiveQRTable(tx *gorm.DB, cutoff time.Time, st stamp, r *TableResult, images *[]string) error {
	sel := func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.QRCode{}).Where("created_at < ?", cutoff)
	}
	collect := func(rows []models.QRCode) error {
		for _, q := range rows {
			if q.Filename != nil && *q.Filename != "" {
				*images = append(*images, *q.Filename)
			}
		}
		return nil
	}
	return archiveChunks(tx, sel, qrID, archiveQRCode, st, r, collect)
}

// archivePrintLogTable archives log rows older than cutoff and every log row
// of a cycle due for archival.
func archivePrintLogTable(tx *gorm.DB, cutoff, cyclesCutoff time.Time, st stamp, r *TableResult) error {
	sel := func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.CyclePrintLog{}).
			Where("printed_at < ? OR cycle_id IN (?)", cutoff,
				tx.Session(&gorm.Session{NewDB: true}).Model(&models.Cycle{}).Select("id").Where("timestamp < ?", cyclesCutoff))
	}
	return archiveChunks(tx, sel, printLogID, archivePrintLog, st, r, nil)
}

// archiveCyclesTable archives cycles older than cutoff. Print log rows that
// appeared after the print log pass are archived first so the cascade does
// not drop them.
func archiveCyclesTable(tx *gorm.DB, cutoff time.Time, st stamp, r *TableResult) error {
	sel := func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.Cycle{}).Where("timestamp < ?", cutoff)
	}
	sweep := func(rows []models.Cycle) error {
		ids := make([]uint, len(rows))
		for i, c := range rows {
			ids[i] = c.ID
		}
		var logs []models.CyclePrintLog
		if err := tx.Where("cycle_id IN ?", ids).Order("id ASC").Find(&logs).Error; err != nil {
			return fmt.Errorf("select print logs: %w", err)
		}
		if len(logs) == 0 {
			return nil
		}
		archived, skipped, err := copyRows(tx, logs, printLogID, archivePrintLog, st)
		if err != nil {
			return err
		}
		logIDs := make([]uint, len(logs))
		for i, l := range logs {
			logIDs[i] = l.ID
		}
		if err := tx.Where("id IN ?", logIDs).Delete(&models.CyclePrintLog{}).Error; err != nil {
			return fmt.Errorf("delete print logs: %w", err)
		}
		r.Swept += archived
		r.Skipped += skipped
		return nil
	}
	return archiveChunks(tx, sel, cycleID, archiveCycle, st, r, sweep)
}
