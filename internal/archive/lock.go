package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/pneumaticqc/internal/db"
	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
	"gorm.io/gorm"
)

// DefaultStaleRunTimeout is how long a running purge_runs row may go
// unfinished before another run may take over.
const DefaultStaleRunTimeout = time.Hour

// acquireRun marks batchID as the running archival batch. Runs left running
// longer than staleAfter are marked failed first. Re-running a finished or
// failed batch id reuses its row.
func acquireRun(ctx context.Context, gdb *gorm.DB, batchID string, cutoff time.Time, staleAfter time.Duration) error {
	err := gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		if err := tx.Model(&models.PurgeRun{}).
			Where("status = ? AND started_at < ?", models.PurgeRunning, now.Add(-staleAfter)).
			Updates(map[string]interface{}{
				"status":      models.PurgeFailed,
				"finished_at": now,
				"error":       "abandoned: no progress within stale timeout",
			}).Error; err != nil {
			return fmt.Errorf("expire stale runs: %w", err)
		}

		var active models.PurgeRun
		err := db.ForUpdate(tx).Where("status = ?", models.PurgeRunning).First(&active).Error
		if err == nil {
			return qcerr.Conflict("archival batch %s running since %s", active.BatchID, active.StartedAt.Format(time.RFC3339))
		}
		if !db.IsNotFound(err) {
			return fmt.Errorf("check running batch: %w", err)
		}

		run := models.PurgeRun{
			BatchID:   batchID,
			Status:    models.PurgeRunning,
			Cutoff:    cutoff,
			StartedAt: now,
		}
		result := tx.Model(&models.PurgeRun{}).Where("batch_id = ?", batchID).
			Updates(map[string]interface{}{
				"status":        run.Status,
				"cutoff":        run.Cutoff,
				"started_at":    run.StartedAt,
				"finished_at":   nil,
				"rows_archived": 0,
				"error":         "",
			})
		if result.Error != nil {
			return fmt.Errorf("restart batch: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			return nil
		}
		if err := tx.Create(&run).Error; err != nil {
			if db.IsDuplicate(err) {
				return qcerr.Conflict("archival batch %s started concurrently", batchID)
			}
			return fmt.Errorf("create run: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive: acquire run %s: %w", batchID, err)
	}
	return nil
}

// finishRun records the outcome of batchID.
func finishRun(ctx context.Context, gdb *gorm.DB, batchID string, rows int, runErr error) error {
	status := models.PurgeCompleted
	msg := ""
	if runErr != nil {
		status = models.PurgeFailed
		msg = runErr.Error()
	}
	err := gdb.WithContext(ctx).Model(&models.PurgeRun{}).
		Where("batch_id = ?", batchID).
		Updates(map[string]interface{}{
			"status":        status,
			"finished_at":   time.Now(),
			"rows_archived": rows,
			"error":         msg,
		}).Error
	if err != nil {
		return fmt.Errorf("archive: finish run %s: %w", batchID, err)
	}
	return nil
}

// Runs returns the most recent archival runs, newest first.
func Runs(ctx context.Context, gdb *gorm.DB, limit int) ([]models.PurgeRun, error) {
	q := gdb.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []models.PurgeRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("archive: list runs: %w", err)
	}
	return runs, nil
}
