// Package alert implements the SMS dispatch queue for FAIL cycles: enqueueing
// one entry per recipient, leasing entries to a single dispatcher at a time,
// and recording delivery outcomes.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/pneumaticqc/internal/db"
	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
	"gorm.io/gorm"
)

const (
	defaultMaxRetries  = 3
	defaultClaimLease  = 2 * time.Minute
	defaultSendTimeout = 30 * time.Second
	// claimCandidates is how many pending ids a claim looks at before giving up
	// on a busy queue.
	claimCandidates = 5
	maxErrorLen     = 255
)

// Options configure a Queue.
type Options struct {
	MaxRetries  int
	ClaimLease  time.Duration
	SendTimeout time.Duration
}

// Queue is the Alert Dispatch Queue backed by the sms_queue table.
type Queue struct {
	db          *gorm.DB
	maxRetries  int
	claimLease  time.Duration
	sendTimeout time.Duration
	now         func() time.Time
}

// NewQueue returns a Queue; zero options take their defaults.
func NewQueue(gdb *gorm.DB, opts Options) *Queue {
	q := &Queue{
		db:          gdb,
		maxRetries:  opts.MaxRetries,
		claimLease:  opts.ClaimLease,
		sendTimeout: opts.SendTimeout,
		now:         time.Now,
	}
	if q.maxRetries <= 0 {
		q.maxRetries = defaultMaxRetries
	}
	if q.claimLease <= 0 {
		q.claimLease = defaultClaimLease
	}
	if q.sendTimeout <= 0 {
		q.sendTimeout = defaultSendTimeout
	}
	return q
}

// MaxRetries returns the number of failed attempts after which an entry is
// marked failed.
func (q *Queue) MaxRetries() int { return q.maxRetries }

// Enqueue adds a pending entry.
func (q *Queue) Enqueue(ctx context.Context, phone, name, message string) (*models.SmsQueueEntry, error) {
	e, err := enqueue(q.db.WithContext(ctx), q.now(), phone, name, message)
	if err != nil {
		return nil, fmt.Errorf("alert: enqueue: %w", err)
	}
	return e, nil
}

func enqueue(tx *gorm.DB, ts time.Time, phone, name, message string) (*models.SmsQueueEntry, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, qcerr.Invalid("phone is required")
	}
	e := models.SmsQueueEntry{
		Timestamp: ts,
		Phone:     phone,
		Message:   message,
		Status:    models.SmsPending,
	}
	if name = strings.TrimSpace(name); name != "" {
		e.Name = &name
	}
	if err := tx.Create(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// FailureMessage formats the alert text for a failed cycle, e.g.
// "FAIL | G507 | 6.23mm (Range: 7.00–10.00) | 14:03:22".
func FailureMessage(c models.Cycle, m models.ProductModel) string {
	name := c.ModelName
	if name == "" {
		name = m.Name
	}
	if name == "" {
		name = "Unknown"
	}
	return fmt.Sprintf("FAIL | %s | %.2fmm (Range: %.2f–%.2f) | %s",
		name, c.PeakHeight, m.LowerLimit, m.UpperLimit, c.Timestamp.Format("15:04:05"))
}

// EnqueueFailure adds one pending entry per recipient inside tx. Recipients
// without a number are skipped.
func (q *Queue) EnqueueFailure(tx *gorm.DB, c models.Cycle, m models.ProductModel, phones []models.AlertPhone) ([]models.SmsQueueEntry, error) {
	msg := FailureMessage(c, m)
	var entries []models.SmsQueueEntry
	for _, p := range phones {
		if strings.TrimSpace(p.PhoneNumber) == "" {
			continue
		}
		e, err := enqueue(tx, c.Timestamp, p.PhoneNumber, p.Name, msg)
		if err != nil {
			return nil, fmt.Errorf("alert: enqueue failure alert for %s: %w", p.PhoneNumber, err)
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

// claimable restricts a query to pending entries nobody holds a live lease on.
func (q *Queue) claimable(tx *gorm.DB) *gorm.DB {
	expired := q.now().Add(-q.claimLease)
	return tx.Where("status = ?", models.SmsPending).
		Where("claim_token IS NULL OR claimed_at < ?", expired)
}

// Claim leases the next pending entry to the caller. Entries with fewer
// attempts go first so one bad number cannot starve the rest. It returns nil
// when nothing is claimable.
func (q *Queue) Claim(ctx context.Context) (*models.SmsQueueEntry, error) {
	gdb := q.db.WithContext(ctx)

	var ids []uint
	err := q.claimable(gdb.Model(&models.SmsQueueEntry{})).
		Order("retry_count ASC").Order("id ASC").
		Limit(claimCandidates).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("alert: claim: %w", err)
	}

	for _, id := range ids {
		token := uuid.NewString()
		now := q.now()
		result := q.claimable(gdb.Model(&models.SmsQueueEntry{})).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"claim_token": token,
				"claimed_at":  now,
			})
		if result.Error != nil {
			return nil, fmt.Errorf("alert: claim %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			// Lost the race for this one.
			continue
		}
		var e models.SmsQueueEntry
		if err := gdb.First(&e, id).Error; err != nil {
			return nil, fmt.Errorf("alert: claim %d: %w", id, err)
		}
		return &e, nil
	}
	return nil, nil
}

// Complete records the outcome of a claimed attempt. sendErr nil marks the
// entry sent; otherwise retry_count is incremented and the entry fails for
// good once it reaches the retry limit. It returns ErrConflict if the lease
// was lost to another dispatcher.
func (q *Queue) Complete(ctx context.Context, e *models.SmsQueueEntry, sendErr error) error {
	if e.ClaimToken == nil {
		return fmt.Errorf("alert: complete %d: %w", e.ID, qcerr.Invalid("entry is not claimed"))
	}

	updates := map[string]interface{}{
		"claim_token": nil,
		"claimed_at":  nil,
	}
	if sendErr == nil {
		updates["status"] = models.SmsSent
	} else {
		retries := e.RetryCount + 1
		status := models.SmsPending
		if retries >= q.maxRetries {
			status = models.SmsFailed
		}
		updates["status"] = status
		updates["retry_count"] = retries
		updates["last_error"] = truncate(sendErr.Error(), maxErrorLen)
	}

	result := q.db.WithContext(ctx).Model(&models.SmsQueueEntry{}).
		Where("id = ? AND claim_token = ?", e.ID, *e.ClaimToken).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("alert: complete %d: %w", e.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("alert: complete %d: %w", e.ID, qcerr.Conflict("lease expired"))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Attempt is the outcome of one DispatchNext call.
type Attempt struct {
	Entry models.SmsQueueEntry
	// Err is the transport failure, nil when the message was delivered.
	Err error
}

// Sent reports whether the attempt delivered the message.
func (a Attempt) Sent() bool { return a.Err == nil }

// DispatchNext claims one entry and sends it through t. It returns nil when
// the queue has nothing to send. A transport failure is reported in
// Attempt.Err and recorded on the entry; the returned error is reserved for
// queue bookkeeping failures.
func (q *Queue) DispatchNext(ctx context.Context, t Transport) (*Attempt, error) {
	e, err := q.Claim(ctx)
	if err != nil || e == nil {
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, q.sendTimeout)
	sendErr := t.Send(sendCtx, e.Phone, e.Message)
	if sendErr == nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
		sendErr = sendCtx.Err()
	}
	cancel()
	if sendErr != nil {
		sendErr = qcerr.Transport("send sms", sendErr)
	}

	// The outcome is recorded even when ctx was cancelled mid-send, so the
	// entry is not stuck behind its lease.
	if err := q.Complete(context.WithoutCancel(ctx), e, sendErr); err != nil {
		return nil, err
	}

	var updated models.SmsQueueEntry
	if err := q.db.WithContext(context.WithoutCancel(ctx)).First(&updated, e.ID).Error; err != nil {
		return nil, fmt.Errorf("alert: reload %d: %w", e.ID, err)
	}
	return &Attempt{Entry: updated, Err: sendErr}, nil
}

// Requeue moves a failed entry back to pending with its retry count reset.
func (q *Queue) Requeue(ctx context.Context, id uint) error {
	result := q.db.WithContext(ctx).Model(&models.SmsQueueEntry{}).
		Where("id = ? AND status = ?", id, models.SmsFailed).
		Updates(map[string]interface{}{
			"status":      models.SmsPending,
			"retry_count": 0,
			"claim_token": nil,
			"claimed_at":  nil,
		})
	if result.Error != nil {
		return fmt.Errorf("alert: requeue %d: %w", id, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var e models.SmsQueueEntry
	if err := q.db.WithContext(ctx).First(&e, id).Error; err != nil {
		if db.IsNotFound(err) {
			return fmt.Errorf("alert: %w", qcerr.NotFound("sms entry %d", id))
		}
		return fmt.Errorf("alert: requeue %d: %w", id, err)
	}
	return fmt.Errorf("alert: requeue %d: %w", id, qcerr.Conflict("entry is %s, not failed", e.Status))
}

// RequeueFailedSince requeues every failed entry created at or after since
// and returns how many were moved.
func (q *Queue) RequeueFailedSince(ctx context.Context, since time.Time) (int64, error) {
	result := q.db.WithContext(ctx).Model(&models.SmsQueueEntry{}).
		Where("status = ? AND timestamp >= ?", models.SmsFailed, since).
		Updates(map[string]interface{}{
			"status":      models.SmsPending,
			"retry_count": 0,
			"claim_token": nil,
			"claimed_at":  nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("alert: requeue failed since %s: %w", since.Format(time.RFC3339), result.Error)
	}
	return result.RowsAffected, nil
}

// Stats returns the number of entries per status.
func (q *Queue) Stats(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := q.db.WithContext(ctx).Model(&models.SmsQueueEntry{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("alert: stats: %w", err)
	}
	stats := map[string]int64{
		models.SmsPending: 0,
		models.SmsSent:    0,
		models.SmsFailed:  0,
	}
	for _, r := range rows {
		stats[r.Status] = r.Count
	}
	return stats, nil
}

// List returns entries newest first, optionally filtered by status.
func (q *Queue) List(ctx context.Context, status string, limit int) ([]models.SmsQueueEntry, error) {
	query := q.db.WithContext(ctx).Order("id DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var entries []models.SmsQueueEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("alert: list: %w", err)
	}
	return entries, nil
}
