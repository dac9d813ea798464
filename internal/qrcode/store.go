// Package qrcode issues traceability codes for PASS cycles and renders them
// to images.
package qrcode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/pneumaticqc/internal/db"
	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
	"gorm.io/gorm"
)

// DefaultPrefix is used when no prefix is configured.
const DefaultPrefix = "Part"

// DefaultMaxAttempts bounds the candidates tried by Issue.
const DefaultMaxAttempts = 5

// Store is the Traceability Code Store.
type Store struct {
	db           *gorm.DB
	prefix       string
	maxAttempts  int
	startCounter uint
}

// NewStore returns a Store issuing codes of the form <prefix>.<n>.
func NewStore(gdb *gorm.DB, prefix string, maxAttempts int) *Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Store{db: gdb, prefix: prefix, maxAttempts: maxAttempts}
}

// StartAt sets the lowest counter Issue hands out. Lower numbers are skipped
// even when no code has been issued yet.
func (s *Store) StartAt(n uint) *Store {
	s.startCounter = n
	return s
}

// Prefix returns the configured code prefix.
func (s *Store) Prefix() string { return s.prefix }

// Candidate formats the code for counter n.
func (s *Store) Candidate(n uint) string {
	return fmt.Sprintf("%s.%d", s.prefix, n)
}

// Issue reserves a new code inside tx and assigns it to c.QRCode. The counter
// continues from the highest of the persisted counter in system_state, the
// configured start and the ids in the live and archive tables, so codes of
// purged or reset cycles are never handed out again.
func (s *Store) Issue(tx *gorm.DB, c *models.Cycle) (*models.QRCode, error) {
	base, err := highestID(tx)
	if err != nil {
		return nil, fmt.Errorf("qrcode: issue: %w", err)
	}
	persisted, err := lastIssued(tx)
	if err != nil {
		return nil, fmt.Errorf("qrcode: issue: %w", err)
	}
	base = max(base, persisted)
	if s.startCounter > 0 {
		base = max(base, s.startCounter-1)
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		candidate := s.Candidate(base + 1 + uint(attempt))

		taken, err := exists(tx, candidate)
		if err != nil {
			return nil, fmt.Errorf("qrcode: issue %s: %w", candidate, err)
		}
		if taken {
			continue
		}

		code := models.QRCode{QRData: candidate, CreatedAt: time.Now()}
		if err := tx.Create(&code).Error; err != nil {
			if db.IsDuplicate(err) {
				// Another station took it between the check and the insert.
				continue
			}
			return nil, fmt.Errorf("qrcode: issue %s: %w", candidate, err)
		}
		if err := saveIssued(tx, base+1+uint(attempt)); err != nil {
			return nil, fmt.Errorf("qrcode: issue %s: %w", candidate, err)
		}
		if c != nil {
			c.QRCode = &code.QRData
		}
		return &code, nil
	}
	return nil, fmt.Errorf("qrcode: issue: %w",
		qcerr.Conflict("no free code after %d attempts from %s", s.maxAttempts, s.Candidate(base+1)))
}

func highestID(tx *gorm.DB) (uint, error) {
	var live, archived uint
	if err := tx.Model(&models.QRCode{}).Select("COALESCE(MAX(id), 0)").Scan(&live).Error; err != nil {
		return 0, err
	}
	if err := tx.Model(&models.QRCodeArchive{}).Select("COALESCE(MAX(id), 0)").Scan(&archived).Error; err != nil {
		return 0, err
	}
	if archived > live {
		return archived, nil
	}
	return live, nil
}

// lastIssued reads the persisted counter, locking the system_state row on
// MySQL so concurrent issuers queue behind each other.
func lastIssued(tx *gorm.DB) (uint, error) {
	var state models.SystemState
	err := db.ForUpdate(tx).Select("id", "qr_counter").First(&state, models.SystemStateID).Error
	if err != nil {
		if db.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return state.QRCounter, nil
}

func saveIssued(tx *gorm.DB, n uint) error {
	result := tx.Model(&models.SystemState{}).
		Where("id = ? AND qr_counter < ?", models.SystemStateID, n).
		Update("qr_counter", n)
	if result.Error != nil {
		return fmt.Errorf("save counter: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if err := db.SeedSystemState(tx); err != nil {
			return err
		}
		return tx.Model(&models.SystemState{}).
			Where("id = ? AND qr_counter < ?", models.SystemStateID, n).
			Update("qr_counter", n).Error
	}
	return nil
}

func exists(tx *gorm.DB, qrData string) (bool, error) {
	var n int64
	if err := tx.Model(&models.QRCode{}).Where("qr_data = ?", qrData).Count(&n).Error; err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if err := tx.Model(&models.QRCodeArchive{}).Where("qr_data = ?", qrData).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetFilename records where the rendered image of a code was written.
func (s *Store) SetFilename(ctx context.Context, qrData, filename string) error {
	if strings.TrimSpace(filename) == "" {
		return fmt.Errorf("qrcode: set filename of %s: %w", qrData, qcerr.Invalid("filename is required"))
	}
	result := s.db.WithContext(ctx).Model(&models.QRCode{}).
		Where("qr_data = ?", qrData).
		Update("filename", filename)
	if result.Error != nil {
		return fmt.Errorf("qrcode: set filename of %s: %w", qrData, result.Error)
	}
	if result.RowsAffected == 0 {
		ok, err := exists(s.db.WithContext(ctx), qrData)
		if err != nil {
			return fmt.Errorf("qrcode: set filename of %s: %w", qrData, err)
		}
		if !ok {
			return fmt.Errorf("qrcode: %w", qcerr.NotFound("code %s", qrData))
		}
	}
	return nil
}

// Record is a code read from either the live or the archive table.
type Record struct {
	ID        uint      `json:"id"`
	QRData    string    `json:"qr_data"`
	CreatedAt time.Time `json:"created_at"`
	Filename  string    `json:"filename,omitempty"`
	Archived  bool      `json:"archived"`
}

// Lookup finds a code, searching the live table before the archive.
func (s *Store) Lookup(ctx context.Context, qrData string) (*Record, error) {
	var live models.QRCode
	err := s.db.WithContext(ctx).Where("qr_data = ?", qrData).First(&live).Error
	if err == nil {
		rec := &Record{ID: live.ID, QRData: live.QRData, CreatedAt: live.CreatedAt}
		if live.Filename != nil {
			rec.Filename = *live.Filename
		}
		return rec, nil
	}
	if !db.IsNotFound(err) {
		return nil, fmt.Errorf("qrcode: lookup %s: %w", qrData, err)
	}

	var archived models.QRCodeArchive
	err = s.db.WithContext(ctx).Where("qr_data = ?", qrData).First(&archived).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("qrcode: %w", qcerr.NotFound("code %s", qrData))
		}
		return nil, fmt.Errorf("qrcode: lookup %s: %w", qrData, err)
	}
	return &Record{
		ID:        archived.ID,
		QRData:    archived.QRData,
		CreatedAt: archived.CreatedAt,
		Filename:  archived.Filename,
		Archived:  true,
	}, nil
}

// PendingRender returns live codes that have no image yet, oldest first.
func (s *Store) PendingRender(ctx context.Context, limit int) ([]models.QRCode, error) {
	q := s.db.WithContext(ctx).Where("filename IS NULL").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var codes []models.QRCode
	if err := q.Find(&codes).Error; err != nil {
		return nil, fmt.Errorf("qrcode: pending render: %w", err)
	}
	return codes, nil
}

// RenderPending renders images for codes still lacking one. It returns the
// number rendered; a failed code is logged in the returned error and the
// remaining codes are still attempted.
func (s *Store) RenderPending(ctx context.Context, r Renderer, limit int) (int, error) {
	codes, err := s.PendingRender(ctx, limit)
	if err != nil {
		return 0, err
	}

	var errs []error
	rendered := 0
	for _, code := range codes {
		req, err := s.requestFor(ctx, code)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		filename, err := r.Render(ctx, req)
		if err != nil {
			errs = append(errs, qcerr.Transport("render "+code.QRData, err))
			continue
		}
		if err := s.SetFilename(ctx, code.QRData, filename); err != nil {
			errs = append(errs, err)
			continue
		}
		rendered++
	}
	if len(errs) > 0 {
		return rendered, fmt.Errorf("qrcode: render pending: %w", errors.Join(errs...))
	}
	return rendered, nil
}

// requestFor builds a render request from the cycle carrying the code. A code
// with no live cycle is rendered with its id alone.
func (s *Store) requestFor(ctx context.Context, code models.QRCode) (RenderRequest, error) {
	req := RenderRequest{QRData: code.QRData, Timestamp: code.CreatedAt}
	var c models.Cycle
	err := s.db.WithContext(ctx).Where("qr_code = ?", code.QRData).First(&c).Error
	switch {
	case err == nil:
		return RequestFromCycle(c), nil
	case db.IsNotFound(err):
		return req, nil
	default:
		return req, fmt.Errorf("qrcode: cycle for %s: %w", code.QRData, err)
	}
}
