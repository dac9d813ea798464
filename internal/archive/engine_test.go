package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zulandar/pneumaticqc/internal/db"
	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
	"github.com/zulandar/pneumaticqc/internal/registry"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "qc.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gdb
}

func strPtr(s string) *string { return &s }

type seed struct {
	db    *gorm.DB
	model models.ProductModel
	old   time.Time
	fresh time.Time
}

func newSeed(t *testing.T) *seed {
	t.Helper()
	gdb := openTestDB(t)
	m := models.ProductModel{Name: "G507", ModelType: "RHD", LowerLimit: 7, UpperLimit: 10}
	if err := gdb.Create(&m).Error; err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	return &seed{db: gdb, model: m, old: now.Add(-48 * time.Hour), fresh: now.Add(-time.Minute)}
}

func (s *seed) cycle(t *testing.T, ts time.Time, peak float64, qr *string) models.Cycle {
	t.Helper()
	id := s.model.ID
	c := models.Cycle{
		Timestamp:  ts,
		ModelID:    &id,
		ModelName:  s.model.Name,
		ModelType:  s.model.ModelType,
		PeakHeight: peak,
		PassFail:   s.model.Judge(peak),
		QRCode:     qr,
	}
	if err := s.db.Create(&c).Error; err != nil {
		t.Fatal(err)
	}
	return c
}

func (s *seed) code(t *testing.T, data string, created time.Time, filename *string) models.QRCode {
	t.Helper()
	q := models.QRCode{QRData: data, CreatedAt: created, Filename: filename}
	if err := s.db.Create(&q).Error; err != nil {
		t.Fatal(err)
	}
	return q
}

func (s *seed) sms(t *testing.T, ts time.Time, status string) models.SmsQueueEntry {
	t.Helper()
	e := models.SmsQueueEntry{Timestamp: ts, Phone: "+9100", Message: "FAIL", Status: status}
	if err := s.db.Create(&e).Error; err != nil {
		t.Fatal(err)
	}
	return e
}

func (s *seed) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := s.db.Model(model).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

// populate creates one old and one fresh row per table plus an old pending
// alert.
func (s *seed) populate(t *testing.T) {
	t.Helper()
	oldCode := s.code(t, "Part.1", s.old, strPtr("qr_images/Part.1.png"))
	s.code(t, "Part.2", s.fresh, strPtr("qr_images/Part.2.png"))

	oldPass := s.cycle(t, s.old, 9, &oldCode.QRData)
	s.cycle(t, s.old, 6.23, nil)
	s.cycle(t, s.fresh, 9, strPtr("Part.2"))

	s.db.Create(&models.CyclePrintLog{CycleID: oldPass.ID, PrintType: models.PrintTypeAuto, PrintedAt: s.old})

	s.sms(t, s.old, models.SmsSent)
	s.sms(t, s.old, models.SmsFailed)
	s.sms(t, s.old, models.SmsPending)
	s.sms(t, s.fresh, models.SmsSent)
}

func TestArchiveOlderThan_MovesOldRows(t *testing.T) {
	s := newSeed(t)
	s.populate(t)
	e := NewEngine(s.db, Options{})

	report, err := e.ArchiveOlderThan(context.Background(), time.Now().Add(-24*time.Hour), "20260101000000")
	if err != nil {
		t.Fatalf("ArchiveOlderThan: %v", err)
	}

	checks := []struct {
		name string
		live interface{}
		arch interface{}
		wantLive, wantArch int64
	}{
		{"cycles", &models.Cycle{}, &models.CycleArchive{}, 1, 2},
		{"qr_codes", &models.QRCode{}, &models.QRCodeArchive{}, 1, 1},
		{"cycle_print_log", &models.CyclePrintLog{}, &models.CyclePrintLogArchive{}, 0, 1},
		{"sms_queue", &models.SmsQueueEntry{}, &models.SmsQueueArchive{}, 2, 2},
	}
	for _, c := range checks {
		if got := s.count(t, c.live); got != c.wantLive {
			t.Errorf("%s live = %d, want %d", c.name, got, c.wantLive)
		}
		if got := s.count(t, c.arch); got != c.wantArch {
			t.Errorf("%s archive = %d, want %d", c.name, got, c.wantArch)
		}
	}

	var pending int64
	s.db.Model(&models.SmsQueueEntry{}).Where("status = ?", models.SmsPending).Count(&pending)
	if pending != 1 {
		t.Errorf("pending alerts = %d, want 1 (never archived)", pending)
	}

	if report.Archived() != 6 {
		t.Errorf("report archived = %d, want 6", report.Archived())
	}

	var archived []models.CycleArchive
	s.db.Order("id ASC").Find(&archived)
	for _, a := range archived {
		if a.PurgeBatchID != "20260101000000" || a.ArchivedAt.IsZero() {
			t.Errorf("archive row %d stamp = %q %v", a.ID, a.PurgeBatchID, a.ArchivedAt)
		}
	}
	if archived[1].PassFail != models.PassFailFail || archived[1].QRCode != "" {
		t.Errorf("FAIL cycle archived as %+v", archived[1])
	}

	runs, _ := Runs(context.Background(), s.db, 0)
	if len(runs) != 1 || runs[0].Status != models.PurgeCompleted || runs[0].RowsArchived != 6 {
		t.Errorf("runs = %+v", runs)
	}
}

func TestArchiveOlderThan_Idempotent(t *testing.T) {
	s := newSeed(t)
	s.populate(t)
	e := NewEngine(s.db, Options{})
	ctx := context.Background()
	cutoff := time.Now().Add(-24 * time.Hour)

	if _, err := e.ArchiveOlderThan(ctx, cutoff, "b1"); err != nil {
		t.Fatal(err)
	}
	before := []int64{s.count(t, &models.Cycle{}), s.count(t, &models.CycleArchive{}), s.count(t, &models.SmsQueueArchive{})}

	report, err := e.ArchiveOlderThan(ctx, cutoff, "b1")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	after := []int64{s.count(t, &models.Cycle{}), s.count(t, &models.CycleArchive{}), s.count(t, &models.SmsQueueArchive{})}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("counts changed on rerun: %v -> %v", before, after)
			break
		}
	}
	if report.Archived() != 0 {
		t.Errorf("rerun archived %d rows", report.Archived())
	}
}

func TestArchiveOlderThan_NoRowInBothTables(t *testing.T) {
	s := newSeed(t)
	s.populate(t)
	c := s.cycle(t, s.old, 8, strPtr("Part.9"))

	// A previous attempt copied this cycle but never removed it from live.
	s.db.Create(&models.CycleArchive{ID: c.ID, ModelName: "earlier copy", PassFail: "PASS", QRCode: "Part.9", PurgeBatchID: "b0"})

	e := NewEngine(s.db, Options{})
	report, err := e.ArchiveOlderThan(context.Background(), time.Now().Add(-24*time.Hour), "b1")
	if err != nil {
		t.Fatal(err)
	}

	var live int64
	s.db.Model(&models.Cycle{}).Where("id = ?", c.ID).Count(&live)
	if live != 0 {
		t.Error("cycle still live after batch")
	}
	var copies []models.CycleArchive
	s.db.Where("id = ?", c.ID).Find(&copies)
	if len(copies) != 1 || copies[0].ModelName != "earlier copy" {
		t.Errorf("archive copies = %+v, want the single earlier copy", copies)
	}

	for _, tr := range report.Tables {
		if tr.Table == TableCycles && tr.Skipped != 1 {
			t.Errorf("cycles skipped = %d, want 1", tr.Skipped)
		}
	}

	var overlap int64
	s.db.Model(&models.Cycle{}).Where("id IN (?)", s.db.Model(&models.CycleArchive{}).Select("id")).Count(&overlap)
	if overlap != 0 {
		t.Errorf("%d cycle(s) in both live and archive", overlap)
	}
}

func TestArchiveOlderThan_IntegrityFailureAbortsOnlyThatTable(t *testing.T) {
	s := newSeed(t)
	s.code(t, "Part.1", s.old, nil) // never rendered
	s.cycle(t, s.old, 9, strPtr("Part.1"))
	s.sms(t, s.old, models.SmsSent)

	e := NewEngine(s.db, Options{})
	report, err := e.ArchiveOlderThan(context.Background(), time.Now().Add(-24*time.Hour), "b1")
	if !errors.Is(err, qcerr.ErrDataIntegrity) {
		t.Fatalf("err = %v, want ErrDataIntegrity", err)
	}
	if report == nil {
		t.Fatal("report should be returned with table failures")
	}

	if n := s.count(t, &models.QRCode{}); n != 1 {
		t.Errorf("live qr codes = %d, want 1 (rolled back)", n)
	}
	if n := s.count(t, &models.QRCodeArchive{}); n != 0 {
		t.Errorf("archived qr codes = %d, want 0", n)
	}
	if n := s.count(t, &models.CycleArchive{}); n != 1 {
		t.Errorf("archived cycles = %d, want 1", n)
	}
	if n := s.count(t, &models.SmsQueueArchive{}); n != 1 {
		t.Errorf("archived sms = %d, want 1", n)
	}

	runs, _ := Runs(context.Background(), s.db, 1)
	if runs[0].Status != models.PurgeFailed || runs[0].Error == "" {
		t.Errorf("run = %+v, want failed with error", runs[0])
	}

	// After the image is rendered the same batch can be retried.
	s.db.Model(&models.QRCode{}).Where("qr_data = ?", "Part.1").Update("filename", "qr_images/Part.1.png")
	if _, err := e.ArchiveOlderThan(context.Background(), time.Now().Add(-24*time.Hour), "b1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n := s.count(t, &models.QRCodeArchive{}); n != 1 {
		t.Errorf("archived qr codes after retry = %d, want 1", n)
	}
}

func TestArchiveOlderThan_CoercionRules(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, s *seed)
		table string
	}{
		{"PASS cycle without code", func(t *testing.T, s *seed) {
			s.cycle(t, s.old, 9, nil)
		}, TableCycles},
		{"cycle without model name", func(t *testing.T, s *seed) {
			s.db.Create(&models.Cycle{Timestamp: s.old, PeakHeight: 3, PassFail: models.PassFailFail})
		}, TableCycles},
		{"reprint without reason", func(t *testing.T, s *seed) {
			c := s.cycle(t, s.fresh, 9, strPtr("Part.1"))
			s.db.Create(&models.CyclePrintLog{CycleID: c.ID, PrintType: models.PrintTypeReprint, PrintedAt: s.old})
		}, TablePrintLog},
		{"alert without phone", func(t *testing.T, s *seed) {
			s.db.Create(&models.SmsQueueEntry{Timestamp: s.old, Phone: "", Message: "x", Status: models.SmsSent})
		}, TableSms},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSeed(t)
			tt.setup(t, s)
			report, err := NewEngine(s.db, Options{}).ArchiveOlderThan(context.Background(), time.Now().Add(-24*time.Hour), "b1")
			if !errors.Is(err, qcerr.ErrDataIntegrity) {
				t.Fatalf("err = %v, want ErrDataIntegrity", err)
			}
			for _, tr := range report.Tables {
				if (tr.Err != nil) != (tr.Table == tt.table) {
					t.Errorf("table %s err = %v", tr.Table, tr.Err)
				}
			}
		})
	}
}

func TestArchiveOlderThan_NullableColumnsCoerced(t *testing.T) {
	s := newSeed(t)
	s.db.Create(&models.Cycle{Timestamp: s.old, ModelName: "Legacy", ModelType: "RHD", PeakHeight: 3, PassFail: models.PassFailFail})
	e := s.sms(t, s.old, models.SmsFailed)

	if _, err := NewEngine(s.db, Options{}).ArchiveOlderThan(context.Background(), time.Now().Add(-24*time.Hour), "b1"); err != nil {
		t.Fatal(err)
	}

	var c models.CycleArchive
	s.db.First(&c)
	if c.ModelID != 0 || c.QRCode != "" {
		t.Errorf("cycle archive = %+v, want model_id 0 and empty code", c)
	}
	var a models.SmsQueueArchive
	s.db.First(&a, e.ID)
	if a.Name != "" || a.LastError != "" || a.Status != models.SmsFailed {
		t.Errorf("sms archive = %+v", a)
	}
}

func TestArchiveCyclesTable_SweepsLatePrintLogs(t *testing.T) {
	s := newSeed(t)
	c := s.cycle(t, s.old, 9, strPtr("Part.1"))
	reason := "smudged"
	s.db.Create(&models.CyclePrintLog{CycleID: c.ID, PrintType: models.PrintTypeReprint, PrintedAt: time.Now(), Reason: &reason})

	var r TableResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		return archiveCyclesTable(tx, time.Now().Add(-24*time.Hour), stamp{at: time.Now(), batch: "b1"}, &r)
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Archived != 1 || r.Swept != 1 {
		t.Errorf("result = %+v, want 1 cycle and 1 swept log", r)
	}
	var l models.CyclePrintLogArchive
	if err := s.db.First(&l).Error; err != nil || l.Reason != "smudged" {
		t.Errorf("swept log = %+v, %v", l, err)
	}
}

func TestRun_ConflictWhileActive(t *testing.T) {
	s := newSeed(t)
	e := NewEngine(s.db, Options{StaleRunTimeout: time.Hour})
	ctx := context.Background()

	s.db.Create(&models.PurgeRun{BatchID: "other", Status: models.PurgeRunning, Cutoff: s.old, StartedAt: time.Now().Add(-time.Minute)})
	report, err := e.ArchiveOlderThan(ctx, time.Now(), "mine")
	if !errors.Is(err, qcerr.ErrConflict) || report != nil {
		t.Fatalf("report=%v err=%v, want ErrConflict", report, err)
	}

	// A run that stopped making progress is taken over.
	s.db.Model(&models.PurgeRun{}).Where("batch_id = ?", "other").Update("started_at", time.Now().Add(-2*time.Hour))
	if _, err := e.ArchiveOlderThan(ctx, time.Now(), "mine"); err != nil {
		t.Fatalf("after stale: %v", err)
	}
	var other models.PurgeRun
	s.db.First(&other, "batch_id = ?", "other")
	if other.Status != models.PurgeFailed {
		t.Errorf("stale run status = %s, want failed", other.Status)
	}
}

func TestRun_InProcessSerialised(t *testing.T) {
	s := newSeed(t)
	e := NewEngine(s.db, Options{})
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.ArchiveOlderThan(context.Background(), time.Now(), "b1"); !errors.Is(err, qcerr.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	if _, err := e.Run(context.Background(), Uniform(time.Now()), ""); !errors.Is(err, qcerr.ErrInvalidArgument) {
		t.Errorf("empty batch: err = %v, want ErrInvalidArgument", err)
	}
}

func TestArchive_ModelDeletionLeavesArchive(t *testing.T) {
	s := newSeed(t)
	s.cycle(t, s.old, 6, nil)
	if _, err := NewEngine(s.db, Options{}).ArchiveOlderThan(context.Background(), time.Now().Add(-24*time.Hour), "b1"); err != nil {
		t.Fatal(err)
	}

	if err := registry.New(s.db).DeleteModel(context.Background(), s.model.ID); err != nil {
		t.Fatalf("DeleteModel: %v", err)
	}
	var a models.CycleArchive
	if err := s.db.First(&a).Error; err != nil {
		t.Fatal(err)
	}
	if a.ModelID != s.model.ID || a.ModelName != "G507" {
		t.Errorf("archived cycle = %+v", a)
	}
}

func TestArchive_DeleteImages(t *testing.T) {
	s := newSeed(t)
	img := filepath.Join(t.TempDir(), "Part.1.png")
	os.WriteFile(img, []byte("png"), 0o644)
	s.code(t, "Part.1", s.old, &img)
	s.code(t, "Part.0", s.old, strPtr(filepath.Join(t.TempDir(), "gone.png")))

	report, err := NewEngine(s.db, Options{DeleteImages: true}).ArchiveOlderThan(context.Background(), time.Now().Add(-24*time.Hour), "b1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(img); !os.IsNotExist(err) {
		t.Errorf("image still present: %v", err)
	}
	for _, tr := range report.Tables {
		if tr.Table == TableQRCodes && tr.ImagesRemoved != 1 {
			t.Errorf("images removed = %d, want 1", tr.ImagesRemoved)
		}
	}
}
