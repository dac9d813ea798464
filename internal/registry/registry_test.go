package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/zulandar/pneumaticqc/internal/db"
	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
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

func TestCreateModel(t *testing.T) {
	r := New(openTestDB(t))
	ctx := context.Background()

	m, err := r.CreateModel(ctx, " G507 ", "RHD", 7, 10)
	if err != nil {
		t.Fatalf("CreateModel: %v", err)
	}
	if m.ID == 0 {
		t.Error("expected ID to be set")
	}
	if m.Name != "G507" {
		t.Errorf("Name = %q, want trimmed G507", m.Name)
	}
}

func TestCreateModel_Validation(t *testing.T) {
	r := New(openTestDB(t))
	ctx := context.Background()

	if _, err := r.CreateModel(ctx, "", "RHD", 1, 2); !errors.Is(err, qcerr.ErrInvalidArgument) {
		t.Errorf("empty name: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := r.CreateModel(ctx, "G507", "RHD", 10, 7); !errors.Is(err, qcerr.ErrInvalidArgument) {
		t.Errorf("lower > upper: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := r.CreateModel(ctx, "Flat", "RHD", 5, 5); err != nil {
		t.Errorf("lower == upper should be accepted: %v", err)
	}
}

func TestCreateModel_DuplicateName(t *testing.T) {
	r := New(openTestDB(t))
	ctx := context.Background()

	if _, err := r.CreateModel(ctx, "G507", "RHD", 7, 10); err != nil {
		t.Fatal(err)
	}
	_, err := r.CreateModel(ctx, "G507", "LHD", 1, 2)
	if !errors.Is(err, qcerr.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestUpdateLimits_DoesNotTouchCycles(t *testing.T) {
	gdb := openTestDB(t)
	r := New(gdb)
	ctx := context.Background()

	m, _ := r.CreateModel(ctx, "G507", "RHD", 7, 10)
	c := models.Cycle{ModelID: &m.ID, ModelName: m.Name, ModelType: m.ModelType, PeakHeight: 9, PassFail: models.PassFailPass}
	gdb.Create(&c)

	updated, err := r.UpdateLimits(ctx, m.ID, 9.5, 12)
	if err != nil {
		t.Fatalf("UpdateLimits: %v", err)
	}
	if updated.LowerLimit != 9.5 || updated.UpperLimit != 12 {
		t.Errorf("limits = [%v,%v], want [9.5,12]", updated.LowerLimit, updated.UpperLimit)
	}

	var got models.Cycle
	gdb.First(&got, c.ID)
	if got.PassFail != models.PassFailPass {
		t.Errorf("historical verdict changed to %s", got.PassFail)
	}
}

func TestUpdateLimits_Errors(t *testing.T) {
	r := New(openTestDB(t))
	ctx := context.Background()

	if _, err := r.UpdateLimits(ctx, 42, 1, 2); !errors.Is(err, qcerr.ErrNotFound) {
		t.Errorf("unknown model: err = %v, want ErrNotFound", err)
	}
	m, _ := r.CreateModel(ctx, "G507", "RHD", 7, 10)
	if _, err := r.UpdateLimits(ctx, m.ID, 3, 2); !errors.Is(err, qcerr.ErrInvalidArgument) {
		t.Errorf("inverted limits: err = %v, want ErrInvalidArgument", err)
	}
}

func TestUpdateModel(t *testing.T) {
	r := New(openTestDB(t))
	ctx := context.Background()

	m, _ := r.CreateModel(ctx, "G507", "RHD", 7, 10)
	r.CreateModel(ctx, "G508", "LHD", 7, 10)

	got, err := r.UpdateModel(ctx, m.ID, "G507-B", "LHD", 6, 11)
	if err != nil {
		t.Fatalf("UpdateModel: %v", err)
	}
	if got.Name != "G507-B" || got.ModelType != "LHD" {
		t.Errorf("model = %+v", got)
	}

	if _, err := r.UpdateModel(ctx, m.ID, "G508", "LHD", 6, 11); !errors.Is(err, qcerr.ErrConflict) {
		t.Errorf("rename onto existing: err = %v, want ErrConflict", err)
	}
}

func TestListModels_OrderedByName(t *testing.T) {
	r := New(openTestDB(t))
	ctx := context.Background()

	r.CreateModel(ctx, "Zeta", "RHD", 1, 2)
	r.CreateModel(ctx, "Alpha", "LHD", 1, 2)

	ms, err := r.ListModels(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 2 || ms[0].Name != "Alpha" || ms[1].Name != "Zeta" {
		t.Errorf("ListModels = %+v", ms)
	}
}

func TestActiveModel_Lifecycle(t *testing.T) {
	r := New(openTestDB(t))
	ctx := context.Background()

	if _, err := r.GetActiveModel(ctx); !errors.Is(err, qcerr.ErrNoActiveModel) {
		t.Fatalf("fresh db: err = %v, want ErrNoActiveModel", err)
	}

	m, _ := r.CreateModel(ctx, "G507", "RHD", 7, 10)
	if _, err := r.SetActiveModel(ctx, m.ID); err != nil {
		t.Fatalf("SetActiveModel: %v", err)
	}

	active, err := r.GetActiveModel(ctx)
	if err != nil {
		t.Fatalf("GetActiveModel: %v", err)
	}
	if active.ID != m.ID || active.LowerLimit != 7 {
		t.Errorf("active = %+v", active)
	}

	if err := r.ClearActiveModel(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetActiveModel(ctx); !errors.Is(err, qcerr.ErrNoActiveModel) {
		t.Errorf("after clear: err = %v, want ErrNoActiveModel", err)
	}
}

func TestSetActiveModel_NotFound(t *testing.T) {
	r := New(openTestDB(t))
	_, err := r.SetActiveModel(context.Background(), 99)
	if !errors.Is(err, qcerr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetActiveModel_RecreatesMissingState(t *testing.T) {
	gdb := openTestDB(t)
	r := New(gdb)
	ctx := context.Background()

	gdb.Exec("DELETE FROM system_state")
	m, _ := r.CreateModel(ctx, "G507", "RHD", 7, 10)
	if _, err := r.SetActiveModel(ctx, m.ID); err != nil {
		t.Fatalf("SetActiveModel: %v", err)
	}
	if active, err := r.GetActiveModel(ctx); err != nil || active.ID != m.ID {
		t.Errorf("active = %v, err = %v", active, err)
	}
}

func TestDeleteModel(t *testing.T) {
	gdb := openTestDB(t)
	r := New(gdb)
	ctx := context.Background()

	m, _ := r.CreateModel(ctx, "G507", "RHD", 7, 10)
	r.AddPhone(ctx, m.ID, "Lead", "+911")
	r.AddPhone(ctx, m.ID, "QA", "+912")

	if err := r.DeleteModel(ctx, m.ID); err != nil {
		t.Fatalf("DeleteModel: %v", err)
	}
	var phones int64
	gdb.Model(&models.AlertPhone{}).Count(&phones)
	if phones != 0 {
		t.Errorf("phones after delete = %d, want 0 (cascade)", phones)
	}
	if err := r.DeleteModel(ctx, m.ID); !errors.Is(err, qcerr.ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteModel_Refused(t *testing.T) {
	gdb := openTestDB(t)
	r := New(gdb)
	ctx := context.Background()

	active, _ := r.CreateModel(ctx, "G507", "RHD", 7, 10)
	r.SetActiveModel(ctx, active.ID)
	if err := r.DeleteModel(ctx, active.ID); !errors.Is(err, qcerr.ErrConflict) {
		t.Errorf("active model: err = %v, want ErrConflict", err)
	}

	used, _ := r.CreateModel(ctx, "G508", "LHD", 7, 10)
	gdb.Create(&models.Cycle{ModelID: &used.ID, ModelName: used.Name, ModelType: used.ModelType, PeakHeight: 6, PassFail: models.PassFailFail})
	if err := r.DeleteModel(ctx, used.ID); !errors.Is(err, qcerr.ErrConflict) {
		t.Errorf("model with cycles: err = %v, want ErrConflict", err)
	}

	// Archived cycles carry no foreign key and do not block deletion.
	spare, _ := r.CreateModel(ctx, "G509", "LHD", 7, 10)
	gdb.Create(&models.CycleArchive{ID: 500, ModelID: spare.ID, ModelName: spare.Name, PassFail: "FAIL", PurgeBatchID: "b1"})
	if err := r.DeleteModel(ctx, spare.ID); err != nil {
		t.Errorf("model with only archived cycles: %v", err)
	}
	var archived models.CycleArchive
	if err := gdb.First(&archived, 500).Error; err != nil || archived.ModelID != spare.ID {
		t.Errorf("archived cycle changed: %+v, %v", archived, err)
	}
}

func TestPhones(t *testing.T) {
	r := New(openTestDB(t))
	ctx := context.Background()

	m, _ := r.CreateModel(ctx, "G507", "RHD", 7, 10)
	other, _ := r.CreateModel(ctx, "G508", "LHD", 7, 10)

	p, err := r.AddPhone(ctx, m.ID, "Lead", " +9100 ")
	if err != nil {
		t.Fatalf("AddPhone: %v", err)
	}
	if p.PhoneNumber != "+9100" {
		t.Errorf("PhoneNumber = %q, want trimmed", p.PhoneNumber)
	}
	r.AddPhone(ctx, other.ID, "Other", "+9200")

	phones, err := r.Phones(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(phones) != 1 || phones[0].Name != "Lead" {
		t.Errorf("Phones = %+v", phones)
	}

	if err := r.UpdatePhone(ctx, p.ID, "Supervisor", "+9101"); err != nil {
		t.Fatalf("UpdatePhone: %v", err)
	}
	phones, _ = r.Phones(ctx, m.ID)
	if phones[0].Name != "Supervisor" || phones[0].PhoneNumber != "+9101" {
		t.Errorf("after update = %+v", phones[0])
	}

	if err := r.DeletePhone(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if err := r.DeletePhone(ctx, p.ID); !errors.Is(err, qcerr.ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
	if err := r.UpdatePhone(ctx, p.ID, "x", "1"); !errors.Is(err, qcerr.ErrNotFound) {
		t.Errorf("update deleted phone: err = %v, want ErrNotFound", err)
	}
}

func TestUpdatePhone_LookupErrorIsNotNotFound(t *testing.T) {
	gdb := openTestDB(t)
	r := New(gdb)
	lost := errors.New("connection lost")
	err := gdb.Callback().Query().Before("gorm:query").Register("test:fail_query", func(tx *gorm.DB) {
		tx.AddError(lost)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = r.UpdatePhone(context.Background(), 999, "x", "+91")
	if !errors.Is(err, lost) {
		t.Errorf("err = %v, want the lookup failure", err)
	}
	if errors.Is(err, qcerr.ErrNotFound) {
		t.Errorf("err = %v reported as not found", err)
	}
}

func TestLimits_RoundedToStoredPrecision(t *testing.T) {
	r := New(openTestDB(t))
	ctx := context.Background()

	m, err := r.CreateModel(ctx, "G507", "RHD", 6.99951, 10.00049)
	if err != nil {
		t.Fatal(err)
	}
	if m.LowerLimit != 7 || m.UpperLimit != 10 {
		t.Errorf("limits = [%v, %v], want [7, 10]", m.LowerLimit, m.UpperLimit)
	}
	if _, err := r.UpdateLimits(ctx, m.ID, 8.0004, 8.0001); err != nil {
		t.Errorf("limits equal after rounding: err = %v, want nil", err)
	}
}

func TestAddPhone_Validation(t *testing.T) {
	r := New(openTestDB(t))
	ctx := context.Background()

	if _, err := r.AddPhone(ctx, 1, "x", "  "); !errors.Is(err, qcerr.ErrInvalidArgument) {
		t.Errorf("blank number: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := r.AddPhone(ctx, 77, "x", "+91"); !errors.Is(err, qcerr.ErrNotFound) {
		t.Errorf("unknown model: err = %v, want ErrNotFound", err)
	}
}
