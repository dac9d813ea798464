package registry

import (
	"context"
	"testing"

	"github.com/zulandar/pneumaticqc/internal/models"
)

func TestWatcher_NotifiesOnlyOnChange(t *testing.T) {
	gdb := openTestDB(t)
	r := New(gdb)
	ctx := context.Background()
	w := NewWatcher(gdb, 0)

	var seen []*models.ProductModel
	w.OnChange(func(m *models.ProductModel) { seen = append(seen, m) })

	// No active model: signature is empty and matches the initial state.
	if changed, err := w.Refresh(ctx); err != nil || changed {
		t.Fatalf("initial refresh: changed=%v err=%v", changed, err)
	}

	m, _ := r.CreateModel(ctx, "G507", "RHD", 7, 10)
	r.SetActiveModel(ctx, m.ID)

	if changed, _ := w.Refresh(ctx); !changed {
		t.Fatal("expected change after activation")
	}
	if changed, _ := w.Refresh(ctx); changed {
		t.Fatal("unexpected change without edits")
	}

	cur, ok := w.Current()
	if !ok || cur.ID != m.ID {
		t.Fatalf("Current = %+v, %v", cur, ok)
	}

	// Editing the active model's limits counts as a change.
	r.UpdateLimits(ctx, m.ID, 7.5, 10)
	if changed, _ := w.Refresh(ctx); !changed {
		t.Fatal("expected change after limit edit")
	}

	r.ClearActiveModel(ctx)
	w.Refresh(ctx)
	if _, ok := w.Current(); ok {
		t.Error("Current should report no active model after clear")
	}

	if len(seen) != 3 {
		t.Fatalf("listener calls = %d, want 3", len(seen))
	}
	if seen[1].LowerLimit != 7.5 {
		t.Errorf("second notification lower = %v, want 7.5", seen[1].LowerLimit)
	}
	if seen[2] != nil {
		t.Errorf("third notification = %+v, want nil", seen[2])
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	w := NewWatcher(openTestDB(t), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}
