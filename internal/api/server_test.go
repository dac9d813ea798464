package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/pneumaticqc/internal/alert"
	"github.com/zulandar/pneumaticqc/internal/db"
	"github.com/zulandar/pneumaticqc/internal/label"
	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
	"github.com/zulandar/pneumaticqc/internal/qrcode"
	"github.com/zulandar/pneumaticqc/internal/recorder"
	"github.com/zulandar/pneumaticqc/internal/registry"
	"gorm.io/gorm"
)

type fakeRenderer struct{}

func (fakeRenderer) Render(_ context.Context, req qrcode.RenderRequest) (string, error) {
	return "qr_images/" + req.QRData + ".png", nil
}

type fakePrinter struct{ labels []label.Label }

func (f *fakePrinter) Print(_ context.Context, l label.Label) error {
	f.labels = append(f.labels, l)
	return nil
}

type testEnv struct {
	db      *gorm.DB
	deps    Deps
	router  *gin.Engine
	model   *models.ProductModel
	printer *fakePrinter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "qc.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	ctx := context.Background()
	reg := registry.New(gdb)
	m, err := reg.CreateModel(ctx, "G507", "RHD", 7, 10)
	if err != nil {
		t.Fatal(err)
	}
	reg.AddPhone(ctx, m.ID, "Line lead", "+919800000001")
	if _, err := reg.SetActiveModel(ctx, m.ID); err != nil {
		t.Fatal(err)
	}

	codes := qrcode.NewStore(gdb, "", 0)
	alerts := alert.NewQueue(gdb, alert.Options{})
	printer := &fakePrinter{}
	deps := Deps{
		DB:        gdb,
		Registry:  reg,
		Recorder:  recorder.New(gdb, codes, alerts, fakeRenderer{}, printer, recorder.Options{PrintedBy: "station-1"}),
		Codes:     codes,
		Alerts:    alerts,
		PrintedBy: "api",
	}
	router, err := NewRouter(deps)
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{db: gdb, deps: deps, router: router, model: m, printer: printer}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, out
}

func (e *testEnv) record(t *testing.T, peak float64) *models.Cycle {
	t.Helper()
	c, err := e.deps.Recorder.RecordCycle(context.Background(), peak, time.Now())
	if err != nil {
		t.Fatalf("RecordCycle(%v): %v", peak, err)
	}
	return c
}

func TestNewRouter_RequiresDeps(t *testing.T) {
	if _, err := NewRouter(Deps{}); err == nil || !strings.Contains(err.Error(), "db is required") {
		t.Errorf("err = %v, want db is required", err)
	}
}

func TestStart_InvalidDeps(t *testing.T) {
	if err := Start(context.Background(), StartOpts{}); err == nil {
		t.Fatal("expected error for missing deps")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{qcerr.NotFound("cycle 1"), http.StatusNotFound},
		{qcerr.Invalid("reason"), http.StatusBadRequest},
		{qcerr.Conflict("dup"), http.StatusConflict},
		{qcerr.ErrNoActiveModel, http.StatusPreconditionFailed},
		{qcerr.Transport("print", context.DeadlineExceeded), http.StatusBadGateway},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	code, body := e.do(t, http.MethodGet, "/healthz", "")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %v", code, body)
	}
}

func TestModelsAndActiveModel(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.do(t, http.MethodGet, "/api/models", "")
	if code != http.StatusOK {
		t.Fatalf("models = %d", code)
	}
	list := body["models"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["name"] != "G507" {
		t.Errorf("models = %v", list)
	}

	code, body = e.do(t, http.MethodGet, "/api/active-model", "")
	if code != http.StatusOK || body["model"].(map[string]any)["upper_limit"] != 10.0 {
		t.Errorf("active model = %d %v", code, body)
	}

	code, _ = e.do(t, http.MethodPut, "/api/active-model", `{"model_id": 99}`)
	if code != http.StatusNotFound {
		t.Errorf("activate unknown model = %d, want 404", code)
	}

	code, body = e.do(t, http.MethodPut, "/api/active-model", `{"model_id": 0}`)
	if code != http.StatusOK || body["model"] != nil {
		t.Errorf("clear = %d %v", code, body)
	}
	code, body = e.do(t, http.MethodGet, "/api/active-model", "")
	if code != http.StatusOK || body["model"] != nil {
		t.Errorf("active model after clear = %d %v", code, body)
	}

	code, _ = e.do(t, http.MethodPut, "/api/active-model", `not json`)
	if code != http.StatusBadRequest {
		t.Errorf("bad body = %d, want 400", code)
	}
}

func TestRecordCycle(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.do(t, http.MethodPost, "/api/cycles", `{"peak_height": 9.0}`)
	if code != http.StatusCreated {
		t.Fatalf("record = %d %v", code, body)
	}
	cycle := body["cycle"].(map[string]any)
	if cycle["pass_fail"] != "PASS" || cycle["qr_code"] != "Part.1" || cycle["printed"] != true {
		t.Errorf("cycle = %v", cycle)
	}

	code, body = e.do(t, http.MethodPost, "/api/cycles", `{"peak_height": 6.23}`)
	if code != http.StatusCreated || body["cycle"].(map[string]any)["pass_fail"] != "FAIL" {
		t.Errorf("fail record = %d %v", code, body)
	}

	code, _ = e.do(t, http.MethodPost, "/api/cycles", `{}`)
	if code != http.StatusBadRequest {
		t.Errorf("missing peak = %d, want 400", code)
	}

	e.deps.Registry.ClearActiveModel(context.Background())
	code, _ = e.do(t, http.MethodPost, "/api/cycles", `{"peak_height": 9.0}`)
	if code != http.StatusPreconditionFailed {
		t.Errorf("no active model = %d, want 412", code)
	}
}

func TestCycleQueries(t *testing.T) {
	e := newTestEnv(t)
	pass := e.record(t, 9)
	e.record(t, 11)
	e.db.Model(&models.Cycle{}).Where("id = ?", pass.ID).Update("printed", false)

	code, body := e.do(t, http.MethodGet, "/api/cycles?limit=1", "")
	if code != http.StatusOK {
		t.Fatalf("cycles = %d", code)
	}
	cycles := body["cycles"].([]any)
	if len(cycles) != 1 || cycles[0].(map[string]any)["pass_fail"] != "FAIL" {
		t.Errorf("recent = %v", cycles)
	}

	code, body = e.do(t, http.MethodGet, "/api/cycles/pending-print", "")
	pending := body["cycles"].([]any)
	if code != http.StatusOK || len(pending) != 1 || pending[0].(map[string]any)["qr_code"] != "Part.1" {
		t.Errorf("pending-print = %d %v", code, body)
	}

	if code, _ := e.do(t, http.MethodGet, "/api/cycles?limit=0", ""); code != http.StatusBadRequest {
		t.Errorf("limit=0 = %d, want 400", code)
	}
	if code, _ := e.do(t, http.MethodGet, "/api/cycles/abc", ""); code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", code)
	}
	if code, _ := e.do(t, http.MethodGet, "/api/cycles/999", ""); code != http.StatusNotFound {
		t.Errorf("missing cycle = %d, want 404", code)
	}
}

func TestReprintAndHistory(t *testing.T) {
	e := newTestEnv(t)
	c := e.record(t, 9)
	path := "/api/cycles/" + itoa(c.ID)

	code, body := e.do(t, http.MethodPost, path+"/reprint", `{"reason": "label torn"}`)
	if code != http.StatusCreated {
		t.Fatalf("reprint = %d %v", code, body)
	}
	p := body["print"].(map[string]any)
	if p["print_type"] != "REPRINT" || p["printed_by"] != "api" || p["reason"] != "label torn" {
		t.Errorf("print = %v", p)
	}
	if len(e.printer.labels) != 2 {
		t.Errorf("labels printed = %d, want 2", len(e.printer.labels))
	}

	code, _ = e.do(t, http.MethodPost, path+"/reprint", `{"print_type": "MANUAL", "reason": "hand applied", "record_only": true}`)
	if code != http.StatusCreated {
		t.Errorf("record-only manual = %d", code)
	}
	if len(e.printer.labels) != 2 {
		t.Errorf("record-only print reached the printer")
	}

	code, _ = e.do(t, http.MethodPost, path+"/reprint", `{}`)
	if code != http.StatusBadRequest {
		t.Errorf("reprint without reason = %d, want 400", code)
	}

	code, body = e.do(t, http.MethodGet, path+"/prints", "")
	prints := body["prints"].([]any)
	if code != http.StatusOK || len(prints) != 3 {
		t.Fatalf("prints = %d %v", code, body)
	}
	if prints[0].(map[string]any)["print_type"] != "AUTO" {
		t.Errorf("first print = %v", prints[0])
	}
}

func TestQRLookup(t *testing.T) {
	e := newTestEnv(t)
	c := e.record(t, 9)

	code, body := e.do(t, http.MethodGet, "/api/qr/Part.1", "")
	if code != http.StatusOK {
		t.Fatalf("qr = %d %v", code, body)
	}
	if body["code"].(map[string]any)["filename"] != "qr_images/Part.1.png" {
		t.Errorf("code = %v", body["code"])
	}
	if body["cycle"].(map[string]any)["id"] != float64(c.ID) || body["cycle_archived"] != false {
		t.Errorf("cycle = %v archived=%v", body["cycle"], body["cycle_archived"])
	}

	if code, _ := e.do(t, http.MethodGet, "/api/qr/Part.404", ""); code != http.StatusNotFound {
		t.Errorf("unknown code = %d, want 404", code)
	}
}

func TestSmsListAndRequeue(t *testing.T) {
	e := newTestEnv(t)
	e.record(t, 3)

	code, body := e.do(t, http.MethodGet, "/api/sms?status=pending", "")
	if code != http.StatusOK {
		t.Fatalf("sms = %d", code)
	}
	msgs := body["messages"].([]any)
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0].(map[string]any)["message"].(string), "FAIL | G507") {
		t.Errorf("messages = %v", msgs)
	}
	if body["stats"].(map[string]any)["pending"] != 1.0 {
		t.Errorf("stats = %v", body["stats"])
	}

	if code, _ := e.do(t, http.MethodGet, "/api/sms?status=bogus", ""); code != http.StatusBadRequest {
		t.Errorf("bad status = %d, want 400", code)
	}

	id := uint(msgs[0].(map[string]any)["id"].(float64))
	if code, _ := e.do(t, http.MethodPost, "/api/sms/"+itoa(id)+"/requeue", ""); code != http.StatusConflict {
		t.Errorf("requeue pending = %d, want 409", code)
	}

	e.db.Model(&models.SmsQueueEntry{}).Where("id = ?", id).Updates(map[string]any{"status": models.SmsFailed, "retry_count": 3})
	code, body = e.do(t, http.MethodPost, "/api/sms/"+itoa(id)+"/requeue", "")
	if code != http.StatusOK || body["status"] != "pending" {
		t.Errorf("requeue = %d %v", code, body)
	}
	if code, _ := e.do(t, http.MethodPost, "/api/sms/999/requeue", ""); code != http.StatusNotFound {
		t.Errorf("requeue missing = %d, want 404", code)
	}
}

func TestEvents_StreamsNewCycles(t *testing.T) {
	e := newTestEnv(t)
	e.record(t, 9)
	eventPoll = 20 * time.Millisecond
	defer func() { eventPoll = 2 * time.Second }()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		e.router.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)
	e.record(t, 12)
	<-done

	body := w.Body.String()
	if !strings.HasPrefix(body, "event: connected") {
		t.Errorf("stream should start with connected event: %q", body)
	}
	if n := strings.Count(body, "event: cycle"); n != 1 {
		t.Errorf("cycle events = %d, want 1 (only cycles after connect): %q", n, body)
	}
	if !strings.Contains(body, `"pass_fail":"FAIL"`) {
		t.Errorf("stream missing FAIL cycle: %q", body)
	}
}

func TestEvents_StreamsActiveModelChanges(t *testing.T) {
	e := newTestEnv(t)
	bg := context.Background()
	watcher := registry.NewWatcher(e.db, time.Hour)
	if _, err := watcher.Refresh(bg); err != nil {
		t.Fatal(err)
	}
	e.deps.Watcher = watcher
	router, err := NewRouter(e.deps)
	if err != nil {
		t.Fatal(err)
	}
	eventPoll = 20 * time.Millisecond
	defer func() { eventPoll = 2 * time.Second }()

	ctx, cancel := context.WithTimeout(bg, 500*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)
	if err := e.deps.Registry.ClearActiveModel(bg); err != nil {
		t.Fatal(err)
	}
	if _, err := watcher.Refresh(bg); err != nil {
		t.Fatal(err)
	}
	<-done

	body := w.Body.String()
	if n := strings.Count(body, "event: model"); n != 1 {
		t.Errorf("model events = %d, want 1 (only the change): %q", n, body)
	}
	if !strings.Contains(body, `"model":null`) {
		t.Errorf("stream missing cleared model: %q", body)
	}
}

func itoa(n uint) string { return strconv.FormatUint(uint64(n), 10) }
