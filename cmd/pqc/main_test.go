package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeConfig writes a sqlite station config into a temp dir and returns its
// path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`station: line-1
database:
  driver: sqlite
  path: %s
qr:
  image_dir: %s
alerts:
  transport: log
  throttle: 1ms
%s`, filepath.Join(dir, "qc.db"), filepath.Join(dir, "qr_images"), extra)
	path := filepath.Join(dir, "pqc.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCmd(t, "", args...)
	if err != nil {
		t.Fatalf("pqc %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestVersionCmd(t *testing.T) {
	out := mustRun(t, "version")
	if !strings.HasPrefix(out, "pqc dev") {
		t.Errorf("version output = %q", out)
	}
}

func TestRootCmd_ListsCommands(t *testing.T) {
	out := mustRun(t, "--help")
	for _, name := range []string{"db", "model", "phone", "record", "ingest", "reprint", "sms", "archive", "serve"} {
		if !strings.Contains(out, name) {
			t.Errorf("help should list %q:\n%s", name, out)
		}
	}
}

func TestCommands_MissingConfig(t *testing.T) {
	for _, args := range [][]string{
		{"db", "init"},
		{"model", "list"},
		{"record", "9"},
		{"sms", "list"},
		{"archive", "runs"},
	} {
		args = append(args, "--config", "/nonexistent/pqc.yaml")
		if _, err := runCmd(t, "", args...); err == nil || !strings.Contains(err.Error(), "load config") {
			t.Errorf("pqc %s: err = %v, want load config error", strings.Join(args, " "), err)
		}
	}
}

func TestParseUintArg(t *testing.T) {
	if _, err := parseUintArg("0", "model id"); err == nil {
		t.Error("0 should be rejected")
	}
	if _, err := parseUintArg("x", "model id"); err == nil {
		t.Error("x should be rejected")
	}
	if n, err := parseUintArg("12", "model id"); err != nil || n != 12 {
		t.Errorf("parseUintArg(12) = %d, %v", n, err)
	}
}

func TestInteractive_NonFileReader(t *testing.T) {
	if !interactive(strings.NewReader("")) {
		t.Error("non-file readers are treated as interactive")
	}
}
