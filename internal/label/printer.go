package label

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// waitDelay bounds how long a killed print command may hold its output pipes.
const waitDelay = 2 * time.Second

// CommandPrinter spools each label as a PDF and runs a shell command to send
// it to the printer, e.g. "lp -d zebra {{.File}}".
type CommandPrinter struct {
	Command  string
	SpoolDir string
}

// NewCommandPrinter returns a printer running command for every label. It
// returns nil when command is empty, which callers treat as printing disabled.
func NewCommandPrinter(command, spoolDir string) *CommandPrinter {
	if strings.TrimSpace(command) == "" {
		return nil
	}
	if spoolDir == "" {
		spoolDir = "labels"
	}
	return &CommandPrinter{Command: command, SpoolDir: spoolDir}
}

// Print implements Printer.
func (p *CommandPrinter) Print(ctx context.Context, l Label) error {
	doc, err := RenderPDF(l)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p.SpoolDir, 0o755); err != nil {
		return fmt.Errorf("label: create spool dir: %w", err)
	}
	file := filepath.Join(p.SpoolDir, safeName(l.QRData)+".pdf")
	if err := os.WriteFile(file, doc, 0o644); err != nil {
		return fmt.Errorf("label: spool %s: %w", file, err)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", templateCommand(p.Command, l, file))
	cmd.WaitDelay = waitDelay
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("label: print %s: %w", l.QRData, ctx.Err())
		}
		return fmt.Errorf("label: print %s: %w: %s", l.QRData, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// templateCommand replaces placeholders in the print command template. Each
// value is substituted as one single-quoted shell word.
func templateCommand(command string, l Label, file string) string {
	r := strings.NewReplacer(
		"{{.File}}", shellQuote(file),
		"{{.QR}}", shellQuote(l.QRData),
		"{{.Model}}", shellQuote(l.ModelName),
		"{{.Type}}", shellQuote(l.ModelType),
	)
	return r.Replace(command)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func safeName(s string) string {
	return strings.NewReplacer("/", "_", `\`, "_", " ", "_").Replace(s)
}
