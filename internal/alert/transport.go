package alert

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"
)

// Transport delivers one alert message to a phone number.
type Transport interface {
	Send(ctx context.Context, phone, message string) error
}

// LogTransport writes alerts to the process log. It is the fallback when no
// modem or chat service is configured.
type LogTransport struct{}

// Send implements Transport.
func (LogTransport) Send(_ context.Context, phone, message string) error {
	log.Printf("alert: sms to %s: %s", phone, message)
	return nil
}

// CommandTransport runs a shell command per message, typically a modem
// script such as "gammu sendsms TEXT {{.Phone}} -text {{.Message}}". The
// placeholders are substituted shell-quoted.
type CommandTransport struct {
	Command string
}

const commandWaitDelay = 2 * time.Second

// Send implements Transport.
func (c CommandTransport) Send(ctx context.Context, phone, message string) error {
	if strings.TrimSpace(c.Command) == "" {
		return errors.New("alert: no sms command configured")
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", templateCommand(c.Command, phone, message))
	cmd.WaitDelay = commandWaitDelay
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("sms command: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// templateCommand replaces placeholders in the command template with
// shell-quoted values.
func templateCommand(command, phone, message string) string {
	r := strings.NewReplacer(
		"{{.Phone}}", shellQuote(phone),
		"{{.Message}}", shellQuote(message),
	)
	return r.Replace(command)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Multi sends through Primary and copies every message to Mirrors. Only the
// primary outcome counts; mirror failures are logged.
type Multi struct {
	Primary Transport
	Mirrors []Transport
}

// Send implements Transport.
func (m Multi) Send(ctx context.Context, phone, message string) error {
	err := m.Primary.Send(ctx, phone, message)
	for _, mirror := range m.Mirrors {
		if merr := mirror.Send(ctx, phone, message); merr != nil {
			log.Printf("alert: mirror %T: %v", mirror, merr)
		}
	}
	return err
}

// chatText is how an SMS alert reads when mirrored to a chat channel.
func chatText(phone, message string) string {
	return fmt.Sprintf("SMS to %s: %s", phone, message)
}
