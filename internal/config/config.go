// Package config provides YAML-based configuration loading for the QC recorder.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level station configuration, loaded from pqc.yaml.
type Config struct {
	Station  string         `yaml:"station"`
	Database DatabaseConfig `yaml:"database"`
	QR       QRConfig       `yaml:"qr"`
	Printer  PrinterConfig  `yaml:"printer"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Archive  ArchiveConfig  `yaml:"archive"`
	API      APIConfig      `yaml:"api"`
}

// DatabaseConfig selects the shared store. Driver is "mysql" (production) or
// "sqlite" (single station, tests).
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
}

// QRConfig controls traceability code issuance and image rendering.
// StartCounter is the lowest code number issued, for continuing a series
// printed by another station.
type QRConfig struct {
	Prefix        string        `yaml:"prefix"`
	ImageDir      string        `yaml:"image_dir"`
	MaxAttempts   int           `yaml:"max_attempts"`
	RenderTimeout time.Duration `yaml:"render_timeout"`
	StartCounter  uint          `yaml:"start_counter"`
}

// PrinterConfig controls label printing. Command is a shell template; the
// placeholders {{.File}}, {{.QR}}, {{.Model}} and {{.Type}} are replaced with
// single-quoted values before running it. An empty
// command disables automatic printing.
type PrinterConfig struct {
	Command  string        `yaml:"command"`
	SpoolDir string        `yaml:"spool_dir"`
	Timeout  time.Duration `yaml:"timeout"`
	User     string        `yaml:"user"`
}

// AlertsConfig controls the SMS dispatch queue and its transport.
type AlertsConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	PollInterval time.Duration `yaml:"poll_interval"`
	SendTimeout  time.Duration `yaml:"send_timeout"`
	Throttle     time.Duration `yaml:"throttle"`
	ClaimLease   time.Duration `yaml:"claim_lease"`
	Transport    string        `yaml:"transport"`
	Command      string        `yaml:"command"`
	Slack        ChatConfig    `yaml:"slack"`
	Discord      ChatConfig    `yaml:"discord"`
}

// ChatConfig holds credentials for a chat transport that mirrors alerts.
type ChatConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// ArchiveConfig controls the archival schedule and per-table retention.
type ArchiveConfig struct {
	Schedule        string        `yaml:"schedule"`
	CyclesRetention time.Duration `yaml:"cycles_retention"`
	QRRetention     time.Duration `yaml:"qr_retention"`
	SmsRetention    time.Duration `yaml:"sms_retention"`
	DeleteImages    bool          `yaml:"delete_images"`
	StaleRunTimeout time.Duration `yaml:"stale_run_timeout"`
}

// APIConfig holds HTTP API settings.
type APIConfig struct {
	Port int `yaml:"port"`
}

// Transport names accepted in alerts.transport.
var validTransports = map[string]bool{
	"command": true,
	"slack":   true,
	"discord": true,
	"log":     true,
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.Name == "" {
			c.Database.Name = "pneumatic_qc"
		}
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "pneumatic_qc.db"
	}

	if c.QR.Prefix == "" {
		c.QR.Prefix = "Part"
	}
	if c.QR.ImageDir == "" {
		c.QR.ImageDir = "qr_images"
	}
	if c.QR.MaxAttempts == 0 {
		c.QR.MaxAttempts = 5
	}
	if c.QR.RenderTimeout == 0 {
		c.QR.RenderTimeout = 10 * time.Second
	}

	if c.Printer.SpoolDir == "" {
		c.Printer.SpoolDir = "labels"
	}
	if c.Printer.Timeout == 0 {
		c.Printer.Timeout = 15 * time.Second
	}
	if c.Printer.User == "" {
		c.Printer.User = c.Station
	}

	if c.Alerts.MaxRetries == 0 {
		c.Alerts.MaxRetries = 3
	}
	if c.Alerts.PollInterval == 0 {
		c.Alerts.PollInterval = 20 * time.Second
	}
	if c.Alerts.SendTimeout == 0 {
		c.Alerts.SendTimeout = 30 * time.Second
	}
	if c.Alerts.Throttle == 0 {
		c.Alerts.Throttle = 1500 * time.Millisecond
	}
	if c.Alerts.ClaimLease == 0 {
		c.Alerts.ClaimLease = 2 * time.Minute
	}
	if c.Alerts.Transport == "" {
		if c.Alerts.Command != "" {
			c.Alerts.Transport = "command"
		} else {
			c.Alerts.Transport = "log"
		}
	}

	if c.Archive.Schedule == "" {
		c.Archive.Schedule = "0 * * * *"
	}
	if c.Archive.CyclesRetention == 0 {
		c.Archive.CyclesRetention = 30 * 24 * time.Hour
	}
	if c.Archive.QRRetention == 0 {
		c.Archive.QRRetention = 24 * time.Hour
	}
	if c.Archive.SmsRetention == 0 {
		c.Archive.SmsRetention = 24 * time.Hour
	}
	if c.Archive.StaleRunTimeout == 0 {
		c.Archive.StaleRunTimeout = time.Hour
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Station == "" {
		errs = append(errs, "station is required")
	}
	switch c.Database.Driver {
	case "mysql":
		if c.Database.User == "" {
			errs = append(errs, "database.user is required for mysql")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (mysql, sqlite)", c.Database.Driver))
	}
	if c.QR.MaxAttempts < 1 {
		errs = append(errs, "qr.max_attempts must be at least 1")
	}
	if c.Alerts.MaxRetries < 1 {
		errs = append(errs, "alerts.max_retries must be at least 1")
	}
	if !validTransports[c.Alerts.Transport] {
		errs = append(errs, fmt.Sprintf("alerts.transport %q is not supported", c.Alerts.Transport))
	}
	if c.Alerts.Transport == "command" && c.Alerts.Command == "" {
		errs = append(errs, "alerts.command is required for the command transport")
	}
	if c.Alerts.Transport == "slack" && (c.Alerts.Slack.BotToken == "" || c.Alerts.Slack.ChannelID == "") {
		errs = append(errs, "alerts.slack.bot_token and alerts.slack.channel_id are required")
	}
	if c.Alerts.Transport == "discord" && (c.Alerts.Discord.BotToken == "" || c.Alerts.Discord.ChannelID == "") {
		errs = append(errs, "alerts.discord.bot_token and alerts.discord.channel_id are required")
	}
	for _, r := range []struct {
		name string
		d    time.Duration
	}{
		{"archive.cycles_retention", c.Archive.CyclesRetention},
		{"archive.qr_retention", c.Archive.QRRetention},
		{"archive.sms_retention", c.Archive.SmsRetention},
	} {
		if r.d < time.Hour {
			errs = append(errs, fmt.Sprintf("%s must be at least 1h", r.name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
