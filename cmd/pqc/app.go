package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/pneumaticqc/internal/alert"
	"github.com/zulandar/pneumaticqc/internal/archive"
	"github.com/zulandar/pneumaticqc/internal/config"
	"github.com/zulandar/pneumaticqc/internal/db"
	"github.com/zulandar/pneumaticqc/internal/label"
	"github.com/zulandar/pneumaticqc/internal/qrcode"
	"github.com/zulandar/pneumaticqc/internal/recorder"
	"github.com/zulandar/pneumaticqc/internal/registry"
	"gorm.io/gorm"
)

// app bundles the services built from one config file.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	registry *registry.Registry
	codes    *qrcode.Store
	alerts   *alert.Queue
	renderer *qrcode.PNGRenderer
	printer  *label.CommandPrinter
	recorder *recorder.Recorder
	archive  *archive.Engine
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

func loadApp(configPath string) (*app, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		db:       gormDB,
		registry: registry.New(gormDB),
		codes:    qrcode.NewStore(gormDB, cfg.QR.Prefix, cfg.QR.MaxAttempts).StartAt(cfg.QR.StartCounter),
		alerts: alert.NewQueue(gormDB, alert.Options{
			MaxRetries:  cfg.Alerts.MaxRetries,
			ClaimLease:  cfg.Alerts.ClaimLease,
			SendTimeout: cfg.Alerts.SendTimeout,
		}),
		renderer: qrcode.NewPNGRenderer(cfg.QR.ImageDir, 0),
		printer:  label.NewCommandPrinter(cfg.Printer.Command, cfg.Printer.SpoolDir),
		archive: archive.NewEngine(gormDB, archive.Options{
			StaleRunTimeout: cfg.Archive.StaleRunTimeout,
			DeleteImages:    cfg.Archive.DeleteImages,
		}),
	}
	a.recorder = recorder.New(gormDB, a.codes, a.alerts, a.renderer, a.printer, recorder.Options{
		RenderTimeout: cfg.QR.RenderTimeout,
		PrintTimeout:  cfg.Printer.Timeout,
		PrintedBy:     cfg.Printer.User,
	})
	return a, nil
}

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfigPath, "path to pqc config file")
}
