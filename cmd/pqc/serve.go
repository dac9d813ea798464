package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/pneumaticqc/internal/alert"
	"github.com/zulandar/pneumaticqc/internal/api"
	"github.com/zulandar/pneumaticqc/internal/archive"
	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/registry"
)

const (
	watchInterval   = 5 * time.Second
	repairInterval  = 5 * time.Minute
	repairBatchSize = 100
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		noArchive  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the station services",
		Long: `Runs the HTTP API, the SMS dispatch worker, the archival schedule and a
watcher that logs active model changes and streams them to /api/events. Codes left without an image and PASS
cycles left without a code are repaired at start and periodically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				a.cfg.API.Port = port
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case sig := <-sigCh:
					fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
					cancel()
				case <-ctx.Done():
				}
			}()

			return runServe(ctx, cmd, a, !noArchive)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "API port (default api.port from config)")
	cmd.Flags().BoolVar(&noArchive, "no-archive", false, "do not run the archival schedule on this station")
	return cmd
}

// runServe starts every service and blocks until ctx is cancelled or one of
// them fails.
func runServe(ctx context.Context, cmd *cobra.Command, a *app, withArchive bool) error {
	transport, err := alert.NewTransport(a.cfg.Alerts)
	if err != nil {
		return err
	}

	var sched *archive.Scheduler
	if withArchive {
		sched, err = archive.NewScheduler(a.archive, a.cfg.Archive.Schedule, archive.RetentionFrom(a.cfg.Archive))
		if err != nil {
			return err
		}
	}

	watcher := registry.NewWatcher(a.db, watchInterval)
	watcher.OnChange(func(m *models.ProductModel) {
		if m == nil {
			log.Printf("serve: no active model, recording stopped")
			return
		}
		log.Printf("serve: active model %s (%s) limits %.3f-%.3f mm", m.Name, m.ModelType, m.LowerLimit, m.UpperLimit)
	})

	worker := alert.NewWorker(a.alerts, transport, a.cfg.Alerts.PollInterval, a.cfg.Alerts.Throttle)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	services := map[string]func(context.Context) error{
		"api": func(ctx context.Context) error {
			return api.Start(ctx, api.StartOpts{
				Deps: api.Deps{
					DB:        a.db,
					Registry:  a.registry,
					Recorder:  a.recorder,
					Codes:     a.codes,
					Alerts:    a.alerts,
					Watcher:   watcher,
					PrintedBy: a.cfg.Printer.User,
				},
				Port: a.cfg.API.Port,
				Out:  cmd.OutOrStdout(),
			})
		},
		"sms worker": worker.Run,
		"watcher":    watcher.Run,
		"repair": func(ctx context.Context) error {
			return repairLoop(ctx, a)
		},
	}
	if sched != nil {
		services["archive scheduler"] = sched.Run
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(services))
	for name, run := range services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}
	wg.Wait()
	close(errCh)
	return <-errCh
}

// repairLoop renders codes that have no image and issues codes to PASS cycles
// recorded without one.
func repairLoop(ctx context.Context, a *app) error {
	for {
		if n, err := a.codes.RenderPending(ctx, a.renderer, repairBatchSize); err != nil {
			log.Printf("serve: render pending codes: %v", err)
		} else if n > 0 {
			log.Printf("serve: rendered %d pending code(s)", n)
		}
		if n, err := a.recorder.BackfillCodes(ctx); err != nil {
			log.Printf("serve: backfill codes: %v", err)
		} else if n > 0 {
			log.Printf("serve: issued %d missing code(s)", n)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(repairInterval):
		}
	}
}
