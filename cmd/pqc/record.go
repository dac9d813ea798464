package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/recorder"
)

func newRecordCmd() *cobra.Command {
	var (
		configPath string
		at         string
	)

	cmd := &cobra.Command{
		Use:   "record <peak-height-mm>",
		Short: "Record one test cycle against the active model",
		Long: `Judges a peak height against the active model's limits and records the
cycle. A PASS is issued a traceability code and its label is printed; a FAIL
queues an SMS alert to every phone of the model.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peak, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid peak height %q", args[0])
			}
			var ts time.Time
			if at != "" {
				if _, ts, err = recorder.ParseReading(args[0] + "," + at); err != nil {
					return err
				}
			}
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			return runRecord(cmd, a, peak, ts)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&at, "at", "", "cycle timestamp (RFC3339 or 2006-01-02T15:04:05); default now")
	return cmd
}

func runRecord(cmd *cobra.Command, a *app, peak float64, ts time.Time) error {
	out := cmd.OutOrStdout()
	c, err := a.recorder.RecordCycle(cmd.Context(), peak, ts)
	var degraded *recorder.DegradedError
	if errors.As(err, &degraded) && c != nil {
		fmt.Fprintln(out, formatCycle(*c))
		fmt.Fprintln(out, warn("recorded without side effects: %v", degraded.Err))
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, formatCycle(*c))
	return nil
}

func newIngestCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Record cycles from a sensor feed",
		Long: `Reads one reading per line, "peak[,timestamp]", from a file or stdin and
records each against the active model. Blank lines and lines starting with #
are skipped. Ingestion stops if the line has no active model.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runIngest(cmd, a, in)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runIngest(cmd *cobra.Command, a *app, in io.Reader) error {
	out := cmd.OutOrStdout()
	stats, err := a.recorder.Ingest(cmd.Context(), in, func(c models.Cycle) {
		fmt.Fprintln(out, formatCycle(c))
	})
	fmt.Fprintf(out, "\nRecorded %d cycle(s): %s %d, %s %d", stats.Recorded,
		passFail(models.PassFailPass), stats.Passed, passFail(models.PassFailFail), stats.Failed)
	if stats.Degraded > 0 {
		fmt.Fprint(out, warn(", %d degraded", stats.Degraded))
	}
	if stats.Skipped > 0 {
		fmt.Fprintf(out, ", %d line(s) skipped", stats.Skipped)
	}
	fmt.Fprintln(out)
	return err
}
