package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/pneumaticqc/internal/archive"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Move old production rows into the archive tables",
	}

	cmd.AddCommand(newArchiveRunCmd())
	cmd.AddCommand(newArchiveRunsCmd())
	return cmd
}

func newArchiveRunCmd() *cobra.Command {
	var (
		configPath string
		olderThan  time.Duration
		batchID    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Archive rows past retention",
		Long: `Copies rows past retention into the archive tables and deletes them from
the live tables, one transaction per table. Without --older-than the per-table
retention from the config is used. Re-running a batch id is safe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			now := time.Now()
			if batchID == "" {
				batchID = archive.BatchID(now)
			}

			var report *archive.Report
			if olderThan > 0 {
				report, err = a.archive.ArchiveOlderThan(cmd.Context(), now.Add(-olderThan), batchID)
			} else {
				report, err = a.archive.Run(cmd.Context(), archive.RetentionFrom(a.cfg.Archive).Cutoffs(now), batchID)
			}
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "archive every table older than this age")
	cmd.Flags().StringVar(&batchID, "batch", "", "batch id (default derived from the current time)")
	return cmd
}

func printReport(out io.Writer, r *archive.Report) {
	fmt.Fprintf(out, "Batch %s\n", r.BatchID)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tCUTOFF\tARCHIVED\tSKIPPED\tSWEPT\tRESULT")
	for _, t := range r.Tables {
		result := "ok"
		if t.Err != nil {
			result = warn("rolled back: %v", t.Err)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", t.Table, t.Cutoff.Format("2006-01-02 15:04"),
			t.Archived, t.Skipped, t.Swept, result)
	}
	w.Flush()
}

func newArchiveRunsCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent archival runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			runs, err := archive.Runs(cmd.Context(), a.db, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BATCH\tSTATUS\tSTARTED\tROWS\tERROR")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.BatchID, r.Status,
					r.StartedAt.Format("2006-01-02 15:04:05"), r.RowsArchived, r.Error)
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show")
	return cmd
}
