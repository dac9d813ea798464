package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/pneumaticqc/internal/alert"
	"github.com/zulandar/pneumaticqc/internal/models"
)

func newSmsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sms",
		Short: "Inspect and dispatch the SMS alert queue",
	}

	cmd.AddCommand(newSmsListCmd())
	cmd.AddCommand(newSmsDispatchCmd())
	cmd.AddCommand(newSmsRequeueCmd())
	return cmd
}

func newSmsListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued alerts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			entries, err := a.alerts.List(ctx, status, limit)
			if err != nil {
				return err
			}
			stats, err := a.alerts.Stats(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tQUEUED\tPHONE\tSTATUS\tRETRIES\tMESSAGE")
			for _, e := range entries {
				msg := e.Message
				if e.LastError != nil {
					msg += " (" + *e.LastError + ")"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", e.ID, e.Timestamp.Format("01-02 15:04:05"),
					e.Phone, smsStatus(e.Status), e.RetryCount, msg)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%s %d  %s %d  %s %d\n",
				smsStatus(models.SmsPending), stats[models.SmsPending],
				smsStatus(models.SmsSent), stats[models.SmsSent],
				smsStatus(models.SmsFailed), stats[models.SmsFailed])
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status: pending, sent or failed")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries to show")
	return cmd
}

func newSmsDispatchCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Send pending alerts until the queue is drained",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			transport, err := alert.NewTransport(a.cfg.Alerts)
			if err != nil {
				return err
			}
			return runSmsDispatch(cmd, a, transport)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runSmsDispatch(cmd *cobra.Command, a *app, transport alert.Transport) error {
	out := cmd.OutOrStdout()
	w := alert.NewWorker(a.alerts, transport, a.cfg.Alerts.PollInterval, a.cfg.Alerts.Throttle)
	w.OnAttempt = func(at alert.Attempt) {
		result := smsStatus(at.Entry.Status)
		if at.Err != nil {
			result += " " + at.Err.Error()
		}
		fmt.Fprintf(out, "#%d %s: %s\n", at.Entry.ID, at.Entry.Phone, result)
	}
	n, err := w.Drain(cmd.Context())
	fmt.Fprintf(out, "%d attempt(s)\n", n)
	return err
}

func newSmsRequeueCmd() *cobra.Command {
	var (
		configPath  string
		failedSince time.Duration
	)

	cmd := &cobra.Command{
		Use:   "requeue [id]",
		Short: "Return failed alerts to the queue with their retries reset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && failedSince <= 0 {
				return fmt.Errorf("give an alert id or --failed-since")
			}
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			return runSmsRequeue(cmd.Context(), cmd, a, args, failedSince)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().DurationVar(&failedSince, "failed-since", 0, "requeue every alert queued within this window that failed")
	return cmd
}

func runSmsRequeue(ctx context.Context, cmd *cobra.Command, a *app, args []string, failedSince time.Duration) error {
	out := cmd.OutOrStdout()
	if len(args) == 1 {
		id, err := parseUintArg(args[0], "alert id")
		if err != nil {
			return err
		}
		if err := a.alerts.Requeue(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(out, "Requeued alert %d\n", id)
		return nil
	}
	n, err := a.alerts.RequeueFailedSince(ctx, time.Now().Add(-failedSince))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Requeued %d failed alert(s)\n", n)
	return nil
}
