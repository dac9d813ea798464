package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "pqc.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "pqc",
		Short:        "Pneumatic weld/seal QC recorder",
		Long:         "pqc records pneumatic test cycles, issues traceability labels for passing parts and alerts the line on failures.",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newModelCmd())
	cmd.AddCommand(newPhoneCmd())
	cmd.AddCommand(newRecordCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newReprintCmd())
	cmd.AddCommand(newSmsCmd())
	cmd.AddCommand(newArchiveCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pqc %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
