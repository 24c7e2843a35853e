package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opsdeckhq/opsdeck/cmd/opsdeck/commands"
	"github.com/opsdeckhq/opsdeck/config"
	"github.com/opsdeckhq/opsdeck/logger"
)

var jsonLogs bool

var rootCmd = &cobra.Command{
	Use:   "opsdeck",
	Short: "opsdeck - durable job queue and scheduler for the ops dashboard",
	Long: `opsdeck - background job queue and recurring scheduler.

opsdeck persists every unit of background work (invoice emails, report
generation, CRM syncs) as a job row, executes it with retry/backoff and
dead-lettering, and fires recurring schedules on interval, daily, weekly
and monthly cadences.

Available commands:
  worker    - Run the worker daemon (job processing + scheduler + recovery)
  jobs      - Inspect, enqueue and cancel jobs
  schedules - Inspect and toggle recurring schedules
  db        - Database operations (migrate, stats)

Examples:
  opsdeck worker start            # Start the daemon in the foreground
  opsdeck jobs ls --status queued # List queued jobs
  opsdeck jobs cancel jr_abc123   # Request cancellation
  opsdeck schedules ls            # List recurring schedules
  opsdeck db stats                # Queue depth by status`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return logger.Initialize(jsonLogs || cfg.Log.JSON)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit logs as JSON instead of console output")

	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.SchedulesCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
