package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opsdeckhq/opsdeck/config"
	"github.com/opsdeckhq/opsdeck/jobs"
)

// DbCmd represents the db command.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the opsdeck database",
	Long: `Database operations.

Examples:
  opsdeck db migrate   # Apply pending migrations
  opsdeck db stats     # Queue depth by status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		// openDatabase migrates as a side effect.
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		fmt.Println("Migrations applied")
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := jobs.NewSQLStore(database)
	counts, err := store.CountJobsByStatus()
	if err != nil {
		return err
	}
	schedules, err := store.ListSchedules(1000)
	if err != nil {
		return err
	}

	var total int
	for _, n := range counts {
		total += n
	}
	enabled := 0
	for _, s := range schedules {
		if s.IsEnabled {
			enabled++
		}
	}

	fmt.Printf("Database: %s\n\n", cfg.Database.Path)
	fmt.Printf("Jobs (%d total):\n", total)
	for _, status := range []jobs.Status{
		jobs.StatusQueued, jobs.StatusRunning, jobs.StatusSucceeded,
		jobs.StatusFailed, jobs.StatusDeadLetter, jobs.StatusCanceled,
	} {
		if counts[status] > 0 {
			fmt.Printf("  %-12s %d\n", status, counts[status])
		}
	}
	fmt.Printf("\nSchedules: %d (%d enabled)\n", len(schedules), enabled)
	return nil
}
