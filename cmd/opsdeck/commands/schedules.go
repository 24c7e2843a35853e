package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsdeckhq/opsdeck/jobs"
)

// SchedulesCmd represents the schedules command - recurring job management.
var SchedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Inspect and toggle recurring schedules",
	Long: `Recurring schedule management.

Examples:
  opsdeck schedules ls                  # List schedules with next run times
  opsdeck schedules show weekly-report  # Show one schedule in detail
  opsdeck schedules disable crm-sync    # Stop a schedule from firing
  opsdeck schedules enable crm-sync     # Resume it`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var schedulesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recurring schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return runSchedulesLs(limit)
	},
}

var schedulesShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show a schedule in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchedulesShow(args[0])
	},
}

var schedulesEnableCmd = &cobra.Command{
	Use:   "enable <key>",
	Short: "Enable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchedulesSetEnabled(args[0], true)
	},
}

var schedulesDisableCmd = &cobra.Command{
	Use:   "disable <key>",
	Short: "Disable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchedulesSetEnabled(args[0], false)
	},
}

func init() {
	schedulesLsCmd.Flags().Int("limit", 100, "Maximum number of schedules to display")

	SchedulesCmd.AddCommand(schedulesLsCmd)
	SchedulesCmd.AddCommand(schedulesShowCmd)
	SchedulesCmd.AddCommand(schedulesEnableCmd)
	SchedulesCmd.AddCommand(schedulesDisableCmd)
}

// cadenceSummary renders a schedule's recurrence rule for humans.
func cadenceSummary(s *jobs.JobSchedule) string {
	switch s.CadenceType {
	case jobs.CadenceInterval:
		return fmt.Sprintf("every %dm", s.IntervalMinutes)
	case jobs.CadenceDaily:
		return fmt.Sprintf("daily %02d:%02d", s.Hour, s.Minute)
	case jobs.CadenceWeekly:
		return fmt.Sprintf("weekly %s %02d:%02d", time.Weekday(s.DayOfWeek), s.Hour, s.Minute)
	case jobs.CadenceMonthly:
		return fmt.Sprintf("monthly day %d %02d:%02d", s.DayOfMonth, s.Hour, s.Minute)
	default:
		return string(s.CadenceType)
	}
}

func runSchedulesLs(limit int) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := jobs.NewSQLStore(database)
	schedules, err := store.ListSchedules(limit)
	if err != nil {
		return err
	}
	if len(schedules) == 0 {
		fmt.Println("No schedules found")
		return nil
	}

	fmt.Printf("%-24s %-24s %-26s %-8s %s\n", "KEY", "TYPE", "CADENCE", "ENABLED", "NEXT RUN")
	for _, s := range schedules {
		nextRun := "-"
		if s.NextRunAt != nil {
			nextRun = s.NextRunAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("%-24s %-24s %-26s %-8t %s\n",
			s.Key, s.JobType, cadenceSummary(s), s.IsEnabled, nextRun)
	}
	return nil
}

func runSchedulesShow(key string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := jobs.NewSQLStore(database)
	s, err := store.GetSchedule(key)
	if err != nil {
		return err
	}

	fmt.Printf("Schedule %s\n", s.Key)
	fmt.Printf("  Title:    %s\n", s.Title)
	if s.Description != "" {
		fmt.Printf("  About:    %s\n", s.Description)
	}
	fmt.Printf("  Type:     %s\n", s.JobType)
	fmt.Printf("  Cadence:  %s\n", cadenceSummary(s))
	fmt.Printf("  Enabled:  %t\n", s.IsEnabled)
	if s.NextRunAt != nil {
		fmt.Printf("  Next run: %s\n", s.NextRunAt.Local().Format(time.RFC3339))
	}
	if s.LastEnqueuedAt != nil {
		fmt.Printf("  Last enqueued: %s", s.LastEnqueuedAt.Local().Format(time.RFC3339))
		if s.LastRunJobID != "" {
			fmt.Printf(" (%s)", s.LastRunJobID)
		}
		fmt.Println()
	}
	if len(s.PayloadTemplate) > 0 {
		fmt.Printf("  Payload:  %s\n", string(s.PayloadTemplate))
	}
	return nil
}

func runSchedulesSetEnabled(key string, enabled bool) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := jobs.NewSQLStore(database)
	if err := store.SetScheduleEnabled(key, enabled, time.Now()); err != nil {
		return err
	}

	if enabled {
		fmt.Printf("Schedule %s enabled\n", key)
	} else {
		fmt.Printf("Schedule %s disabled; it will not fire until re-enabled\n", key)
	}
	return nil
}
