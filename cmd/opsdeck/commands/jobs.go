package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsdeckhq/opsdeck/errors"
	"github.com/opsdeckhq/opsdeck/jobs"
	"github.com/opsdeckhq/opsdeck/logger"
)

// JobsCmd represents the jobs command - queue inspection and control.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect, enqueue and cancel background jobs",
	Long: `Background job management.

Examples:
  opsdeck jobs ls                          # List recent jobs
  opsdeck jobs ls --status dead_letter     # List dead-lettered jobs
  opsdeck jobs status jr_abc123            # Show one job with its audit log
  opsdeck jobs enqueue invoice.send --payload '{"invoice_id":"inv_42"}'
  opsdeck jobs cancel jr_abc123            # Request cooperative cancellation`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs",
	Long: `List jobs newest-first, optionally filtered.

Status filters: queued, running, succeeded, failed, dead_letter, canceled.

Examples:
  opsdeck jobs ls --status queued
  opsdeck jobs ls --type invoice.send --limit 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")
		typeFilter, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		return runJobsLs(statusFilter, typeFilter, limit)
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's state and audit log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsStatus(args[0])
	},
}

var jobsEnqueueCmd = &cobra.Command{
	Use:   "enqueue <job-type>",
	Short: "Enqueue a job",
	Long: `Enqueue a job of the given type.

Examples:
  opsdeck jobs enqueue invoice.send --payload '{"invoice_id":"inv_42"}'
  opsdeck jobs enqueue report.generate --priority 10 --dedupe-key report:today
  opsdeck jobs enqueue crm.sync --delay 10m`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, _ := cmd.Flags().GetString("payload")
		priority, _ := cmd.Flags().GetInt("priority")
		maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
		timeoutSecs, _ := cmd.Flags().GetInt("timeout")
		dedupeKey, _ := cmd.Flags().GetString("dedupe-key")
		idempotencyKey, _ := cmd.Flags().GetString("idempotency-key")
		delay, _ := cmd.Flags().GetDuration("delay")
		return runJobsEnqueue(args[0], payload, priority, maxAttempts, timeoutSecs, dedupeKey, idempotencyKey, delay)
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a queued or running job",
	Long: `Request cooperative cancellation.

A queued job is canceled before it ever runs. A job already inside its
handler finishes or times out first; cancellation only prevents starting
or retrying it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsCancel(args[0])
	},
}

func init() {
	jobsLsCmd.Flags().String("status", "", "Filter by status")
	jobsLsCmd.Flags().String("type", "", "Filter by job type")
	jobsLsCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")

	jobsEnqueueCmd.Flags().String("payload", "", "JSON payload")
	jobsEnqueueCmd.Flags().Int("priority", 0, "Priority (lower runs first, default 50)")
	jobsEnqueueCmd.Flags().Int("max-attempts", 0, "Attempt cap before dead-lettering (default 3)")
	jobsEnqueueCmd.Flags().Int("timeout", 0, "Per-job timeout in seconds")
	jobsEnqueueCmd.Flags().String("dedupe-key", "", "Suppress while a duplicate is in flight")
	jobsEnqueueCmd.Flags().String("idempotency-key", "", "Suppress forever after first acceptance")
	jobsEnqueueCmd.Flags().Duration("delay", 0, "Delay before the job becomes runnable")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsStatusCmd)
	JobsCmd.AddCommand(jobsEnqueueCmd)
	JobsCmd.AddCommand(jobsCancelCmd)
}

func runJobsLs(statusFilter, typeFilter string, limit int) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := jobs.NewSQLStore(database)

	var status *jobs.Status
	if statusFilter != "" {
		if !jobs.IsValidStatus(statusFilter) {
			return errors.NewInvalidRequestError("unknown status %q", statusFilter)
		}
		s := jobs.Status(statusFilter)
		status = &s
	}

	rows, err := store.ListJobs(status, typeFilter, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-40s %-24s %-12s %4s %9s  %s\n", "ID", "TYPE", "STATUS", "PRI", "ATTEMPTS", "CREATED")
	for _, job := range rows {
		fmt.Printf("%-40s %-24s %-12s %4d %6d/%-2d  %s\n",
			job.ID, job.JobType, job.Status, job.Priority,
			job.Attempts, job.MaxAttempts,
			job.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runJobsStatus(jobID string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := jobs.NewSQLStore(database)
	job, err := store.GetJob(jobID)
	if err != nil {
		return err
	}

	fmt.Printf("Job %s\n", job.ID)
	fmt.Printf("  Type:      %s\n", job.JobType)
	fmt.Printf("  Status:    %s\n", job.Status)
	fmt.Printf("  Priority:  %d\n", job.Priority)
	fmt.Printf("  Attempts:  %d/%d\n", job.Attempts, job.MaxAttempts)
	fmt.Printf("  Created:   %s\n", job.CreatedAt.Local().Format(time.RFC3339))
	fmt.Printf("  Run after: %s\n", job.RunAfter.Local().Format(time.RFC3339))
	if job.LockOwner != "" {
		fmt.Printf("  Lock:      %s", job.LockOwner)
		if job.LockedAt != nil {
			fmt.Printf(" since %s", job.LockedAt.Local().Format(time.RFC3339))
		}
		fmt.Println()
	}
	if job.ErrorMessage != "" {
		fmt.Printf("  Error:     %s", job.ErrorMessage)
		if job.ErrorCode != "" {
			fmt.Printf(" (%s)", job.ErrorCode)
		}
		fmt.Println()
	}
	if job.FinishedAt != nil {
		fmt.Printf("  Finished:  %s\n", job.FinishedAt.Local().Format(time.RFC3339))
	}
	if len(job.PayloadJSON) > 0 {
		fmt.Printf("  Payload:   %s\n", string(job.PayloadJSON))
	}
	if len(job.ResultJSON) > 0 {
		fmt.Printf("  Result:    %s\n", string(job.ResultJSON))
	}
	if job.SourceType != "" {
		fmt.Printf("  Source:    %s/%s\n", job.SourceType, job.SourceID)
	}

	logStore := jobs.NewJobLogStore(database)
	entries, err := logStore.List(job.ID, 50)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		fmt.Printf("\nAudit log:\n")
		for _, e := range entries {
			fmt.Printf("  %s [%s] %s\n",
				e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Level, e.Message)
		}
	}
	return nil
}

func runJobsEnqueue(jobType, payload string, priority, maxAttempts, timeoutSecs int, dedupeKey, idempotencyKey string, delay time.Duration) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := jobs.NewSQLStore(database)
	logs := jobs.NewJobLogStore(database)
	enqueuer := jobs.NewEnqueuer(store, logs, nil, logger.Logger)

	opts := jobs.EnqueueOptions{
		JobType:        jobType,
		Priority:       priority,
		MaxAttempts:    maxAttempts,
		TimeoutSeconds: timeoutSecs,
		DedupeKey:      dedupeKey,
		IdempotencyKey: idempotencyKey,
		SourceType:     "cli",
	}
	if payload != "" {
		opts.Payload = json.RawMessage(payload)
	}
	now := time.Now()
	if delay > 0 {
		runAfter := now.Add(delay)
		opts.RunAfter = &runAfter
	}

	result, err := enqueuer.Enqueue(opts, now)
	if err != nil {
		return err
	}

	if result.Deduplicated {
		fmt.Printf("Deduplicated: existing job %s (%s)\n", result.Job.ID, result.Job.Status)
	} else {
		fmt.Printf("Enqueued %s (%s)\n", result.Job.ID, result.Job.JobType)
	}
	return nil
}

func runJobsCancel(jobID string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := jobs.NewSQLStore(database)
	if err := store.RequestCancel(jobID, time.Now()); err != nil {
		return err
	}

	fmt.Printf("Cancellation requested for %s\n", jobID)
	fmt.Println("A queued job is canceled before its next run; a running handler finishes first.")
	return nil
}
