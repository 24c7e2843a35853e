package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsdeckhq/opsdeck/config"
	"github.com/opsdeckhq/opsdeck/jobs"
	"github.com/opsdeckhq/opsdeck/logger"
)

// RegisterHandlers is the hook applications use to bind job types before
// the daemon starts. The core ships without handlers; an empty registry
// means every claimed job fails with no_handler and retries elsewhere.
var RegisterHandlers func(registry *jobs.Registry)

// WorkerCmd represents the worker command - the job processing daemon.
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage the opsdeck worker daemon",
	Long: `Worker daemon - background job processing.

The daemon runs three loops against the shared database:
- A worker pool claiming and executing queued jobs
- A scheduler ticker enqueuing due recurring schedules
- A recovery sweep returning orphaned jobs to the queue

Multiple daemons may run against the same database; claiming is
race-safe at the storage layer.

Example:
  opsdeck worker start              # Start daemon in foreground
  opsdeck worker start --workers 3  # Start with 3 concurrent loops`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the worker daemon in the foreground",
	Long: `Start the worker daemon in foreground mode.

Runs until interrupted (Ctrl+C), then shuts down gracefully: in-flight
handlers get a grace period to finish before the process exits, and
anything still running is picked up later by the recovery sweep.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, _ := cmd.Flags().GetInt("workers")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if workers <= 0 {
			workers = cfg.Jobs.Workers
		}

		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		store := jobs.NewSQLStore(database)
		logs := jobs.NewJobLogStore(database)
		events := jobs.NewNotifier()

		registry := jobs.NewRegistry()
		if RegisterHandlers != nil {
			RegisterHandlers(registry)
		}
		if len(registry.Types()) == 0 {
			logger.Warnw("no job handlers registered, claimed jobs will fail with no_handler")
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		poolCfg := jobs.DefaultWorkerPoolConfig()
		poolCfg.Workers = workers
		poolCfg.PollInterval = cfg.Jobs.PollInterval
		poolCfg.ClaimBatchSize = cfg.Jobs.ClaimBatchSize
		poolCfg.DefaultTimeout = time.Duration(cfg.Jobs.DefaultTimeoutSecs) * time.Second

		pool := jobs.NewWorkerPoolWithContext(ctx, store, registry, logs, events, poolCfg, logger.Logger)
		pool.Start()

		enqueuer := jobs.NewEnqueuer(store, logs, events, logger.Logger)
		scheduler := jobs.NewScheduler(store, enqueuer, logger.Logger, cfg.Jobs.ScheduleBatchSize)
		recovery := jobs.NewRecovery(store, logs, events, logger.Logger)

		tickerCfg := jobs.DefaultTickerConfig()
		tickerCfg.Interval = cfg.Jobs.SchedulerInterval
		tickerCfg.RecoveryInterval = cfg.Jobs.RecoveryInterval
		tickerCfg.StaleAfter = time.Duration(cfg.Jobs.StaleLockMinutes) * time.Minute
		tickerCfg.RetentionPeriod = time.Duration(cfg.Jobs.RetentionDays) * 24 * time.Hour

		ticker := jobs.NewTickerWithContext(ctx, store, scheduler, recovery, logs, tickerCfg, logger.Logger)
		ticker.Start()

		fmt.Printf("opsdeck worker started\n")
		fmt.Printf("  Runner ID: %s\n", pool.RunnerID())
		fmt.Printf("  Workers: %d\n", workers)
		fmt.Printf("  Poll interval: %v\n", poolCfg.PollInterval)
		fmt.Printf("  Scheduler interval: %v\n", tickerCfg.Interval)
		fmt.Printf("  Handlers: %v\n", registry.Types())
		fmt.Printf("\nPress Ctrl+C for graceful shutdown\n\n")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Printf("\nShutting down...\n")
		ticker.Stop()
		pool.Stop()
		cancel()

		fmt.Printf("opsdeck worker stopped\n")
		return nil
	},
}

var workerOnceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single claim-and-run pass and exit",
	Long: `Run one pass of the worker loop: claim up to the batch size,
execute sequentially, print the counts. Useful for cron-style setups and
debugging handlers without a resident daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
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
		logs := jobs.NewJobLogStore(database)

		registry := jobs.NewRegistry()
		if RegisterHandlers != nil {
			RegisterHandlers(registry)
		}

		runner := jobs.NewRunner(store, registry, logs, nil, logger.Logger,
			time.Duration(cfg.Jobs.DefaultTimeoutSecs)*time.Second)
		claimer := jobs.NewClaimer(store, logs, nil, logger.Logger, jobs.DefaultRunnerID())

		stats, err := runner.RunJobsLoopOnce(cmd.Context(), claimer, cfg.Jobs.ClaimBatchSize)
		if err != nil {
			return err
		}

		fmt.Printf("claimed=%d succeeded=%d retried=%d dead_lettered=%d canceled=%d\n",
			stats.Claimed, stats.Succeeded, stats.Retried, stats.DeadLettered, stats.Canceled)
		return nil
	},
}

func init() {
	workerStartCmd.Flags().Int("workers", 0, "Number of worker loops (default from config)")

	WorkerCmd.AddCommand(workerStartCmd)
	WorkerCmd.AddCommand(workerOnceCmd)
}
