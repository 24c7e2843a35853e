package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TickerConfig contains the cadences of the background maintenance loops.
type TickerConfig struct {
	Interval         time.Duration // Due-schedule sweep cadence
	RecoveryInterval time.Duration // Stale-lock sweep cadence
	StaleAfter       time.Duration // Lock age treated as orphaned
	RetentionPeriod  time.Duration // Terminal rows older than this are deleted; 0 disables
	CleanupInterval  time.Duration // Retention sweep cadence
}

// DefaultTickerConfig returns sensible defaults.
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval:         15 * time.Second,
		RecoveryInterval: 5 * time.Minute,
		StaleAfter:       StaleLockThreshold,
		RetentionPeriod:  30 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
}

// Ticker drives the periodic maintenance work: enqueuing due schedules,
// recovering stale locks, and pruning old terminal rows. Running more than
// one ticker against the same database is safe; every mutation it triggers
// is conditional or idempotent.
type Ticker struct {
	store     Store
	scheduler *Scheduler
	recovery  *Recovery
	logs      *JobLogStore
	config    TickerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	lastRecoveryAt  time.Time
	lastCleanupAt   time.Time
	ticksSinceStart int64
}

// NewTicker creates a maintenance ticker.
func NewTicker(store Store, scheduler *Scheduler, recovery *Recovery, logs *JobLogStore, cfg TickerConfig, logger *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), store, scheduler, recovery, logs, cfg, logger)
}

// NewTickerWithContext creates a ticker stopped by parent context cancellation.
func NewTickerWithContext(ctx context.Context, store Store, scheduler *Scheduler, recovery *Recovery, logs *JobLogStore, cfg TickerConfig, logger *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = 5 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = StaleLockThreshold
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}

	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		store:     store,
		scheduler: scheduler,
		recovery:  recovery,
		logs:      logs,
		config:    cfg,
		ctx:       tickerCtx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start begins the ticker loop.
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("scheduler ticker started",
		"interval", t.config.Interval,
		"recovery_interval", t.config.RecoveryInterval)
}

// Stop gracefully stops the ticker.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("scheduler ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.tick(tickTime)
		}
	}
}

// tick runs one maintenance pass. Tick errors are logged, not fatal; the
// next tick retries from scratch.
func (t *Ticker) tick(now time.Time) {
	t.mu.Lock()
	t.lastTickAt = now
	t.ticksSinceStart++
	runRecovery := now.Sub(t.lastRecoveryAt) >= t.config.RecoveryInterval
	if runRecovery {
		t.lastRecoveryAt = now
	}
	runCleanup := t.config.RetentionPeriod > 0 && now.Sub(t.lastCleanupAt) >= t.config.CleanupInterval
	if runCleanup {
		t.lastCleanupAt = now
	}
	ticks := t.ticksSinceStart
	t.mu.Unlock()

	stats, err := t.scheduler.EnqueueDueSchedules(now)
	if err != nil {
		t.logger.Warnw("due-schedule sweep failed", "error", err, "tick", ticks)
	} else if stats.DueSchedules > 0 {
		t.logger.Infow("due-schedule sweep",
			"due", stats.DueSchedules,
			"enqueued", stats.JobsEnqueued,
			"deduplicated", stats.Deduplicated)
	}

	if runRecovery {
		recStats, err := t.recovery.RecoverStaleRunningJobs(t.config.StaleAfter, now)
		if err != nil {
			t.logger.Warnw("stale-lock sweep failed", "error", err, "tick", ticks)
		} else if recStats.Examined > 0 {
			t.logger.Warnw("stale-lock sweep recovered jobs",
				"examined", recStats.Examined,
				"requeued", recStats.Requeued,
				"dead_lettered", recStats.DeadLettered,
				"skipped", recStats.Skipped)
		}
	}

	if runCleanup {
		t.runCleanup(now)
	}
}

func (t *Ticker) runCleanup(now time.Time) {
	cutoff := now.Add(-t.config.RetentionPeriod)
	removed, err := t.store.CleanupTerminalJobs(cutoff)
	if err != nil {
		t.logger.Warnw("retention cleanup failed", "error", err)
		return
	}
	orphaned := 0
	if t.logs != nil && removed > 0 {
		if orphaned, err = t.logs.DeleteOrphaned(); err != nil {
			t.logger.Warnw("job log cleanup failed", "error", err)
		}
	}
	if removed > 0 {
		t.logger.Infow("retention cleanup",
			"jobs_removed", removed,
			"log_entries_removed", orphaned,
			"cutoff", cutoff)
	}
}

// LastTick reports when the ticker last fired and how many ticks have run.
func (t *Ticker) LastTick() (time.Time, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTickAt, t.ticksSinceStart
}
