package jobs

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WorkerPoolConfig contains configuration for the worker pool.
type WorkerPoolConfig struct {
	Workers        int           `json:"workers"`          // Number of concurrent poll loops
	PollInterval   time.Duration `json:"poll_interval"`    // How often an idle worker checks for jobs
	ClaimBatchSize int           `json:"claim_batch_size"` // Jobs claimed per poll tick
	DefaultTimeout time.Duration `json:"default_timeout"`  // Handler timeout when the row has no override
	StopTimeout    time.Duration `json:"stop_timeout"`     // How long Stop waits for in-flight handlers
}

// DefaultWorkerPoolConfig returns sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:        1,
		PollInterval:   5 * time.Second,
		ClaimBatchSize: 5,
		DefaultTimeout: DefaultTimeoutSeconds * time.Second,
		StopTimeout:    30 * time.Second,
	}
}

// DefaultRunnerID builds a worker identity from the host and process, so
// lock_owner on a stuck row points back at where it was claimed.
func DefaultRunnerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// WorkerPool runs N independent claim-and-run loops against the queue.
//
// Each loop claims its own batch and executes it sequentially; throughput
// scales by adding loops (or processes), which is safe because claiming is
// race-free at the store level.
type WorkerPool struct {
	store    Store
	runner   *Runner
	logs     *JobLogStore
	events   *Notifier
	config   WorkerPoolConfig
	runnerID string

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	mu        sync.Mutex
	startTime time.Time
}

// NewWorkerPool creates a worker pool.
// Callers must register handlers on the registry before calling Start.
func NewWorkerPool(store Store, registry *Registry, logs *JobLogStore, events *Notifier, cfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithContext(context.Background(), store, registry, logs, events, cfg, logger)
}

// NewWorkerPoolWithContext creates a worker pool whose loops stop when the
// parent context is canceled. Useful for tests and coordinated shutdown.
func NewWorkerPoolWithContext(ctx context.Context, store Store, registry *Registry, logs *JobLogStore, events *Notifier, cfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ClaimBatchSize <= 0 {
		cfg.ClaimBatchSize = 5
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}

	workerCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		store:     store,
		runner:    NewRunner(store, registry, logs, events, logger, cfg.DefaultTimeout),
		logs:      logs,
		events:    events,
		config:    cfg,
		runnerID:  DefaultRunnerID(),
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		logger:    logger,
	}
}

// RunnerID returns the base worker identity; loop i stamps "{id}#{i}".
func (wp *WorkerPool) RunnerID() string {
	return wp.runnerID
}

// Start spawns the poll loops.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	// Support restart after Stop by recreating the canceled context.
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
	default:
	}
	wp.startTime = time.Now()
	wp.mu.Unlock()

	for i := 0; i < wp.config.Workers; i++ {
		wp.wg.Add(1)
		go wp.loop(i)
	}
	wp.logger.Infow("worker pool started",
		"workers", wp.config.Workers,
		"poll_interval", wp.config.PollInterval,
		"runner_id", wp.runnerID)
}

// Stop cancels the loops and waits up to StopTimeout for in-flight
// handlers. Jobs still running after that are left to the recovery sweep.
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow("worker pool stopped", "runner_id", wp.runnerID)
	case <-time.After(wp.config.StopTimeout):
		wp.logger.Warnw("worker pool stop timed out, abandoning in-flight jobs",
			"runner_id", wp.runnerID,
			"timeout", wp.config.StopTimeout)
	}
}

func (wp *WorkerPool) loop(id int) {
	defer wp.wg.Done()

	claimer := NewClaimer(wp.store, wp.logs, wp.events, wp.logger,
		fmt.Sprintf("%s#%d", wp.runnerID, id))

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			wp.drain(claimer)
		}
	}
}

// drain runs claim-and-run passes until the queue comes up short, so a
// burst of work does not wait out a poll interval per batch.
func (wp *WorkerPool) drain(claimer *Claimer) {
	for {
		stats, err := wp.runner.RunJobsLoopOnce(wp.ctx, claimer, wp.config.ClaimBatchSize)
		if err != nil {
			if wp.ctx.Err() == nil {
				wp.logger.Warnw("worker pass failed", "runner_id", claimer.RunnerID(), "error", err)
			}
			return
		}
		if stats.Claimed < wp.config.ClaimBatchSize {
			return
		}
		if wp.ctx.Err() != nil {
			return
		}
	}
}
