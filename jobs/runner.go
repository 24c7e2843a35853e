package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opsdeckhq/opsdeck/errors"
)

// Error codes stamped onto failed rows.
const (
	ErrCodeTimeout   = "timeout"
	ErrCodePanic     = "panic"
	ErrCodeNoHandler = "no_handler"
	ErrCodeShutdown  = "shutdown"
	ErrCodeStaleLock = "stale_lock"
)

// RunOutcome summarizes what running one claimed job did to its row.
type RunOutcome struct {
	JobID    string
	Status   Status
	TimedOut bool
	Err      error
}

type execResult struct {
	result json.RawMessage
	err    error
}

// Runner executes claimed jobs and writes their terminal or retry state.
//
// The timeout is cooperative: the handler's context expires and the runner
// stops waiting, but the handler goroutine is never preempted. A handler
// that ignores its context keeps running in the background while its row
// is already retried or dead-lettered; its eventual return is discarded.
type Runner struct {
	store          Store
	registry       *Registry
	logs           *JobLogStore
	events         *Notifier
	logger         *zap.SugaredLogger
	defaultTimeout time.Duration

	// nowFn is swappable in tests.
	nowFn func() time.Time
}

// NewRunner creates a runner. defaultTimeout applies to jobs without a
// per-row override; zero falls back to DefaultTimeoutSeconds.
func NewRunner(store Store, registry *Registry, logs *JobLogStore, events *Notifier, logger *zap.SugaredLogger, defaultTimeout time.Duration) *Runner {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeoutSeconds * time.Second
	}
	return &Runner{
		store:          store,
		registry:       registry,
		logs:           logs,
		events:         events,
		logger:         logger,
		defaultTimeout: defaultTimeout,
		nowFn:          time.Now,
	}
}

// RunClaimedJob executes one job this process has already claimed. The
// caller must hold the claim; the runner relies on it for exclusive write
// access to the row.
func (r *Runner) RunClaimedJob(ctx context.Context, job *JobRun) RunOutcome {
	now := r.nowFn()

	// Re-read the row for the cancel checkpoint: a cancel request that
	// landed between claim and execution wins without the handler running.
	fresh, err := r.store.GetJob(job.ID)
	if err != nil {
		r.logger.Errorw("failed to reload claimed job", "job_id", job.ID, "error", err)
		return RunOutcome{JobID: job.ID, Status: job.Status, Err: err}
	}
	if fresh.Status != StatusRunning {
		// Recovery or an admin got here first. Nothing to do.
		r.logger.Warnw("claimed job no longer running, skipping",
			"job_id", fresh.ID, "status", fresh.Status)
		return RunOutcome{JobID: fresh.ID, Status: fresh.Status}
	}
	if fresh.CancelRequestedAt != nil {
		fresh.markCanceled(now)
		if err := r.store.UpdateJob(fresh); err != nil {
			return RunOutcome{JobID: fresh.ID, Status: fresh.Status, Err: err}
		}
		r.appendLog(fresh.ID, LogLevelInfo, "canceled before execution", now)
		r.publish(Event{Type: EventCanceled, JobID: fresh.ID, JobType: fresh.JobType, Status: fresh.Status, At: now})
		r.logger.Infow("job canceled", "job_id", fresh.ID, "job_type", fresh.JobType)
		return RunOutcome{JobID: fresh.ID, Status: StatusCanceled}
	}

	handler := r.registry.Get(fresh.JobType)
	if handler == nil {
		err := errors.Newf("no handler registered for job type %q", fresh.JobType)
		return r.finalizeFailure(fresh, err, ErrCodeNoHandler, false)
	}

	timeout := fresh.EffectiveTimeout(r.defaultTimeout)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- execResult{err: errors.Newf("handler panicked: %v", p)}
			}
		}()
		result, err := handler.Execute(execCtx, fresh)
		done <- execResult{result: result, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			code := ""
			if errors.Is(res.err, context.DeadlineExceeded) {
				code = ErrCodeTimeout
			}
			return r.finalizeFailure(fresh, res.err, code, code == ErrCodeTimeout)
		}
		return r.finalizeSuccess(fresh, res.result)

	case <-execCtx.Done():
		if ctx.Err() != nil {
			// Worker shutdown, not a job fault. Requeue with backoff so
			// another worker picks it up.
			err := errors.Wrapf(errors.ErrTimeout, "interrupted by worker shutdown")
			return r.finalizeFailure(fresh, err, ErrCodeShutdown, false)
		}
		err := errors.Wrapf(errors.ErrTimeout, "execution exceeded %s", timeout)
		return r.finalizeFailure(fresh, err, ErrCodeTimeout, true)
	}
}

func (r *Runner) finalizeSuccess(job *JobRun, result json.RawMessage) RunOutcome {
	now := r.nowFn()
	job.markSucceeded(result, now)
	if err := r.store.UpdateJob(job); err != nil {
		return RunOutcome{JobID: job.ID, Status: job.Status, Err: err}
	}

	r.appendLog(job.ID, LogLevelInfo, "succeeded", now)
	r.publish(Event{Type: EventSucceeded, JobID: job.ID, JobType: job.JobType, Status: job.Status, At: now})
	r.logger.Infow("job succeeded",
		"job_id", job.ID,
		"job_type", job.JobType,
		"attempt", job.Attempts)
	return RunOutcome{JobID: job.ID, Status: StatusSucceeded}
}

func (r *Runner) finalizeFailure(job *JobRun, execErr error, code string, timedOut bool) RunOutcome {
	now := r.nowFn()
	errMsg := SanitizeErrorMessage(execErr.Error())

	if job.Attempts >= job.MaxAttempts {
		job.markDeadLettered(errMsg, code, now)
		if err := r.store.UpdateJob(job); err != nil {
			return RunOutcome{JobID: job.ID, Status: job.Status, Err: err}
		}
		r.appendLog(job.ID, LogLevelError, fmt.Sprintf("dead-lettered after %d attempts: %s", job.Attempts, errMsg), now)
		r.publish(Event{Type: EventDeadLettered, JobID: job.ID, JobType: job.JobType, Status: job.Status, At: now})
		r.logger.Errorw("job dead-lettered",
			"job_id", job.ID,
			"job_type", job.JobType,
			"attempts", job.Attempts,
			"error", errMsg)
		return RunOutcome{JobID: job.ID, Status: StatusDeadLetter, TimedOut: timedOut, Err: execErr}
	}

	runAfter := NextRunAfter(job.Attempts, now)
	job.markRetry(runAfter, errMsg, code, now)
	if err := r.store.UpdateJob(job); err != nil {
		return RunOutcome{JobID: job.ID, Status: job.Status, Err: err}
	}
	r.appendLog(job.ID, LogLevelWarn, fmt.Sprintf("attempt %d failed, retrying at %s: %s", job.Attempts, runAfter.UTC().Format(time.RFC3339), errMsg), now)
	r.publish(Event{Type: EventRetried, JobID: job.ID, JobType: job.JobType, Status: job.Status, At: now})
	r.logger.Warnw("job failed, retrying",
		"job_id", job.ID,
		"job_type", job.JobType,
		"attempt", job.Attempts,
		"run_after", runAfter,
		"error", errMsg)
	return RunOutcome{JobID: job.ID, Status: StatusQueued, TimedOut: timedOut, Err: execErr}
}

func (r *Runner) appendLog(jobID, level, message string, now time.Time) {
	if r.logs == nil {
		return
	}
	if err := r.logs.Append(jobID, level, message, nil, now); err != nil {
		r.logger.Warnw("failed to append job log", "job_id", jobID, "error", err)
	}
}

func (r *Runner) publish(event Event) {
	if r.events != nil {
		r.events.Publish(event)
	}
}

// LoopStats counts what one claim-and-run pass did.
type LoopStats struct {
	Claimed      int
	Succeeded    int
	Retried      int
	DeadLettered int
	Canceled     int
	Errors       int
}

// RunJobsLoopOnce claims up to batchSize jobs and runs them sequentially.
// One pass of the worker poll loop; also usable directly from tests and
// one-shot CLI invocations.
func (r *Runner) RunJobsLoopOnce(ctx context.Context, claimer *Claimer, batchSize int) (LoopStats, error) {
	var stats LoopStats

	claimed, err := claimer.ClaimNextJobs(batchSize, r.nowFn())
	if err != nil {
		return stats, err
	}
	stats.Claimed = len(claimed)

	for _, job := range claimed {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		outcome := r.RunClaimedJob(ctx, job)
		switch {
		case outcome.Err != nil && outcome.Status != StatusQueued && outcome.Status != StatusDeadLetter:
			stats.Errors++
		case outcome.Status == StatusSucceeded:
			stats.Succeeded++
		case outcome.Status == StatusQueued:
			stats.Retried++
		case outcome.Status == StatusDeadLetter:
			stats.DeadLettered++
		case outcome.Status == StatusCanceled:
			stats.Canceled++
		}
	}

	return stats, nil
}
