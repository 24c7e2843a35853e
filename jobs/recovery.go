package jobs

import (
	"time"

	"go.uber.org/zap"
)

const recoveryBatchSize = 100

// RecoveryStats counts what one stale-lock sweep did.
type RecoveryStats struct {
	Examined     int
	Requeued     int
	DeadLettered int
	Skipped      int
}

// Recovery returns orphaned running jobs to the queue. A worker that
// crashes mid-execution leaves its row running with a lock that stops
// heartbeating; once the lock is stale the sweep either requeues the row
// or dead-letters it when its attempts are spent.
//
// Every mutation re-checks staleness inside the update, so a worker that
// heartbeats between the read and the write keeps its job.
type Recovery struct {
	store  Store
	logs   *JobLogStore
	events *Notifier
	logger *zap.SugaredLogger
}

// NewRecovery creates a recovery sweep.
func NewRecovery(store Store, logs *JobLogStore, events *Notifier, logger *zap.SugaredLogger) *Recovery {
	return &Recovery{store: store, logs: logs, events: events, logger: logger}
}

// RecoverStaleRunningJobs sweeps running rows whose lock is older than
// staleAfter as of now.
func (r *Recovery) RecoverStaleRunningJobs(staleAfter time.Duration, now time.Time) (RecoveryStats, error) {
	var stats RecoveryStats
	staleBefore := now.Add(-staleAfter)

	stale, err := r.store.SelectStaleRunning(recoveryBatchSize, staleBefore)
	if err != nil {
		return stats, err
	}
	stats.Examined = len(stale)

	for _, job := range stale {
		if job.Attempts >= job.MaxAttempts {
			ok, err := r.store.DeadLetterIfStillStale(job.ID,
				staleBefore, "lock expired with attempts exhausted", ErrCodeStaleLock, now)
			if err != nil {
				return stats, err
			}
			if !ok {
				stats.Skipped++
				continue
			}
			stats.DeadLettered++
			r.appendLog(job.ID, LogLevelError, "dead-lettered by recovery: lock expired with attempts exhausted", now)
			r.publish(Event{Type: EventDeadLettered, JobID: job.ID, JobType: job.JobType, Status: StatusDeadLetter, At: now})
			r.logger.Errorw("stale job dead-lettered",
				"job_id", job.ID,
				"job_type", job.JobType,
				"attempts", job.Attempts,
				"lock_owner", job.LockOwner)
			continue
		}

		runAfter := NextRunAfter(job.Attempts, now)
		ok, err := r.store.RequeueIfStillStale(job.ID,
			staleBefore, runAfter, "lock expired, requeued by recovery", ErrCodeStaleLock, now)
		if err != nil {
			return stats, err
		}
		if !ok {
			stats.Skipped++
			continue
		}
		stats.Requeued++
		r.appendLog(job.ID, LogLevelWarn, "requeued by recovery: lock expired", now)
		r.publish(Event{Type: EventRecovered, JobID: job.ID, JobType: job.JobType, Status: StatusQueued, At: now})
		r.logger.Warnw("stale job requeued",
			"job_id", job.ID,
			"job_type", job.JobType,
			"attempt", job.Attempts,
			"lock_owner", job.LockOwner,
			"run_after", runAfter)
	}

	return stats, nil
}

func (r *Recovery) appendLog(jobID, level, message string, now time.Time) {
	if r.logs == nil {
		return
	}
	if err := r.logs.Append(jobID, level, message, nil, now); err != nil {
		r.logger.Warnw("failed to append job log", "job_id", jobID, "error", err)
	}
}

func (r *Recovery) publish(event Event) {
	if r.events != nil {
		r.events.Publish(event)
	}
}
