package jobs

import "time"

// Store is the persistence contract the queue core depends on. The only
// shared mutable resource in the system is behind this interface; every
// mutation that matters for correctness (claiming, stale recovery) is a
// conditional update that reports whether it actually modified a row, so
// callers can detect a lost race and move on.
//
// SQLStore is the production implementation. Tests run it against an
// in-memory SQLite database.
type Store interface {
	// CreateJob inserts a new job run row.
	CreateJob(job *JobRun) error

	// GetJob retrieves a job run by ID. Returns errors.ErrNotFound when absent.
	GetJob(id string) (*JobRun, error)

	// UpdateJob overwrites a row by ID unconditionally. Reserved for the
	// exclusive lock holder's terminal transitions and admin edits.
	UpdateJob(job *JobRun) error

	// FindActiveByDedupeKey returns the queued-or-running row holding the
	// dedupe key, or nil when no in-flight duplicate exists.
	FindActiveByDedupeKey(key string) (*JobRun, error)

	// FindByIdempotencyKey returns the most recent row holding the
	// idempotency key regardless of status, or nil.
	FindByIdempotencyKey(key string) (*JobRun, error)

	// SelectEligible returns up to limit claimable rows: queued, due
	// (run_after <= now) and not freshly locked (locked_at IS NULL OR
	// locked_at < staleBefore), ordered by priority ASC then created_at ASC.
	SelectEligible(limit int, now, staleBefore time.Time) ([]*JobRun, error)

	// ClaimJob atomically transitions one eligible row to running for the
	// given worker identity, incrementing attempts and stamping the lock
	// fields. Returns false when the row was no longer eligible - another
	// worker won the race.
	ClaimJob(id, runnerID string, now, staleBefore time.Time) (bool, error)

	// SelectStaleRunning returns running rows whose effective lock time
	// (locked_at, else started_at) predates staleBefore.
	SelectStaleRunning(limit int, staleBefore time.Time) ([]*JobRun, error)

	// RequeueIfStillStale returns a stale running row to the queue with a
	// backoff run_after, clearing lock fields. The staleness predicate is
	// re-checked inside the update; false means a worker heartbeated in the
	// meantime and the row was left alone.
	RequeueIfStillStale(id string, staleBefore, runAfter time.Time, errMsg, errCode string, now time.Time) (bool, error)

	// DeadLetterIfStillStale dead-letters a stale running row that has
	// exhausted its attempts, with the same re-checked predicate.
	DeadLetterIfStillStale(id string, staleBefore time.Time, errMsg, errCode string, now time.Time) (bool, error)

	// RequestCancel stamps cancel_requested_at on a queued or running row.
	// Terminal rows are rejected with errors.ErrConflict.
	RequestCancel(id string, now time.Time) error

	// ListJobs returns rows newest-first, optionally filtered by status
	// and/or job type.
	ListJobs(status *Status, jobType string, limit int) ([]*JobRun, error)

	// CountJobsByStatus returns row counts keyed by status.
	CountJobsByStatus() (map[Status]int, error)

	// CleanupTerminalJobs deletes terminal rows whose updated_at predates
	// the cutoff. Returns the number of rows removed.
	CleanupTerminalJobs(cutoff time.Time) (int, error)

	// CreateSchedule inserts a recurring definition. Duplicate keys are
	// rejected with errors.ErrConflict.
	CreateSchedule(s *JobSchedule) error

	// GetSchedule retrieves a schedule by key. Returns errors.ErrNotFound
	// when absent.
	GetSchedule(key string) (*JobSchedule, error)

	// UpdateSchedule overwrites a schedule row by key.
	UpdateSchedule(s *JobSchedule) error

	// SetScheduleEnabled flips is_enabled on a schedule.
	SetScheduleEnabled(key string, enabled bool, now time.Time) error

	// ListSchedules returns all schedules ordered by key.
	ListSchedules(limit int) ([]*JobSchedule, error)

	// ListDueSchedules returns enabled schedules with next_run_at <= now,
	// ordered by next_run_at ASC.
	ListDueSchedules(now time.Time, limit int) ([]*JobSchedule, error)
}
