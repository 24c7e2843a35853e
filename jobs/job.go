package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a job run
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRunning    Status = "running"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
	StatusCanceled   Status = "canceled"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusRunning, StatusSucceeded,
		StatusFailed, StatusDeadLetter, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a status is terminal: the row will never be
// claimed or mutated by the core again.
func IsTerminal(s Status) bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusDeadLetter, StatusCanceled:
		return true
	default:
		return false
	}
}

// Default knobs for new job runs. Priority is lower-is-more-urgent; 50 sits
// in the middle so callers can jump the queue with single digits.
const (
	DefaultPriority       = 50
	DefaultMaxAttempts    = 3
	DefaultTimeoutSeconds = 120
)

// StaleLockThreshold is how long a running job's lock may go without a
// heartbeat before claimers and the recovery sweep treat it as orphaned.
const StaleLockThreshold = 10 * time.Minute

// JobRun is one unit of background work.
//
// Exactly one of the queued-state fields (run_after), running-state fields
// (locked_at/lock_owner/started_at) and terminal-state fields (finished_at
// and friends) is meaningfully populated at a time. Attempts is incremented
// precisely when a claim succeeds and is never reset across retries.
type JobRun struct {
	ID      string `json:"id"`
	JobType string `json:"job_type"`
	Status  Status `json:"status"`

	Priority int       `json:"priority"`
	RunAfter time.Time `json:"run_after"`

	Attempts       int `json:"attempts"`
	MaxAttempts    int `json:"max_attempts"`
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	LockedAt    *time.Time `json:"locked_at,omitempty"`
	LockOwner   string     `json:"lock_owner,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`

	LastErrorAt  *time.Time `json:"last_error_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`

	FinishedAt        *time.Time      `json:"finished_at,omitempty"`
	ResultJSON        json.RawMessage `json:"result_json,omitempty"`
	DeadLetteredAt    *time.Time      `json:"dead_lettered_at,omitempty"`
	CanceledAt        *time.Time      `json:"canceled_at,omitempty"`
	CancelRequestedAt *time.Time      `json:"cancel_requested_at,omitempty"`

	DedupeKey      string          `json:"dedupe_key,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	PayloadJSON    json.RawMessage `json:"payload_json,omitempty"`

	SourceType      string `json:"source_type,omitempty"`
	SourceID        string `json:"source_id,omitempty"`
	CreatedByUserID string `json:"created_by_user_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJobID generates a job run identifier.
func NewJobID() string {
	return "jr_" + uuid.NewString()
}

// EffectiveLockTime returns the timestamp used for staleness checks:
// locked_at when present, else started_at. Nil means the row carries no
// running-state evidence at all.
func (j *JobRun) EffectiveLockTime() *time.Time {
	if j.LockedAt != nil {
		return j.LockedAt
	}
	return j.StartedAt
}

// EffectiveTimeout returns the per-job timeout override, falling back to
// the supplied default when the row has none.
func (j *JobRun) EffectiveTimeout(defaultTimeout time.Duration) time.Duration {
	if j.TimeoutSeconds > 0 {
		return time.Duration(j.TimeoutSeconds) * time.Second
	}
	return defaultTimeout
}

// releaseLock clears the claim-state fields. They are only meaningful while
// the row is running.
func (j *JobRun) releaseLock() {
	j.LockedAt = nil
	j.LockOwner = ""
	j.HeartbeatAt = nil
	j.StartedAt = nil
}

// markSucceeded transitions a running job to succeeded.
func (j *JobRun) markSucceeded(result json.RawMessage, now time.Time) {
	j.Status = StatusSucceeded
	j.ResultJSON = result
	j.FinishedAt = &now
	j.releaseLock()
	j.UpdatedAt = now
}

// markRetry transitions a running job back to queued with a backoff delay.
func (j *JobRun) markRetry(runAfter time.Time, errMsg, errCode string, now time.Time) {
	j.Status = StatusQueued
	j.RunAfter = runAfter
	j.ErrorMessage = errMsg
	j.ErrorCode = errCode
	j.LastErrorAt = &now
	j.releaseLock()
	j.UpdatedAt = now
}

// markDeadLettered transitions a running job to the dead-letter terminal state.
func (j *JobRun) markDeadLettered(errMsg, errCode string, now time.Time) {
	j.Status = StatusDeadLetter
	j.ErrorMessage = errMsg
	j.ErrorCode = errCode
	j.LastErrorAt = &now
	j.DeadLetteredAt = &now
	j.FinishedAt = &now
	j.releaseLock()
	j.UpdatedAt = now
}

// markCanceled transitions a job to canceled.
func (j *JobRun) markCanceled(now time.Time) {
	j.Status = StatusCanceled
	j.CanceledAt = &now
	j.FinishedAt = &now
	j.releaseLock()
	j.UpdatedAt = now
}
