package jobs

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/opsdeckhq/opsdeck/errors"
)

// EnqueueOptions describes a job submission. Zero values fall back to
// defaults: priority 50, three attempts, runnable immediately.
type EnqueueOptions struct {
	JobType string
	Payload json.RawMessage

	Priority       int
	MaxAttempts    int
	TimeoutSeconds int

	// RunAfter delays the first attempt. Nil means runnable now.
	RunAfter *time.Time

	// DedupeKey suppresses the submission while another job holding the
	// same key is queued or running.
	DedupeKey string

	// IdempotencyKey suppresses the submission forever once any job has
	// carried the same key, regardless of how that job ended.
	IdempotencyKey string

	SourceType      string
	SourceID        string
	CreatedByUserID string
}

// EnqueueResult reports what Enqueue did. When Deduplicated is true, Job is
// the pre-existing row and nothing was inserted.
type EnqueueResult struct {
	Job          *JobRun
	Deduplicated bool
}

// Enqueuer is the single write path for new job runs.
type Enqueuer struct {
	store  Store
	logs   *JobLogStore
	events *Notifier
	logger *zap.SugaredLogger
}

// NewEnqueuer creates an enqueuer. logs and events may be nil when audit
// trail and notifications are not wanted.
func NewEnqueuer(store Store, logs *JobLogStore, events *Notifier, logger *zap.SugaredLogger) *Enqueuer {
	return &Enqueuer{store: store, logs: logs, events: events, logger: logger}
}

// Enqueue validates, deduplicates and inserts a job run.
//
// The idempotency key is checked before the dedupe key: a submission that
// was ever accepted stays accepted, even after the original job finished.
// The dedupe key only suppresses while a duplicate is still in flight.
func (e *Enqueuer) Enqueue(opts EnqueueOptions, now time.Time) (*EnqueueResult, error) {
	if opts.JobType == "" {
		return nil, errors.NewInvalidRequestError("job type is required")
	}

	if opts.IdempotencyKey != "" {
		existing, err := e.store.FindByIdempotencyKey(opts.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			e.logger.Debugw("enqueue suppressed by idempotency key",
				"job_id", existing.ID,
				"job_type", opts.JobType,
				"idempotency_key", opts.IdempotencyKey)
			return &EnqueueResult{Job: existing, Deduplicated: true}, nil
		}
	}

	if opts.DedupeKey != "" {
		existing, err := e.store.FindActiveByDedupeKey(opts.DedupeKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			e.logger.Debugw("enqueue suppressed by dedupe key",
				"job_id", existing.ID,
				"job_type", opts.JobType,
				"dedupe_key", opts.DedupeKey)
			return &EnqueueResult{Job: existing, Deduplicated: true}, nil
		}
	}

	runAfter := now
	if opts.RunAfter != nil {
		runAfter = *opts.RunAfter
	}

	priority := opts.Priority
	if priority <= 0 {
		priority = DefaultPriority
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	job := &JobRun{
		ID:              NewJobID(),
		JobType:         opts.JobType,
		Status:          StatusQueued,
		Priority:        priority,
		RunAfter:        runAfter,
		MaxAttempts:     maxAttempts,
		TimeoutSeconds:  opts.TimeoutSeconds,
		DedupeKey:       opts.DedupeKey,
		IdempotencyKey:  opts.IdempotencyKey,
		PayloadJSON:     SanitizePayload(opts.Payload),
		SourceType:      opts.SourceType,
		SourceID:        opts.SourceID,
		CreatedByUserID: opts.CreatedByUserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := e.store.CreateJob(job); err != nil {
		return nil, err
	}

	e.appendLog(job.ID, LogLevelInfo, "enqueued", now)
	e.publish(Event{Type: EventEnqueued, JobID: job.ID, JobType: job.JobType, Status: job.Status, At: now})

	e.logger.Infow("job enqueued",
		"job_id", job.ID,
		"job_type", job.JobType,
		"priority", job.Priority,
		"run_after", job.RunAfter)

	return &EnqueueResult{Job: job}, nil
}

// appendLog writes an audit entry, logging instead of failing when the
// write does not land. The audit trail is best-effort.
func (e *Enqueuer) appendLog(jobID, level, message string, now time.Time) {
	if e.logs == nil {
		return
	}
	if err := e.logs.Append(jobID, level, message, nil, now); err != nil {
		e.logger.Warnw("failed to append job log", "job_id", jobID, "error", err)
	}
}

func (e *Enqueuer) publish(event Event) {
	if e.events != nil {
		e.events.Publish(event)
	}
}
