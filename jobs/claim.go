package jobs

import (
	"time"

	"go.uber.org/zap"
)

// Claimer pulls runnable work off the queue for one worker identity.
//
// Claiming is two-phase: a read picks candidates in dispatch order, then a
// conditional update tries to take each one. Losing the update race is
// normal under concurrency and is simply skipped.
type Claimer struct {
	store    Store
	events   *Notifier
	logs     *JobLogStore
	logger   *zap.SugaredLogger
	runnerID string
}

// NewClaimer creates a claimer for the given worker identity.
func NewClaimer(store Store, logs *JobLogStore, events *Notifier, logger *zap.SugaredLogger, runnerID string) *Claimer {
	return &Claimer{
		store:    store,
		logs:     logs,
		events:   events,
		logger:   logger,
		runnerID: runnerID,
	}
}

// RunnerID returns the worker identity this claimer stamps onto rows.
func (c *Claimer) RunnerID() string {
	return c.runnerID
}

// ClaimNextJobs claims up to limit eligible jobs and returns them in their
// post-claim state (running, attempts incremented, lock fields stamped).
// It returns fewer than limit - possibly none - when the queue is short or
// other workers win the races.
func (c *Claimer) ClaimNextJobs(limit int, now time.Time) ([]*JobRun, error) {
	staleBefore := now.Add(-StaleLockThreshold)

	candidates, err := c.store.SelectEligible(limit, now, staleBefore)
	if err != nil {
		return nil, err
	}

	var claimed []*JobRun
	for _, candidate := range candidates {
		ok, err := c.store.ClaimJob(candidate.ID, c.runnerID, now, staleBefore)
		if err != nil {
			return claimed, err
		}
		if !ok {
			c.logger.Debugw("lost claim race", "job_id", candidate.ID, "runner_id", c.runnerID)
			continue
		}

		job, err := c.store.GetJob(candidate.ID)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, job)

		if c.logs != nil {
			if logErr := c.logs.Append(job.ID, LogLevelInfo, "claimed by "+c.runnerID, nil, now); logErr != nil {
				c.logger.Warnw("failed to append job log", "job_id", job.ID, "error", logErr)
			}
		}
		if c.events != nil {
			c.events.Publish(Event{Type: EventClaimed, JobID: job.ID, JobType: job.JobType, Status: job.Status, At: now})
		}

		c.logger.Debugw("job claimed",
			"job_id", job.ID,
			"job_type", job.JobType,
			"attempt", job.Attempts,
			"runner_id", c.runnerID)
	}

	return claimed, nil
}
