package jobs

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opsdeckhq/opsdeck/errors"
)

// ValidateSchedule checks that a schedule's cadence fields are coherent.
func ValidateSchedule(s *JobSchedule) error {
	if s.Key == "" {
		return errors.NewInvalidRequestError("schedule key is required")
	}
	if s.JobType == "" {
		return errors.NewInvalidRequestError("schedule job type is required")
	}
	if !IsValidCadence(string(s.CadenceType)) {
		return errors.NewInvalidRequestError("unknown cadence type %q", s.CadenceType)
	}
	if s.CadenceType == CadenceInterval {
		if s.IntervalMinutes < 1 {
			return errors.NewInvalidRequestError("interval cadence requires interval_minutes >= 1")
		}
		return nil
	}
	if s.Hour < 0 || s.Hour > 23 {
		return errors.NewInvalidRequestError("hour must be in [0, 23]")
	}
	if s.Minute < 0 || s.Minute > 59 {
		return errors.NewInvalidRequestError("minute must be in [0, 59]")
	}
	if s.CadenceType == CadenceWeekly && (s.DayOfWeek < 0 || s.DayOfWeek > 6) {
		return errors.NewInvalidRequestError("day_of_week must be in [0, 6] (0=Sunday)")
	}
	if s.CadenceType == CadenceMonthly && (s.DayOfMonth < 1 || s.DayOfMonth > 31) {
		return errors.NewInvalidRequestError("day_of_month must be in [1, 31]")
	}
	return nil
}

// ComputeNextRunAt returns the first occurrence of a schedule's cadence
// strictly after from, in UTC. Nil means the cadence configuration cannot
// produce a next occurrence and the schedule goes dormant.
//
// Monthly cadences clamp day_of_month to the target month's actual length,
// so a day-31 schedule fires on Feb 28 (29 in leap years), Apr 30, and so
// on, instead of skipping short months.
func ComputeNextRunAt(s *JobSchedule, from time.Time) *time.Time {
	from = from.UTC()

	switch s.CadenceType {
	case CadenceInterval:
		if s.IntervalMinutes < 1 {
			return nil
		}
		next := from.Add(time.Duration(s.IntervalMinutes) * time.Minute)
		return &next

	case CadenceDaily:
		next := time.Date(from.Year(), from.Month(), from.Day(), s.Hour, s.Minute, 0, 0, time.UTC)
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return &next

	case CadenceWeekly:
		next := time.Date(from.Year(), from.Month(), from.Day(), s.Hour, s.Minute, 0, 0, time.UTC)
		daysAhead := (s.DayOfWeek - int(from.Weekday()) + 7) % 7
		next = next.AddDate(0, 0, daysAhead)
		if !next.After(from) {
			next = next.AddDate(0, 0, 7)
		}
		return &next

	case CadenceMonthly:
		next := monthlyOccurrence(from.Year(), from.Month(), s.DayOfMonth, s.Hour, s.Minute)
		if !next.After(from) {
			year, month := from.Year(), from.Month()+1
			next = monthlyOccurrence(year, month, s.DayOfMonth, s.Hour, s.Minute)
		}
		return &next

	default:
		return nil
	}
}

// monthlyOccurrence builds the instant for day/hour/minute within a month,
// clamping day to the month's last day. time.Date normalizes month
// overflow, so passing month 13 lands in January of the next year.
func monthlyOccurrence(year int, month time.Month, day, hour, minute int) time.Time {
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

// scheduleDedupeKey builds the time-bucketed dedupe key that makes the due
// sweep idempotent within a bucket: minute granularity for interval
// cadences, hour granularity for calendar cadences.
func scheduleDedupeKey(s *JobSchedule, now time.Time) string {
	layout := "2006-01-02T15"
	if s.CadenceType == CadenceInterval {
		layout = "2006-01-02T15:04"
	}
	return fmt.Sprintf("schedule:%s:%s", s.Key, now.UTC().Format(layout))
}

// SchedulerStats reports one due-sweep pass.
type SchedulerStats struct {
	DueSchedules int
	JobsEnqueued int
	Deduplicated int
	JobIDs       []string
}

// Scheduler turns due recurring definitions into queued job runs.
type Scheduler struct {
	store     Store
	enqueuer  *Enqueuer
	logger    *zap.SugaredLogger
	batchSize int
}

// NewScheduler creates a scheduler. batchSize caps how many due schedules
// one sweep processes.
func NewScheduler(store Store, enqueuer *Enqueuer, logger *zap.SugaredLogger, batchSize int) *Scheduler {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Scheduler{store: store, enqueuer: enqueuer, logger: logger, batchSize: batchSize}
}

// EnqueueDueSchedules enqueues one job per due schedule and advances each
// schedule's next_run_at.
//
// next_run_at is always recomputed from now rather than from the previous
// value, so a sweep that was down for hours fires each schedule once and
// moves on instead of replaying every missed occurrence. The bucketed
// dedupe key makes a second sweep within the same bucket a no-op.
func (sc *Scheduler) EnqueueDueSchedules(now time.Time) (SchedulerStats, error) {
	var stats SchedulerStats

	due, err := sc.store.ListDueSchedules(now, sc.batchSize)
	if err != nil {
		return stats, err
	}
	stats.DueSchedules = len(due)

	for _, sched := range due {
		result, err := sc.enqueuer.Enqueue(EnqueueOptions{
			JobType:        sched.JobType,
			Payload:        sched.PayloadTemplate,
			Priority:       sched.Priority,
			MaxAttempts:    sched.MaxAttempts,
			TimeoutSeconds: sched.TimeoutSeconds,
			DedupeKey:      scheduleDedupeKey(sched, now),
			SourceType:     "schedule",
			SourceID:       sched.Key,
		}, now)
		if err != nil {
			return stats, errors.Wrapf(err, "failed to enqueue for schedule %s", sched.Key)
		}

		if result.Deduplicated {
			stats.Deduplicated++
		} else {
			stats.JobsEnqueued++
			stats.JobIDs = append(stats.JobIDs, result.Job.ID)
			sched.LastEnqueuedAt = &now
			sched.LastRunJobID = result.Job.ID
		}

		next := ComputeNextRunAt(sched, now)
		if next == nil {
			sc.logger.Warnw("schedule has no next occurrence, going dormant",
				"schedule", sched.Key, "cadence", sched.CadenceType)
		}
		sched.NextRunAt = next
		sched.UpdatedAt = now
		if err := sc.store.UpdateSchedule(sched); err != nil {
			return stats, errors.Wrapf(err, "failed to advance schedule %s", sched.Key)
		}

		sc.logger.Debugw("schedule swept",
			"schedule", sched.Key,
			"enqueued", !result.Deduplicated,
			"next_run_at", next)
	}

	return stats, nil
}

// SeedSchedule inserts a schedule definition if no row with its key exists
// yet, computing the initial next_run_at. Existing rows are left untouched
// so operator edits survive restarts.
func SeedSchedule(store Store, s *JobSchedule, now time.Time) error {
	if err := ValidateSchedule(s); err != nil {
		return err
	}

	if _, err := store.GetSchedule(s.Key); err == nil {
		return nil
	} else if !errors.IsNotFoundError(err) {
		return err
	}

	s.NextRunAt = ComputeNextRunAt(s, now)
	s.CreatedAt = now
	s.UpdatedAt = now
	if err := store.CreateSchedule(s); err != nil {
		if errors.IsConflictError(err) {
			// Another process seeded it first.
			return nil
		}
		return err
	}
	return nil
}
