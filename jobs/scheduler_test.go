package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeckhq/opsdeck/internal/util"
)

func TestComputeNextRunAtInterval(t *testing.T) {
	s := &JobSchedule{CadenceType: CadenceInterval, IntervalMinutes: 5}
	next := ComputeNextRunAt(s, baseTime)
	require.NotNil(t, next)
	assert.True(t, next.Equal(baseTime.Add(5*time.Minute)))

	s.IntervalMinutes = 0
	assert.Nil(t, ComputeNextRunAt(s, baseTime))
}

func TestComputeNextRunAtDaily(t *testing.T) {
	s := &JobSchedule{CadenceType: CadenceDaily, Hour: 9, Minute: 0}

	// From 23:30, 09:00 has passed: roll to next day.
	from := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	next := ComputeNextRunAt(s, from)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), *next)

	// From 08:00, same day.
	from = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	next = ComputeNextRunAt(s, from)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), *next)

	// Exactly at 09:00: strictly after means tomorrow.
	from = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	next = ComputeNextRunAt(s, from)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), *next)
}

func TestComputeNextRunAtWeekly(t *testing.T) {
	// Monday 09:00, computed from a Saturday.
	s := &JobSchedule{CadenceType: CadenceWeekly, DayOfWeek: 1, Hour: 9, Minute: 0}
	saturday := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	require.Equal(t, time.Saturday, saturday.Weekday())

	next := ComputeNextRunAt(s, saturday)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC), *next)
	assert.Equal(t, time.Monday, next.Weekday())

	// Today matches but the time has passed: skip a week.
	monday := time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC)
	next = ComputeNextRunAt(s, monday)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2026, 3, 23, 9, 0, 0, 0, time.UTC), *next)

	// Today matches and the time is still ahead.
	mondayEarly := time.Date(2026, 3, 16, 8, 0, 0, 0, time.UTC)
	next = ComputeNextRunAt(s, mondayEarly)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC), *next)
}

func TestComputeNextRunAtMonthlyClamping(t *testing.T) {
	s := &JobSchedule{CadenceType: CadenceMonthly, DayOfMonth: 31, Hour: 9, Minute: 0}

	// February 2026 has 28 days: day 31 clamps to the 28th.
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	next := ComputeNextRunAt(s, from)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC), *next)

	// Leap year February clamps to the 29th.
	from = time.Date(2028, 2, 1, 0, 0, 0, 0, time.UTC)
	next = ComputeNextRunAt(s, from)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2028, 2, 29, 9, 0, 0, 0, time.UTC), *next)

	// Past this month's clamped instant: advance and re-clamp against the
	// next month's length.
	from = time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC)
	next = ComputeNextRunAt(s, from)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC), *next)

	// December rollover into January.
	from = time.Date(2026, 12, 31, 10, 0, 0, 0, time.UTC)
	next = ComputeNextRunAt(s, from)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2027, 1, 31, 9, 0, 0, 0, time.UTC), *next)
}

func TestScheduleDedupeKeyBuckets(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 23, 45, 0, time.UTC)

	interval := &JobSchedule{Key: "crm-sync", CadenceType: CadenceInterval, IntervalMinutes: 5}
	assert.Equal(t, "schedule:crm-sync:2026-03-10T14:23", scheduleDedupeKey(interval, now))

	daily := &JobSchedule{Key: "daily-digest", CadenceType: CadenceDaily}
	assert.Equal(t, "schedule:daily-digest:2026-03-10T14", scheduleDedupeKey(daily, now))
}

func TestValidateSchedule(t *testing.T) {
	valid := &JobSchedule{Key: "k", JobType: "t", CadenceType: CadenceInterval, IntervalMinutes: 5}
	assert.NoError(t, ValidateSchedule(valid))

	cases := []*JobSchedule{
		{JobType: "t", CadenceType: CadenceInterval, IntervalMinutes: 5},
		{Key: "k", CadenceType: CadenceInterval, IntervalMinutes: 5},
		{Key: "k", JobType: "t", CadenceType: "hourly"},
		{Key: "k", JobType: "t", CadenceType: CadenceInterval},
		{Key: "k", JobType: "t", CadenceType: CadenceDaily, Hour: 24},
		{Key: "k", JobType: "t", CadenceType: CadenceDaily, Minute: 60},
		{Key: "k", JobType: "t", CadenceType: CadenceWeekly, DayOfWeek: 7},
		{Key: "k", JobType: "t", CadenceType: CadenceMonthly, DayOfMonth: 0},
		{Key: "k", JobType: "t", CadenceType: CadenceMonthly, DayOfMonth: 32},
	}
	for i, s := range cases {
		assert.Error(t, ValidateSchedule(s), "case %d", i)
	}
}

func TestEnqueueDueSchedulesDedupeWithinBucket(t *testing.T) {
	env := newTestEnv(t)
	scheduler := NewScheduler(env.store, env.enqueuer, env.logger, 100)

	require.NoError(t, env.store.CreateSchedule(&JobSchedule{
		Key:             "crm-sync",
		Title:           "CRM sync",
		JobType:         "crm.sync",
		CadenceType:     CadenceInterval,
		IntervalMinutes: 5,
		IsEnabled:       true,
		NextRunAt:       util.Ptr(baseTime.Add(-time.Minute)),
		CreatedAt:       baseTime,
		UpdatedAt:       baseTime,
	}))

	stats, err := scheduler.EnqueueDueSchedules(baseTime)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DueSchedules)
	assert.Equal(t, 1, stats.JobsEnqueued)
	require.Len(t, stats.JobIDs, 1)

	// next_run_at advanced from now, so force it due again to simulate a
	// second sweep within the same minute bucket.
	sched, err := env.store.GetSchedule("crm-sync")
	require.NoError(t, err)
	require.NotNil(t, sched.NextRunAt)
	assert.True(t, sched.NextRunAt.Equal(baseTime.Add(5*time.Minute)))
	sched.NextRunAt = util.Ptr(baseTime.Add(-time.Second))
	require.NoError(t, env.store.UpdateSchedule(sched))

	again, err := scheduler.EnqueueDueSchedules(baseTime.Add(10 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, again.DueSchedules)
	assert.Equal(t, 0, again.JobsEnqueued)
	assert.Equal(t, 1, again.Deduplicated)

	// Exactly one job exists for the schedule.
	rows, err := env.store.ListJobs(nil, "crm.sync", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestEnqueueDueSchedulesStampsProvenance(t *testing.T) {
	env := newTestEnv(t)
	scheduler := NewScheduler(env.store, env.enqueuer, env.logger, 100)

	require.NoError(t, env.store.CreateSchedule(&JobSchedule{
		Key:         "weekly-report",
		Title:       "Weekly report",
		JobType:     "report.generate",
		CadenceType: CadenceWeekly,
		DayOfWeek:   1,
		Hour:        9,
		IsEnabled:   true,
		NextRunAt:   util.Ptr(baseTime.Add(-time.Minute)),
		Priority:    20,
		MaxAttempts: 5,
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime,
	}))

	stats, err := scheduler.EnqueueDueSchedules(baseTime)
	require.NoError(t, err)
	require.Len(t, stats.JobIDs, 1)

	job, err := env.store.GetJob(stats.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "schedule", job.SourceType)
	assert.Equal(t, "weekly-report", job.SourceID)
	assert.Equal(t, 20, job.Priority)
	assert.Equal(t, 5, job.MaxAttempts)

	sched, err := env.store.GetSchedule("weekly-report")
	require.NoError(t, err)
	assert.Equal(t, job.ID, sched.LastRunJobID)
	require.NotNil(t, sched.LastEnqueuedAt)
	assert.True(t, sched.LastEnqueuedAt.Equal(baseTime))
}

func TestEnqueueDueSchedulesAlwaysAdvancesFromNow(t *testing.T) {
	env := newTestEnv(t)
	scheduler := NewScheduler(env.store, env.enqueuer, env.logger, 100)

	// next_run_at three hours in the past; after the sweep it must sit
	// relative to now, not to the missed slot.
	require.NoError(t, env.store.CreateSchedule(&JobSchedule{
		Key:             "crm-sync",
		Title:           "CRM sync",
		JobType:         "crm.sync",
		CadenceType:     CadenceInterval,
		IntervalMinutes: 5,
		IsEnabled:       true,
		NextRunAt:       util.Ptr(baseTime.Add(-3 * time.Hour)),
		CreatedAt:       baseTime,
		UpdatedAt:       baseTime,
	}))

	_, err := scheduler.EnqueueDueSchedules(baseTime)
	require.NoError(t, err)

	sched, err := env.store.GetSchedule("crm-sync")
	require.NoError(t, err)
	require.NotNil(t, sched.NextRunAt)
	assert.True(t, sched.NextRunAt.Equal(baseTime.Add(5*time.Minute)))

	// One occurrence fired for three hours of missed slots.
	rows, err := env.store.ListJobs(nil, "crm.sync", 100)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSeedSchedule(t *testing.T) {
	env := newTestEnv(t)

	sched := &JobSchedule{
		Key:         "daily-digest",
		Title:       "Daily digest",
		JobType:     "email.digest",
		CadenceType: CadenceDaily,
		Hour:        7,
		IsEnabled:   true,
	}
	require.NoError(t, SeedSchedule(env.store, sched, baseTime))

	got, err := env.store.GetSchedule("daily-digest")
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	// 12:00 on baseTime's day is past 07:00, so the first run is tomorrow.
	assert.Equal(t, time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC), got.NextRunAt.UTC())

	// Re-seeding leaves operator edits alone.
	got.Hour = 8
	got.UpdatedAt = baseTime.Add(time.Minute)
	require.NoError(t, env.store.UpdateSchedule(got))

	require.NoError(t, SeedSchedule(env.store, &JobSchedule{
		Key:         "daily-digest",
		Title:       "Daily digest",
		JobType:     "email.digest",
		CadenceType: CadenceDaily,
		Hour:        7,
		IsEnabled:   true,
	}, baseTime.Add(time.Hour)))

	kept, err := env.store.GetSchedule("daily-digest")
	require.NoError(t, err)
	assert.Equal(t, 8, kept.Hour)

	// Invalid cadence is rejected up front.
	err = SeedSchedule(env.store, &JobSchedule{
		Key:         "busted",
		JobType:     "email.digest",
		CadenceType: CadenceInterval,
	}, baseTime)
	assert.Error(t, err)
}
