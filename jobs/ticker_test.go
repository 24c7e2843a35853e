package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeckhq/opsdeck/internal/util"
)

func newTestTicker(env *testEnv, cfg TickerConfig) *Ticker {
	scheduler := NewScheduler(env.store, env.enqueuer, env.logger, 100)
	recovery := NewRecovery(env.store, env.logs, env.events, env.logger)
	return NewTicker(env.store, scheduler, recovery, env.logs, cfg, env.logger)
}

func TestTickerSingleTickDoesMaintenance(t *testing.T) {
	env := newTestEnv(t)

	// A due schedule, a stale running job and an expired terminal row:
	// one tick should handle all three.
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

	stale := makeRunningJob("invoice.send", 1, 3, baseTime.Add(-time.Hour), "dead-worker")
	require.NoError(t, env.store.CreateJob(stale))

	expired := makeQueuedJob("report.generate", DefaultPriority, baseTime.Add(-60*24*time.Hour))
	expired.markSucceeded(nil, baseTime.Add(-60*24*time.Hour))
	require.NoError(t, env.store.CreateJob(expired))
	require.NoError(t, env.logs.Append(expired.ID, LogLevelInfo, "enqueued", nil, baseTime.Add(-60*24*time.Hour)))

	ticker := newTestTicker(env, TickerConfig{
		Interval:         15 * time.Second,
		RecoveryInterval: 5 * time.Minute,
		StaleAfter:       StaleLockThreshold,
		RetentionPeriod:  30 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	})
	ticker.tick(baseTime)

	// Schedule fired.
	jobs, err := env.store.ListJobs(nil, "crm.sync", 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	// Stale job requeued.
	recovered, err := env.store.GetJob(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, recovered.Status)

	// Expired terminal row and its logs pruned.
	_, err = env.store.GetJob(expired.ID)
	assert.Error(t, err)
	entries, err := env.logs.List(expired.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTickerHonorsRecoveryInterval(t *testing.T) {
	env := newTestEnv(t)
	ticker := newTestTicker(env, TickerConfig{
		Interval:         time.Second,
		RecoveryInterval: 5 * time.Minute,
		StaleAfter:       StaleLockThreshold,
	})

	// First tick runs recovery (nothing recorded before it).
	ticker.tick(baseTime)

	stale := makeRunningJob("invoice.send", 1, 3, baseTime.Add(-time.Hour), "dead-worker")
	require.NoError(t, env.store.CreateJob(stale))

	// One second later: recovery interval has not elapsed, job untouched.
	ticker.tick(baseTime.Add(time.Second))
	got, err := env.store.GetJob(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)

	// Past the interval the sweep runs.
	ticker.tick(baseTime.Add(6 * time.Minute))
	got, err = env.store.GetJob(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
}

func TestTickerStartStop(t *testing.T) {
	env := newTestEnv(t)
	ticker := newTestTicker(env, TickerConfig{Interval: 10 * time.Millisecond})

	ticker.Start()
	assert.Eventually(t, func() bool {
		_, ticks := ticker.LastTick()
		return ticks > 0
	}, 2*time.Second, 5*time.Millisecond)
	ticker.Stop()
}
