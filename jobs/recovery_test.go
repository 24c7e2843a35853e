package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeckhq/opsdeck/internal/util"
)

func makeRunningJob(jobType string, attempts, maxAttempts int, lockedAt time.Time, owner string) *JobRun {
	return &JobRun{
		ID:          NewJobID(),
		JobType:     jobType,
		Status:      StatusRunning,
		Priority:    DefaultPriority,
		RunAfter:    lockedAt,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		LockedAt:    util.Ptr(lockedAt),
		LockOwner:   owner,
		HeartbeatAt: util.Ptr(lockedAt),
		StartedAt:   util.Ptr(lockedAt),
		CreatedAt:   lockedAt,
		UpdatedAt:   lockedAt,
	}
}

func TestRecoveryRequeuesStaleJob(t *testing.T) {
	env := newTestEnv(t)
	recovery := NewRecovery(env.store, env.logs, env.events, env.logger)

	stale := makeRunningJob("invoice.send", 1, 3, baseTime.Add(-time.Hour), "dead-worker")
	require.NoError(t, env.store.CreateJob(stale))

	stats, err := recovery.RecoverStaleRunningJobs(StaleLockThreshold, baseTime)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Examined)
	assert.Equal(t, 1, stats.Requeued)
	assert.Equal(t, 0, stats.DeadLettered)

	got, err := env.store.GetJob(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	// Backoff computed from the attempt already burned.
	assert.True(t, got.RunAfter.Equal(baseTime.Add(30*time.Second)))
	assert.Nil(t, got.LockedAt)
	assert.Empty(t, got.LockOwner)
	assert.Equal(t, ErrCodeStaleLock, got.ErrorCode)
	// The burned attempt stays counted.
	assert.Equal(t, 1, got.Attempts)
}

func TestRecoveryDeadLettersExhaustedJob(t *testing.T) {
	env := newTestEnv(t)
	recovery := NewRecovery(env.store, env.logs, env.events, env.logger)

	exhausted := makeRunningJob("invoice.send", 3, 3, baseTime.Add(-time.Hour), "dead-worker")
	require.NoError(t, env.store.CreateJob(exhausted))

	stats, err := recovery.RecoverStaleRunningJobs(StaleLockThreshold, baseTime)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeadLettered)
	assert.Equal(t, 0, stats.Requeued)

	got, err := env.store.GetJob(exhausted.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeadLetter, got.Status)
	require.NotNil(t, got.DeadLetteredAt)
	assert.Nil(t, got.LockedAt)
}

func TestRecoveryLeavesFreshLocksAlone(t *testing.T) {
	env := newTestEnv(t)
	recovery := NewRecovery(env.store, env.logs, env.events, env.logger)

	fresh := makeRunningJob("invoice.send", 1, 3, baseTime.Add(-time.Minute), "live-worker")
	require.NoError(t, env.store.CreateJob(fresh))

	stats, err := recovery.RecoverStaleRunningJobs(StaleLockThreshold, baseTime)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Examined)

	got, err := env.store.GetJob(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, "live-worker", got.LockOwner)
}

func TestRecoveryUsesStartedAtWhenLockMissing(t *testing.T) {
	env := newTestEnv(t)
	recovery := NewRecovery(env.store, env.logs, env.events, env.logger)

	job := makeRunningJob("invoice.send", 1, 3, baseTime.Add(-time.Hour), "dead-worker")
	job.LockedAt = nil
	require.NoError(t, env.store.CreateJob(job))

	stats, err := recovery.RecoverStaleRunningJobs(StaleLockThreshold, baseTime)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Requeued)
}

func TestRequeueIfStillStaleRecheck(t *testing.T) {
	env := newTestEnv(t)

	// A worker heartbeated after the sweep's read: the conditional update
	// must leave the row alone.
	job := makeRunningJob("invoice.send", 1, 3, baseTime.Add(-time.Minute), "live-worker")
	require.NoError(t, env.store.CreateJob(job))

	staleBefore := baseTime.Add(-StaleLockThreshold)
	ok, err := env.store.RequeueIfStillStale(job.ID, staleBefore, baseTime.Add(30*time.Second), "lock expired", ErrCodeStaleLock, baseTime)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := env.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, "live-worker", got.LockOwner)
}
