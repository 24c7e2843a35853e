package jobs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDefaults(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.enqueuer.Enqueue(EnqueueOptions{JobType: "invoice.send"}, baseTime)
	require.NoError(t, err)
	require.False(t, result.Deduplicated)

	job := result.Job
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, DefaultPriority, job.Priority)
	assert.Equal(t, DefaultMaxAttempts, job.MaxAttempts)
	assert.Equal(t, 0, job.Attempts)
	assert.True(t, job.RunAfter.Equal(baseTime))

	// Persisted, not just returned.
	got, err := env.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
}

func TestEnqueueRequiresJobType(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.enqueuer.Enqueue(EnqueueOptions{}, baseTime)
	assert.Error(t, err)
}

func TestEnqueueSanitizesPayload(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.enqueuer.Enqueue(EnqueueOptions{
		JobType: "crm.sync",
		Payload: json.RawMessage(`{"account":"acct_1","api_key":"sk-live-1234"}`),
	}, baseTime)
	require.NoError(t, err)

	got, err := env.store.GetJob(result.Job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"account":"acct_1","api_key":"[redacted]"}`, string(got.PayloadJSON))
}

func TestEnqueueIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.enqueuer.Enqueue(EnqueueOptions{
		JobType:        "invoice.send",
		IdempotencyKey: "send-inv-42",
	}, baseTime)
	require.NoError(t, err)
	require.False(t, first.Deduplicated)

	second, err := env.enqueuer.Enqueue(EnqueueOptions{
		JobType:        "invoice.send",
		IdempotencyKey: "send-inv-42",
	}, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Job.ID, second.Job.ID)
}

func TestEnqueueIdempotencySurvivesTerminalState(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.enqueuer.Enqueue(EnqueueOptions{
		JobType:        "invoice.send",
		IdempotencyKey: "send-inv-42",
	}, baseTime)
	require.NoError(t, err)

	job, err := env.store.GetJob(first.Job.ID)
	require.NoError(t, err)
	job.markSucceeded(nil, baseTime.Add(time.Minute))
	require.NoError(t, env.store.UpdateJob(job))

	// Idempotency suppresses forever, even after the job finished.
	again, err := env.enqueuer.Enqueue(EnqueueOptions{
		JobType:        "invoice.send",
		IdempotencyKey: "send-inv-42",
	}, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, again.Deduplicated)
	assert.Equal(t, first.Job.ID, again.Job.ID)
}

func TestEnqueueDedupeKeyLiveness(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.enqueuer.Enqueue(EnqueueOptions{
		JobType:   "email.digest",
		DedupeKey: "digest:daily",
	}, baseTime)
	require.NoError(t, err)
	require.False(t, first.Deduplicated)

	// Duplicate while the original is still queued.
	dup, err := env.enqueuer.Enqueue(EnqueueOptions{
		JobType:   "email.digest",
		DedupeKey: "digest:daily",
	}, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, dup.Deduplicated)
	assert.Equal(t, first.Job.ID, dup.Job.ID)

	// Only one non-terminal row carries the key.
	queued := StatusQueued
	rows, err := env.store.ListJobs(&queued, "email.digest", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	// Once terminal, the key is free again.
	job, err := env.store.GetJob(first.Job.ID)
	require.NoError(t, err)
	job.markSucceeded(nil, baseTime.Add(2*time.Minute))
	require.NoError(t, env.store.UpdateJob(job))

	fresh, err := env.enqueuer.Enqueue(EnqueueOptions{
		JobType:   "email.digest",
		DedupeKey: "digest:daily",
	}, baseTime.Add(3*time.Minute))
	require.NoError(t, err)
	assert.False(t, fresh.Deduplicated)
	assert.NotEqual(t, first.Job.ID, fresh.Job.ID)
}

func TestEnqueueWritesAuditLog(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.enqueuer.Enqueue(EnqueueOptions{JobType: "invoice.send"}, baseTime)
	require.NoError(t, err)

	entries, err := env.logs.List(result.Job.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, LogLevelInfo, entries[0].Level)
	assert.Equal(t, "enqueued", entries[0].Message)
}

func TestEnqueuePublishesEvent(t *testing.T) {
	env := newTestEnv(t)

	ch, cancel := env.events.Subscribe()
	defer cancel()

	result, err := env.enqueuer.Enqueue(EnqueueOptions{JobType: "invoice.send"}, baseTime)
	require.NoError(t, err)

	select {
	case event := <-ch:
		assert.Equal(t, EventEnqueued, event.Type)
		assert.Equal(t, result.Job.ID, event.JobID)
	default:
		t.Fatal("expected an enqueued event")
	}
}
