package jobs

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolProcessesJobs(t *testing.T) {
	env := newTestEnv(t)

	var processed atomic.Int32
	registry := NewRegistry()
	registry.RegisterFunc("invoice.send", func(ctx context.Context, job *JobRun) (json.RawMessage, error) {
		processed.Add(1)
		return nil, nil
	})

	const jobCount = 6
	ids := make([]string, 0, jobCount)
	for i := 0; i < jobCount; i++ {
		result, err := env.enqueuer.Enqueue(EnqueueOptions{JobType: "invoice.send"}, time.Now())
		require.NoError(t, err)
		ids = append(ids, result.Job.ID)
	}

	pool := NewWorkerPool(env.store, registry, env.logs, env.events, WorkerPoolConfig{
		Workers:        2,
		PollInterval:   20 * time.Millisecond,
		ClaimBatchSize: 2,
	}, env.logger)
	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return processed.Load() == jobCount
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		counts, err := env.store.CountJobsByStatus()
		return err == nil && counts[StatusSucceeded] == jobCount
	}, 5*time.Second, 10*time.Millisecond)

	// Each job ran exactly once despite two competing loops.
	assert.Equal(t, int32(jobCount), processed.Load())
	for _, id := range ids {
		job, err := env.store.GetJob(id)
		require.NoError(t, err)
		assert.Equal(t, 1, job.Attempts, "job %s", id)
	}
}

func TestWorkerPoolStopIsGraceful(t *testing.T) {
	env := newTestEnv(t)

	registry := NewRegistry()
	registry.RegisterFunc("noop", func(ctx context.Context, job *JobRun) (json.RawMessage, error) {
		return nil, nil
	})

	pool := NewWorkerPool(env.store, registry, env.logs, env.events, WorkerPoolConfig{
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
		StopTimeout:  time.Second,
	}, env.logger)

	pool.Start()
	time.Sleep(50 * time.Millisecond)
	pool.Stop()

	// Restart after stop works on a fresh context.
	pool.Start()
	pool.Stop()
}
