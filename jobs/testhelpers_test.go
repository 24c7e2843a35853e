package jobs

import (
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	opsdecktest "github.com/opsdeckhq/opsdeck/internal/testing"
)

// testEnv wires the queue core against an in-memory database.
type testEnv struct {
	store    *SQLStore
	logs     *JobLogStore
	events   *Notifier
	enqueuer *Enqueuer
	logger   *zap.SugaredLogger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn := opsdecktest.CreateTestDB(t)
	logger := zap.NewNop().Sugar()
	store := NewSQLStore(conn)
	logs := NewJobLogStore(conn)
	events := NewNotifier()
	return &testEnv{
		store:    store,
		logs:     logs,
		events:   events,
		enqueuer: NewEnqueuer(store, logs, events, logger),
		logger:   logger,
	}
}

func (env *testEnv) claimer(runnerID string) *Claimer {
	return NewClaimer(env.store, env.logs, env.events, env.logger, runnerID)
}

func (env *testEnv) runner(registry *Registry, defaultTimeout time.Duration) *Runner {
	return NewRunner(env.store, registry, env.logs, env.events, env.logger, defaultTimeout)
}

// baseTime is an arbitrary fixed instant; tests advance from here instead
// of sleeping.
var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
