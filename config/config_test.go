package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "opsdeck.db", cfg.Database.Path)
	assert.Equal(t, 1, cfg.Jobs.Workers)
	assert.Equal(t, 5*time.Second, cfg.Jobs.PollInterval)
	assert.Equal(t, 5, cfg.Jobs.ClaimBatchSize)
	assert.Equal(t, 15*time.Second, cfg.Jobs.SchedulerInterval)
	assert.Equal(t, 5*time.Minute, cfg.Jobs.RecoveryInterval)
	assert.Equal(t, 10, cfg.Jobs.StaleLockMinutes)
	assert.Equal(t, 120, cfg.Jobs.DefaultTimeoutSecs)
	assert.Equal(t, 30, cfg.Jobs.RetentionDays)
	assert.False(t, cfg.Log.JSON)
}

func TestLoadIsCached(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	first, err := Load()
	require.NoError(t, err)
	second, err := Load()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opsdeck.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
path = "/var/lib/opsdeck/opsdeck.db"

[jobs]
workers = 4
poll_interval = "2s"
retention_days = 7

[log]
json = true
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/opsdeck/opsdeck.db", cfg.Database.Path)
	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.Equal(t, 2*time.Second, cfg.Jobs.PollInterval)
	assert.Equal(t, 7, cfg.Jobs.RetentionDays)
	assert.True(t, cfg.Log.JSON)

	// Unspecified keys keep their defaults.
	assert.Equal(t, 5, cfg.Jobs.ClaimBatchSize)
	assert.Equal(t, 120, cfg.Jobs.DefaultTimeoutSecs)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
