package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults applies the default opsdeck configuration to a Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "opsdeck.db")

	v.SetDefault("jobs.workers", 1)
	v.SetDefault("jobs.poll_interval", 5*time.Second)
	v.SetDefault("jobs.claim_batch_size", 5)
	v.SetDefault("jobs.scheduler_interval", 15*time.Second)
	v.SetDefault("jobs.recovery_interval", 5*time.Minute)
	v.SetDefault("jobs.stale_lock_minutes", 10)
	v.SetDefault("jobs.default_timeout_seconds", 120)
	v.SetDefault("jobs.schedule_batch_size", 100)
	v.SetDefault("jobs.retention_days", 30)

	v.SetDefault("log.json", false)
}
