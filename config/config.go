// Package config loads opsdeck configuration from TOML files and
// OPSDECK_-prefixed environment variables via Viper.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opsdeckhq/opsdeck/errors"
)

var globalConfig *Config
var viperInstance *viper.Viper

// Config is the opsdeck runtime configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// JobsConfig holds worker pool and scheduler settings.
type JobsConfig struct {
	Workers              int           `mapstructure:"workers"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	ClaimBatchSize       int           `mapstructure:"claim_batch_size"`
	SchedulerInterval    time.Duration `mapstructure:"scheduler_interval"`
	RecoveryInterval     time.Duration `mapstructure:"recovery_interval"`
	StaleLockMinutes     int           `mapstructure:"stale_lock_minutes"`
	DefaultTimeoutSecs   int           `mapstructure:"default_timeout_seconds"`
	ScheduleBatchSize    int           `mapstructure:"schedule_batch_size"`
	RetentionDays        int           `mapstructure:"retention_days"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// Load reads the opsdeck configuration using Viper.
// The result is cached; call Reset() to force a reload (tests).
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	globalConfig = &cfg
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}

	return &cfg, nil
}

// GetViper returns the Viper instance for advanced configuration access.
func GetViper() *viper.Viper {
	return initViper()
}

// Reset clears the cached configuration (useful for testing).
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// initViper initializes Viper with configuration sources and defaults.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("OPSDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	v.SetConfigName("opsdeck")
	v.SetConfigType("toml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "opsdeck"))
	}
	v.AddConfigPath(".")

	// Missing config file is fine - defaults plus env cover everything
	_ = v.ReadInConfig()

	viperInstance = v
	return v
}
