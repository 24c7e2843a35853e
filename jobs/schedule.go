package jobs

import (
	"encoding/json"
	"time"
)

// CadenceType is the recurrence rule family of a schedule.
type CadenceType string

const (
	CadenceInterval CadenceType = "interval"
	CadenceDaily    CadenceType = "daily"
	CadenceWeekly   CadenceType = "weekly"
	CadenceMonthly  CadenceType = "monthly"
)

// IsValidCadence returns true if the string is a known cadence type.
func IsValidCadence(s string) bool {
	switch CadenceType(s) {
	case CadenceInterval, CadenceDaily, CadenceWeekly, CadenceMonthly:
		return true
	default:
		return false
	}
}

// JobSchedule is a recurring job definition. The scheduler reads due rows
// (is_enabled and next_run_at <= now) and enqueues a JobRun per occurrence.
//
// Only the cadence fields relevant to CadenceType are meaningful:
// interval uses IntervalMinutes; daily uses Hour/Minute; weekly adds
// DayOfWeek (0=Sunday); monthly adds DayOfMonth (clamped to month length).
type JobSchedule struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	JobType     string `json:"job_type"`

	PayloadTemplate json.RawMessage `json:"payload_template,omitempty"`

	CadenceType     CadenceType `json:"cadence_type"`
	IntervalMinutes int         `json:"interval_minutes,omitempty"`
	DayOfWeek       int         `json:"day_of_week,omitempty"`
	DayOfMonth      int         `json:"day_of_month,omitempty"`
	Hour            int         `json:"hour,omitempty"`
	Minute          int         `json:"minute,omitempty"`

	IsEnabled           bool       `json:"is_enabled"`
	NextRunAt           *time.Time `json:"next_run_at,omitempty"`
	LastEnqueuedAt      *time.Time `json:"last_enqueued_at,omitempty"`
	LastRunJobID        string     `json:"last_run_job_id,omitempty"`
	DedupeWindowMinutes int        `json:"dedupe_window_minutes,omitempty"`

	// Passed through to jobs enqueued from this schedule.
	Priority       int `json:"priority,omitempty"`
	MaxAttempts    int `json:"max_attempts,omitempty"`
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
