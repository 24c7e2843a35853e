package jobs

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/opsdeckhq/opsdeck/errors"
)

// sqliteTimeLayout is fixed-width UTC so lexicographic comparison of stored
// strings matches chronological order. Every timestamp written by SQLStore
// uses this layout; SQL range predicates (run_after <= now, locked_at <
// stale cutoff) depend on it.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

// jobScanArgs holds the intermediate variables needed to scan a job run row.
type jobScanArgs struct {
	RunAfter  string
	CreatedAt string
	UpdatedAt string

	TimeoutSeconds sql.NullInt64

	LockedAt    sql.NullString
	LockOwner   sql.NullString
	HeartbeatAt sql.NullString
	StartedAt   sql.NullString

	LastErrorAt  sql.NullString
	ErrorMessage sql.NullString
	ErrorCode    sql.NullString

	FinishedAt        sql.NullString
	ResultJSON        sql.NullString
	DeadLetteredAt    sql.NullString
	CanceledAt        sql.NullString
	CancelRequestedAt sql.NullString

	DedupeKey      sql.NullString
	IdempotencyKey sql.NullString
	PayloadJSON    sql.NullString

	SourceType      sql.NullString
	SourceID        sql.NullString
	CreatedByUserID sql.NullString
}

// jobSelectColumns returns the standard column list for job run SELECTs,
// in the order expected by jobScanTargets.
func jobSelectColumns() string {
	return `id, job_type, status, priority, run_after,
		attempts, max_attempts, timeout_seconds,
		locked_at, lock_owner, heartbeat_at, started_at,
		last_error_at, error_message, error_code,
		finished_at, result_json, dead_lettered_at, canceled_at, cancel_requested_at,
		dedupe_key, idempotency_key, payload_json,
		source_type, source_id, created_by_user_id,
		created_at, updated_at`
}

func jobScanTargets(job *JobRun, args *jobScanArgs) []any {
	return []any{
		&job.ID,
		&job.JobType,
		&job.Status,
		&job.Priority,
		&args.RunAfter,
		&job.Attempts,
		&job.MaxAttempts,
		&args.TimeoutSeconds,
		&args.LockedAt,
		&args.LockOwner,
		&args.HeartbeatAt,
		&args.StartedAt,
		&args.LastErrorAt,
		&args.ErrorMessage,
		&args.ErrorCode,
		&args.FinishedAt,
		&args.ResultJSON,
		&args.DeadLetteredAt,
		&args.CanceledAt,
		&args.CancelRequestedAt,
		&args.DedupeKey,
		&args.IdempotencyKey,
		&args.PayloadJSON,
		&args.SourceType,
		&args.SourceID,
		&args.CreatedByUserID,
		&args.CreatedAt,
		&args.UpdatedAt,
	}
}

// processJobScanArgs populates the job struct from scanned intermediates.
func processJobScanArgs(job *JobRun, args *jobScanArgs) error {
	var err error
	if job.RunAfter, err = parseTime(args.RunAfter); err != nil {
		return errors.Wrapf(err, "failed to parse run_after for job %s", job.ID)
	}
	if job.CreatedAt, err = parseTime(args.CreatedAt); err != nil {
		return errors.Wrapf(err, "failed to parse created_at for job %s", job.ID)
	}
	if job.UpdatedAt, err = parseTime(args.UpdatedAt); err != nil {
		return errors.Wrapf(err, "failed to parse updated_at for job %s", job.ID)
	}

	if args.TimeoutSeconds.Valid {
		job.TimeoutSeconds = int(args.TimeoutSeconds.Int64)
	}

	timePtrs := []struct {
		src sql.NullString
		dst **time.Time
	}{
		{args.LockedAt, &job.LockedAt},
		{args.HeartbeatAt, &job.HeartbeatAt},
		{args.StartedAt, &job.StartedAt},
		{args.LastErrorAt, &job.LastErrorAt},
		{args.FinishedAt, &job.FinishedAt},
		{args.DeadLetteredAt, &job.DeadLetteredAt},
		{args.CanceledAt, &job.CanceledAt},
		{args.CancelRequestedAt, &job.CancelRequestedAt},
	}
	for _, p := range timePtrs {
		t, err := parseTimePtr(p.src)
		if err != nil {
			return errors.Wrapf(err, "failed to parse timestamp for job %s", job.ID)
		}
		*p.dst = t
	}

	job.LockOwner = args.LockOwner.String
	job.ErrorMessage = args.ErrorMessage.String
	job.ErrorCode = args.ErrorCode.String
	job.DedupeKey = args.DedupeKey.String
	job.IdempotencyKey = args.IdempotencyKey.String
	job.SourceType = args.SourceType.String
	job.SourceID = args.SourceID.String
	job.CreatedByUserID = args.CreatedByUserID.String

	if args.ResultJSON.Valid {
		job.ResultJSON = json.RawMessage(args.ResultJSON.String)
	}
	if args.PayloadJSON.Valid {
		job.PayloadJSON = json.RawMessage(args.PayloadJSON.String)
	}

	return nil
}

func scanJobFromRow(row *sql.Row) (*JobRun, error) {
	var job JobRun
	args := &jobScanArgs{}
	if err := row.Scan(jobScanTargets(&job, args)...); err != nil {
		return nil, err
	}
	if err := processJobScanArgs(&job, args); err != nil {
		return nil, err
	}
	return &job, nil
}

func scanJobsFromRows(rows *sql.Rows, context string) ([]*JobRun, error) {
	var jobs []*JobRun
	for rows.Next() {
		var job JobRun
		args := &jobScanArgs{}
		if err := rows.Scan(jobScanTargets(&job, args)...); err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s row", context)
		}
		if err := processJobScanArgs(&job, args); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}
	return jobs, nil
}

// scheduleScanArgs holds the intermediates for scanning a schedule row.
type scheduleScanArgs struct {
	Title           string
	Description     string
	PayloadTemplate sql.NullString

	IntervalMinutes sql.NullInt64
	DayOfWeek       sql.NullInt64
	DayOfMonth      sql.NullInt64
	Hour            sql.NullInt64
	Minute          sql.NullInt64

	NextRunAt           sql.NullString
	LastEnqueuedAt      sql.NullString
	LastRunJobID        sql.NullString
	DedupeWindowMinutes sql.NullInt64

	Priority       sql.NullInt64
	MaxAttempts    sql.NullInt64
	TimeoutSeconds sql.NullInt64

	CreatedAt string
	UpdatedAt string
}

func scheduleSelectColumns() string {
	return `key, title, description, job_type, payload_template,
		cadence_type, interval_minutes, day_of_week, day_of_month, hour, minute,
		is_enabled, next_run_at, last_enqueued_at, last_run_job_id, dedupe_window_minutes,
		priority, max_attempts, timeout_seconds,
		created_at, updated_at`
}

func scheduleScanTargets(s *JobSchedule, args *scheduleScanArgs) []any {
	return []any{
		&s.Key,
		&args.Title,
		&args.Description,
		&s.JobType,
		&args.PayloadTemplate,
		&s.CadenceType,
		&args.IntervalMinutes,
		&args.DayOfWeek,
		&args.DayOfMonth,
		&args.Hour,
		&args.Minute,
		&s.IsEnabled,
		&args.NextRunAt,
		&args.LastEnqueuedAt,
		&args.LastRunJobID,
		&args.DedupeWindowMinutes,
		&args.Priority,
		&args.MaxAttempts,
		&args.TimeoutSeconds,
		&args.CreatedAt,
		&args.UpdatedAt,
	}
}

func processScheduleScanArgs(s *JobSchedule, args *scheduleScanArgs) error {
	s.Title = args.Title
	s.Description = args.Description
	if args.PayloadTemplate.Valid {
		s.PayloadTemplate = json.RawMessage(args.PayloadTemplate.String)
	}

	s.IntervalMinutes = int(args.IntervalMinutes.Int64)
	s.DayOfWeek = int(args.DayOfWeek.Int64)
	s.DayOfMonth = int(args.DayOfMonth.Int64)
	s.Hour = int(args.Hour.Int64)
	s.Minute = int(args.Minute.Int64)
	s.DedupeWindowMinutes = int(args.DedupeWindowMinutes.Int64)
	s.Priority = int(args.Priority.Int64)
	s.MaxAttempts = int(args.MaxAttempts.Int64)
	s.TimeoutSeconds = int(args.TimeoutSeconds.Int64)
	s.LastRunJobID = args.LastRunJobID.String

	var err error
	if s.NextRunAt, err = parseTimePtr(args.NextRunAt); err != nil {
		return errors.Wrapf(err, "failed to parse next_run_at for schedule %s", s.Key)
	}
	if s.LastEnqueuedAt, err = parseTimePtr(args.LastEnqueuedAt); err != nil {
		return errors.Wrapf(err, "failed to parse last_enqueued_at for schedule %s", s.Key)
	}
	if s.CreatedAt, err = parseTime(args.CreatedAt); err != nil {
		return errors.Wrapf(err, "failed to parse created_at for schedule %s", s.Key)
	}
	if s.UpdatedAt, err = parseTime(args.UpdatedAt); err != nil {
		return errors.Wrapf(err, "failed to parse updated_at for schedule %s", s.Key)
	}

	return nil
}

func scanScheduleFromRow(row *sql.Row) (*JobSchedule, error) {
	var s JobSchedule
	args := &scheduleScanArgs{}
	if err := row.Scan(scheduleScanTargets(&s, args)...); err != nil {
		return nil, err
	}
	if err := processScheduleScanArgs(&s, args); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanSchedulesFromRows(rows *sql.Rows, context string) ([]*JobSchedule, error) {
	var schedules []*JobSchedule
	for rows.Next() {
		var s JobSchedule
		args := &scheduleScanArgs{}
		if err := rows.Scan(scheduleScanTargets(&s, args)...); err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s row", context)
		}
		if err := processScheduleScanArgs(&s, args); err != nil {
			return nil, err
		}
		schedules = append(schedules, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}
	return schedules, nil
}
