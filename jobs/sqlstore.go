package jobs

import (
	"database/sql"

	"time"

	"github.com/opsdeckhq/opsdeck/errors"
)

// SQLStore implements Store on a SQLite database. Coordination between
// workers happens entirely through conditional UPDATEs here; RowsAffected
// is how a caller learns it lost a race.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store backed by the given database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) CreateJob(job *JobRun) error {
	query := `
		INSERT INTO job_runs (
			id, job_type, status, priority, run_after,
			attempts, max_attempts, timeout_seconds,
			locked_at, lock_owner, heartbeat_at, started_at,
			last_error_at, error_message, error_code,
			finished_at, result_json, dead_lettered_at, canceled_at, cancel_requested_at,
			dedupe_key, idempotency_key, payload_json,
			source_type, source_id, created_by_user_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		job.ID, job.JobType, string(job.Status), job.Priority, formatTime(job.RunAfter),
		job.Attempts, job.MaxAttempts, nullInt(job.TimeoutSeconds),
		formatTimePtr(job.LockedAt), nullString(job.LockOwner), formatTimePtr(job.HeartbeatAt), formatTimePtr(job.StartedAt),
		formatTimePtr(job.LastErrorAt), nullString(job.ErrorMessage), nullString(job.ErrorCode),
		formatTimePtr(job.FinishedAt), nullJSON(job.ResultJSON), formatTimePtr(job.DeadLetteredAt), formatTimePtr(job.CanceledAt), formatTimePtr(job.CancelRequestedAt),
		nullString(job.DedupeKey), nullString(job.IdempotencyKey), nullJSON(job.PayloadJSON),
		nullString(job.SourceType), nullString(job.SourceID), nullString(job.CreatedByUserID),
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to insert job %s", job.ID)
	}
	return nil
}

func (s *SQLStore) GetJob(id string) (*JobRun, error) {
	query := `SELECT ` + jobSelectColumns() + ` FROM job_runs WHERE id = ?`
	job, err := scanJobFromRow(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return job, nil
}

func (s *SQLStore) UpdateJob(job *JobRun) error {
	query := `
		UPDATE job_runs SET
			job_type = ?, status = ?, priority = ?, run_after = ?,
			attempts = ?, max_attempts = ?, timeout_seconds = ?,
			locked_at = ?, lock_owner = ?, heartbeat_at = ?, started_at = ?,
			last_error_at = ?, error_message = ?, error_code = ?,
			finished_at = ?, result_json = ?, dead_lettered_at = ?, canceled_at = ?, cancel_requested_at = ?,
			dedupe_key = ?, idempotency_key = ?, payload_json = ?,
			source_type = ?, source_id = ?, created_by_user_id = ?,
			updated_at = ?
		WHERE id = ?`

	result, err := s.db.Exec(query,
		job.JobType, string(job.Status), job.Priority, formatTime(job.RunAfter),
		job.Attempts, job.MaxAttempts, nullInt(job.TimeoutSeconds),
		formatTimePtr(job.LockedAt), nullString(job.LockOwner), formatTimePtr(job.HeartbeatAt), formatTimePtr(job.StartedAt),
		formatTimePtr(job.LastErrorAt), nullString(job.ErrorMessage), nullString(job.ErrorCode),
		formatTimePtr(job.FinishedAt), nullJSON(job.ResultJSON), formatTimePtr(job.DeadLetteredAt), formatTimePtr(job.CanceledAt), formatTimePtr(job.CancelRequestedAt),
		nullString(job.DedupeKey), nullString(job.IdempotencyKey), nullJSON(job.PayloadJSON),
		nullString(job.SourceType), nullString(job.SourceID), nullString(job.CreatedByUserID),
		formatTime(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if affected == 0 {
		return errors.NewNotFoundError("job %s not found", job.ID)
	}
	return nil
}

func (s *SQLStore) FindActiveByDedupeKey(key string) (*JobRun, error) {
	query := `SELECT ` + jobSelectColumns() + `
		FROM job_runs
		WHERE dedupe_key = ? AND status IN ('queued', 'running')
		ORDER BY created_at DESC
		LIMIT 1`
	job, err := scanJobFromRow(s.db.QueryRow(query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up dedupe key %s", key)
	}
	return job, nil
}

func (s *SQLStore) FindByIdempotencyKey(key string) (*JobRun, error) {
	query := `SELECT ` + jobSelectColumns() + `
		FROM job_runs
		WHERE idempotency_key = ?
		ORDER BY created_at DESC
		LIMIT 1`
	job, err := scanJobFromRow(s.db.QueryRow(query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up idempotency key %s", key)
	}
	return job, nil
}

func (s *SQLStore) SelectEligible(limit int, now, staleBefore time.Time) ([]*JobRun, error) {
	query := `SELECT ` + jobSelectColumns() + `
		FROM job_runs
		WHERE status = 'queued'
		  AND run_after <= ?
		  AND (locked_at IS NULL OR locked_at < ?)
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT ?`
	rows, err := s.db.Query(query, formatTime(now), formatTime(staleBefore), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select eligible jobs")
	}
	defer rows.Close()
	return scanJobsFromRows(rows, "eligible jobs")
}

func (s *SQLStore) ClaimJob(id, runnerID string, now, staleBefore time.Time) (bool, error) {
	// The WHERE clause repeats the eligibility predicate so the claim only
	// lands if the row is still up for grabs at update time.
	query := `
		UPDATE job_runs SET
			status = 'running',
			attempts = attempts + 1,
			locked_at = ?,
			lock_owner = ?,
			heartbeat_at = ?,
			started_at = ?,
			updated_at = ?
		WHERE id = ?
		  AND status = 'queued'
		  AND run_after <= ?
		  AND (locked_at IS NULL OR locked_at < ?)`

	ts := formatTime(now)
	result, err := s.db.Exec(query, ts, runnerID, ts, ts, ts, id, ts, formatTime(staleBefore))
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim job %s", id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to check rows affected")
	}
	return affected > 0, nil
}

func (s *SQLStore) SelectStaleRunning(limit int, staleBefore time.Time) ([]*JobRun, error) {
	query := `SELECT ` + jobSelectColumns() + `
		FROM job_runs
		WHERE status = 'running'
		  AND COALESCE(locked_at, started_at) < ?
		ORDER BY COALESCE(locked_at, started_at) ASC
		LIMIT ?`
	rows, err := s.db.Query(query, formatTime(staleBefore), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select stale running jobs")
	}
	defer rows.Close()
	return scanJobsFromRows(rows, "stale running jobs")
}

func (s *SQLStore) RequeueIfStillStale(id string, staleBefore, runAfter time.Time, errMsg, errCode string, now time.Time) (bool, error) {
	query := `
		UPDATE job_runs SET
			status = 'queued',
			run_after = ?,
			locked_at = NULL,
			lock_owner = NULL,
			heartbeat_at = NULL,
			started_at = NULL,
			last_error_at = ?,
			error_message = ?,
			error_code = ?,
			updated_at = ?
		WHERE id = ?
		  AND status = 'running'
		  AND COALESCE(locked_at, started_at) < ?`

	ts := formatTime(now)
	result, err := s.db.Exec(query, formatTime(runAfter), ts, errMsg, nullString(errCode), ts, id, formatTime(staleBefore))
	if err != nil {
		return false, errors.Wrapf(err, "failed to requeue stale job %s", id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to check rows affected")
	}
	return affected > 0, nil
}

func (s *SQLStore) DeadLetterIfStillStale(id string, staleBefore time.Time, errMsg, errCode string, now time.Time) (bool, error) {
	query := `
		UPDATE job_runs SET
			status = 'dead_letter',
			dead_lettered_at = ?,
			finished_at = ?,
			locked_at = NULL,
			lock_owner = NULL,
			heartbeat_at = NULL,
			started_at = NULL,
			last_error_at = ?,
			error_message = ?,
			error_code = ?,
			updated_at = ?
		WHERE id = ?
		  AND status = 'running'
		  AND COALESCE(locked_at, started_at) < ?`

	ts := formatTime(now)
	result, err := s.db.Exec(query, ts, ts, ts, errMsg, nullString(errCode), ts, id, formatTime(staleBefore))
	if err != nil {
		return false, errors.Wrapf(err, "failed to dead-letter stale job %s", id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to check rows affected")
	}
	return affected > 0, nil
}

func (s *SQLStore) RequestCancel(id string, now time.Time) error {
	query := `
		UPDATE job_runs SET
			cancel_requested_at = ?,
			updated_at = ?
		WHERE id = ?
		  AND status IN ('queued', 'running')`

	ts := formatTime(now)
	result, err := s.db.Exec(query, ts, ts, id)
	if err != nil {
		return errors.Wrapf(err, "failed to request cancel for job %s", id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if affected > 0 {
		return nil
	}

	// Distinguish a missing row from one already in a terminal state.
	if _, err := s.GetJob(id); err != nil {
		return err
	}
	return errors.WithHint(
		errors.Wrapf(errors.ErrConflict, "job %s is already finished", id),
		"only queued or running jobs can be canceled")
}

func (s *SQLStore) ListJobs(status *Status, jobType string, limit int) ([]*JobRun, error) {
	query := `SELECT ` + jobSelectColumns() + ` FROM job_runs WHERE 1=1`
	var args []any
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	if jobType != "" {
		query += ` AND job_type = ?`
		args = append(args, jobType)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()
	return scanJobsFromRows(rows, "job list")
}

func (s *SQLStore) CountJobsByStatus() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM job_runs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs by status")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan status count")
		}
		counts[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating status counts")
	}
	return counts, nil
}

func (s *SQLStore) CleanupTerminalJobs(cutoff time.Time) (int, error) {
	query := `
		DELETE FROM job_runs
		WHERE status IN ('succeeded', 'failed', 'dead_letter', 'canceled')
		  AND updated_at < ?`
	result, err := s.db.Exec(query, formatTime(cutoff))
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up terminal jobs")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to check rows affected")
	}
	return int(affected), nil
}

func (s *SQLStore) CreateSchedule(sched *JobSchedule) error {
	var exists bool
	if err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM job_schedules WHERE key = ?)`, sched.Key).Scan(&exists); err != nil {
		return errors.Wrapf(err, "failed to check for schedule %s", sched.Key)
	}
	if exists {
		return errors.Wrapf(errors.ErrConflict, "schedule %s already exists", sched.Key)
	}

	query := `
		INSERT INTO job_schedules (
			key, title, description, job_type, payload_template,
			cadence_type, interval_minutes, day_of_week, day_of_month, hour, minute,
			is_enabled, next_run_at, last_enqueued_at, last_run_job_id, dedupe_window_minutes,
			priority, max_attempts, timeout_seconds,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		sched.Key, sched.Title, sched.Description, sched.JobType, nullJSON(sched.PayloadTemplate),
		string(sched.CadenceType), nullInt(sched.IntervalMinutes), sched.DayOfWeek, sched.DayOfMonth, sched.Hour, sched.Minute,
		sched.IsEnabled, formatTimePtr(sched.NextRunAt), formatTimePtr(sched.LastEnqueuedAt), nullString(sched.LastRunJobID), nullInt(sched.DedupeWindowMinutes),
		nullInt(sched.Priority), nullInt(sched.MaxAttempts), nullInt(sched.TimeoutSeconds),
		formatTime(sched.CreatedAt), formatTime(sched.UpdatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to insert schedule %s", sched.Key)
	}
	return nil
}

func (s *SQLStore) GetSchedule(key string) (*JobSchedule, error) {
	query := `SELECT ` + scheduleSelectColumns() + ` FROM job_schedules WHERE key = ?`
	sched, err := scanScheduleFromRow(s.db.QueryRow(query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("schedule %s not found", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get schedule %s", key)
	}
	return sched, nil
}

func (s *SQLStore) UpdateSchedule(sched *JobSchedule) error {
	query := `
		UPDATE job_schedules SET
			title = ?, description = ?, job_type = ?, payload_template = ?,
			cadence_type = ?, interval_minutes = ?, day_of_week = ?, day_of_month = ?, hour = ?, minute = ?,
			is_enabled = ?, next_run_at = ?, last_enqueued_at = ?, last_run_job_id = ?, dedupe_window_minutes = ?,
			priority = ?, max_attempts = ?, timeout_seconds = ?,
			updated_at = ?
		WHERE key = ?`

	result, err := s.db.Exec(query,
		sched.Title, sched.Description, sched.JobType, nullJSON(sched.PayloadTemplate),
		string(sched.CadenceType), nullInt(sched.IntervalMinutes), sched.DayOfWeek, sched.DayOfMonth, sched.Hour, sched.Minute,
		sched.IsEnabled, formatTimePtr(sched.NextRunAt), formatTimePtr(sched.LastEnqueuedAt), nullString(sched.LastRunJobID), nullInt(sched.DedupeWindowMinutes),
		nullInt(sched.Priority), nullInt(sched.MaxAttempts), nullInt(sched.TimeoutSeconds),
		formatTime(sched.UpdatedAt),
		sched.Key,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update schedule %s", sched.Key)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if affected == 0 {
		return errors.NewNotFoundError("schedule %s not found", sched.Key)
	}
	return nil
}

func (s *SQLStore) SetScheduleEnabled(key string, enabled bool, now time.Time) error {
	result, err := s.db.Exec(
		`UPDATE job_schedules SET is_enabled = ?, updated_at = ? WHERE key = ?`,
		enabled, formatTime(now), key,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to set enabled for schedule %s", key)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if affected == 0 {
		return errors.NewNotFoundError("schedule %s not found", key)
	}
	return nil
}

func (s *SQLStore) ListSchedules(limit int) ([]*JobSchedule, error) {
	query := `SELECT ` + scheduleSelectColumns() + ` FROM job_schedules ORDER BY key ASC LIMIT ?`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list schedules")
	}
	defer rows.Close()
	return scanSchedulesFromRows(rows, "schedule list")
}

func (s *SQLStore) ListDueSchedules(now time.Time, limit int) ([]*JobSchedule, error) {
	query := `SELECT ` + scheduleSelectColumns() + `
		FROM job_schedules
		WHERE is_enabled = 1
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= ?
		ORDER BY next_run_at ASC
		LIMIT ?`
	rows, err := s.db.Query(query, formatTime(now), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due schedules")
	}
	defer rows.Close()
	return scanSchedulesFromRows(rows, "due schedules")
}
