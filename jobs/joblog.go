package jobs

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/opsdeckhq/opsdeck/errors"
)

// Log levels for job log entries.
const (
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// JobLogEntry is one line in a job's append-only audit trail.
type JobLogEntry struct {
	ID        int64           `json:"id"`
	JobID     string          `json:"job_id"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// JobLogStore persists per-job audit entries. Entries are append-only;
// nothing in the system ever updates or deletes one except retention
// cleanup alongside the owning job.
type JobLogStore struct {
	db *sql.DB
}

// NewJobLogStore creates a log store backed by the given database handle.
func NewJobLogStore(db *sql.DB) *JobLogStore {
	return &JobLogStore{db: db}
}

// Append writes a log entry for a job.
func (s *JobLogStore) Append(jobID, level, message string, metadata json.RawMessage, now time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO job_logs (job_id, level, message, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		jobID, level, message, nullJSON(metadata), formatTime(now),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to append log for job %s", jobID)
	}
	return nil
}

// List returns a job's log entries in insertion order.
func (s *JobLogStore) List(jobID string, limit int) ([]*JobLogEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, job_id, level, message, metadata, created_at
		 FROM job_logs WHERE job_id = ? ORDER BY id ASC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list logs for job %s", jobID)
	}
	defer rows.Close()

	var entries []*JobLogEntry
	for rows.Next() {
		var e JobLogEntry
		var metadata sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.JobID, &e.Level, &e.Message, &metadata, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan job log row")
		}
		if metadata.Valid {
			e.Metadata = json.RawMessage(metadata.String)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, errors.Wrapf(err, "failed to parse created_at for job log %d", e.ID)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job logs")
	}
	return entries, nil
}

// DeleteOrphaned removes log entries whose owning job no longer exists.
// Run after CleanupTerminalJobs so the audit trail follows its job's
// retention window.
func (s *JobLogStore) DeleteOrphaned() (int, error) {
	result, err := s.db.Exec(
		`DELETE FROM job_logs WHERE job_id NOT IN (SELECT id FROM job_runs)`,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete orphaned job logs")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to check rows affected")
	}
	return int(affected), nil
}
