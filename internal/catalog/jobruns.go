package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/homelab/ha-ingestor/internal/model"
)

// UpsertJobRun persists a job's current state transition. Only the latest
// run per job_name is kept; C6's jobs are at-most-once per scheduled
// instant, not an audit trail.
func (s *Store) UpsertJobRun(ctx context.Context, r *model.JobRun) error {
	const q = `
		INSERT INTO job_runs (job_name, status, started_at, finished_at, reason)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(job_name) DO UPDATE SET
		    status      = excluded.status,
		    started_at  = excluded.started_at,
		    finished_at = excluded.finished_at,
		    reason      = excluded.reason`

	_, err := s.exec(ctx, q, r.JobName, string(r.Status), formatTime(r.StartedAt), formatTimePtr(r.FinishedAt), r.Reason)
	if err != nil {
		return fmt.Errorf("upserting job run %q: %w", r.JobName, err)
	}
	return nil
}

// GetJobRun returns the last known state for jobName, or nil if it has
// never run.
func (s *Store) GetJobRun(ctx context.Context, jobName string) (*model.JobRun, error) {
	var r model.JobRun
	var status, startedAt string
	var finishedAt sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT job_name, status, started_at, finished_at, reason FROM job_runs WHERE job_name = ?`, jobName,
	).Scan(&r.JobName, &status, &startedAt, &finishedAt, &r.Reason)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil
	}
	if err != nil {
		return nil, fmt.Errorf("getting job run %q: %w", jobName, err)
	}
	r.Status = model.JobStatus(status)
	r.StartedAt = parseTime(startedAt)
	r.FinishedAt = parseTimePtr(finishedAt)
	return &r, nil
}
