package model

import "time"

// JobStatus enumerates the lifecycle of one C6 scheduled job run.
type JobStatus string

const (
	JobScheduled JobStatus = "scheduled"
	JobRunning   JobStatus = "running"
	JobComplete  JobStatus = "complete"
	JobFailed    JobStatus = "failed"
)

// JobRun is the persisted state machine for one Retention & Aggregator (C6)
// job kind (daily, weekly, monthly, retention sweep). Keyed by JobName so
// only the most recent run's state is retained; history beyond that is not
// a Catalog concern.
type JobRun struct {
	JobName    string    `json:"job_name"`
	Status     JobStatus `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}
