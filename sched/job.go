// Package sched implements the durable job scheduling and idempotent
// execution engine: a SQLite-persisted queue of time-triggered jobs, a
// polling ticker with bounded concurrency, retry/backoff, and
// dedup/cooldown logic that absorbs webhook echo storms.
package sched

import (
	"encoding/json"
	"time"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusDone      JobStatus = "done"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusRunning, JobStatusDone,
		JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a job in this status can never transition again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobType identifies which handler executes a job.
type JobType string

const (
	JobTypeCreateFromCandidate JobType = "createFromCandidate"
	JobTypeDisableUser         JobType = "disableUser"
	JobTypeDeleteUser          JobType = "deleteUser"
)

// Job is a persisted unit of scheduled work.
//
// The engine is domain-agnostic: payloads are opaque JSON owned by the
// handler for the job's type. CorrelationID is the business identifier
// (candidate id or employee id) extracted at creation time so dedup
// lookups hit an indexed column instead of searching the payload blob.
type Job struct {
	ID            string          `json:"id"`
	Type          JobType         `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	RunAt         time.Time       `json:"run_at"`
	Status        JobStatus       `json:"status"`
	Attempts      int             `json:"attempts"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CanTransition reports whether the state machine permits moving from the
// job's current status to next. Terminal states permit nothing.
//
//	pending → running | cancelled
//	running → done | pending (retry) | failed
func (j *Job) CanTransition(next JobStatus) bool {
	switch j.Status {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusCancelled
	case JobStatusRunning:
		return next == JobStatusDone || next == JobStatusPending || next == JobStatusFailed
	default:
		return false
	}
}
