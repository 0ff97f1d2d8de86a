package sched

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/staffsync/errors"
)

// Store handles persistence of scheduled sync jobs.
//
// Every mutating call commits before returning (the database runs in WAL
// mode), so a crash between calls never loses a committed job.
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// NewStore creates a new job store
func NewStore(db *sql.DB, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{db: db, log: log}
}

// DB exposes the underlying handle for components sharing the connection
// (KV store, CLI inspection).
func (s *Store) DB() *sql.DB {
	return s.db
}

// InsertJob inserts a new job in pending status and returns it with its
// store-assigned id. Instants are normalized to UTC before persisting.
func (s *Store) InsertJob(jobType JobType, correlationID string, runAt time.Time, payload json.RawMessage) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:            uuid.NewString(),
		Type:          jobType,
		CorrelationID: correlationID,
		RunAt:         runAt.UTC(),
		Status:        JobStatusPending,
		Payload:       payload,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	query := `
		INSERT INTO sync_jobs (
			id, type, correlation_id, run_at, status, attempts,
			payload, last_error, result, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	payloadCol := sql.NullString{String: string(job.Payload), Valid: len(job.Payload) > 0}

	_, err := s.db.Exec(query,
		job.ID,
		string(job.Type),
		job.CorrelationID,
		job.RunAt,
		job.Status,
		job.Attempts,
		payloadCol,
		sql.NullString{},
		sql.NullString{},
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert job")
	}

	return job, nil
}

// FetchDueJobs returns pending jobs with run_at <= now, ordered ascending
// by run_at, bounded by limit.
func (s *Store) FetchDueJobs(now time.Time, limit int) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM sync_jobs
		WHERE status = ? AND run_at <= ?
		ORDER BY run_at ASC
		LIMIT ?`

	rows, err := s.db.Query(query, JobStatusPending, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch due jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "due jobs")
}

// JobUpdate describes a partial update applied by MarkJob. Nil fields are
// left untouched. ClearLastError wipes last_error independently of LastError
// so an attempt start can reset it without writing an empty-string update.
type JobUpdate struct {
	Status         *JobStatus
	Attempts       *int
	RunAt          *time.Time
	LastError      *string
	ClearLastError bool
	Result         json.RawMessage
}

// MarkJob applies a partial update and bumps updated_at. A missing row is
// logged and swallowed: the executor calls this on its critical path and a
// vanished row must not abort job settlement.
func (s *Store) MarkJob(id string, u JobUpdate) error {
	affected, err := s.markJob(id, nil, u)
	if err != nil {
		return err
	}
	if affected == 0 {
		s.log.Warnw("MarkJob on missing row", "job_id", id)
	}
	return nil
}

// MarkJobIf applies the update only while the job is still in from, making
// state machine transitions atomic against concurrent writers. Returns
// false when the row is missing or has moved to another status, for
// example a pending job cancelled by supersede between fetch and dispatch.
func (s *Store) MarkJobIf(id string, from JobStatus, u JobUpdate) (bool, error) {
	affected, err := s.markJob(id, &from, u)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) markJob(id string, from *JobStatus, u JobUpdate) (int64, error) {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}

	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status)
	}
	if u.Attempts != nil {
		sets = append(sets, "attempts = ?")
		args = append(args, *u.Attempts)
	}
	if u.RunAt != nil {
		sets = append(sets, "run_at = ?")
		args = append(args, u.RunAt.UTC())
	}
	if u.ClearLastError {
		sets = append(sets, "last_error = NULL")
	} else if u.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *u.LastError)
	}
	if len(u.Result) > 0 {
		sets = append(sets, "result = ?")
		args = append(args, string(u.Result))
	}

	query := "UPDATE sync_jobs SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if from != nil {
		query += " AND status = ?"
		args = append(args, *from)
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to mark job %s", id)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return affected, nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM sync_jobs WHERE id = ?`

	var job Job
	args := newJobScanArgs()
	err := s.db.QueryRow(query, id).Scan(jobScanTargets(&job, args)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	applyJobScanArgs(&job, args)
	return &job, nil
}

// FindActiveJobByCorrelation returns the most recent pending or running job
// of the given type whose correlation id matches, or nil if none exists.
func (s *Store) FindActiveJobByCorrelation(jobType JobType, correlationID string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM sync_jobs
		WHERE type = ?
		  AND correlation_id = ?
		  AND status IN (?, ?)
		ORDER BY created_at DESC
		LIMIT 1`

	var job Job
	args := newJobScanArgs()
	err := s.db.QueryRow(query, string(jobType), correlationID, JobStatusPending, JobStatusRunning).
		Scan(jobScanTargets(&job, args)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // no active job - not an error
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find active job by correlation")
	}
	applyJobScanArgs(&job, args)
	return &job, nil
}

// ListJobs returns jobs newest-first, optionally filtered by status.
func (s *Store) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	baseQuery := `SELECT ` + jobSelectColumns + ` FROM sync_jobs`

	var query string
	var args []interface{}
	if status != nil {
		query = baseQuery + ` WHERE status = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{*status, limit}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// CountByStatus returns the number of jobs in each status.
func (s *Store) CountByStatus() (map[JobStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM sync_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan count")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating counts")
	}
	return counts, nil
}

// ResetStaleRunning returns running jobs whose updated_at is older than the
// staleness threshold to pending. Called once at daemon startup: rows left
// running by an unclean shutdown would otherwise never be dispatched again,
// since no in-process lock survives a restart. olderThan 0 resets every
// running row.
func (s *Store) ResetStaleRunning(now time.Time, olderThan time.Duration) (int, error) {
	cutoff := now.UTC().Add(-olderThan)

	res, err := s.db.Exec(`
		UPDATE sync_jobs
		SET status = ?, updated_at = ?
		WHERE status = ? AND updated_at <= ?`,
		JobStatusPending, now.UTC(), JobStatusRunning, cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to reset stale running jobs")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	if affected > 0 {
		s.log.Warnw("Reset stale running jobs to pending", "count", affected)
	}
	return int(affected), nil
}
