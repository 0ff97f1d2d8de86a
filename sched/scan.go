package sched

import (
	"database/sql"

	"github.com/teranos/staffsync/errors"
)

const jobSelectColumns = `id, type, correlation_id, run_at, status, attempts,
	payload, last_error, result, created_at, updated_at`

// jobScanArgs holds the nullable column targets for scanning a job row.
type jobScanArgs struct {
	Payload   sql.NullString
	LastError sql.NullString
	Result    sql.NullString
}

func newJobScanArgs() *jobScanArgs {
	return &jobScanArgs{}
}

// jobScanTargets returns scan destinations in jobSelectColumns order.
func jobScanTargets(job *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.Type,
		&job.CorrelationID,
		&job.RunAt,
		&job.Status,
		&job.Attempts,
		&args.Payload,
		&args.LastError,
		&args.Result,
		&job.CreatedAt,
		&job.UpdatedAt,
	}
}

// applyJobScanArgs copies the nullable columns into the job struct.
func applyJobScanArgs(job *Job, args *jobScanArgs) {
	if args.Payload.Valid {
		job.Payload = []byte(args.Payload.String)
	}
	if args.LastError.Valid {
		job.LastError = args.LastError.String
	}
	if args.Result.Valid {
		job.Result = []byte(args.Result.String)
	}
}

// scanJobs scans multiple jobs from query rows.
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		args := newJobScanArgs()
		if err := rows.Scan(jobScanTargets(&job, args)...); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		applyJobScanArgs(&job, args)
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return jobs, nil
}
