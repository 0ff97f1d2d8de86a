package sched

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/staffsync/errors"
)

// ScheduleStatus is the immediate acknowledgement returned to the inbound
// trigger. Later success or failure of the job itself is only observable
// via the Notifier side channel.
type ScheduleStatus string

const (
	// ScheduleStatusScheduled means a new job row was inserted.
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	// ScheduleStatusAlreadyScheduled means an equivalent active job exists;
	// nothing was inserted and its identity is returned.
	ScheduleStatusAlreadyScheduled ScheduleStatus = "already_scheduled"
	// ScheduleStatusSuperseded means a prior job was cancelled in favor of
	// a materially different run time.
	ScheduleStatusSuperseded ScheduleStatus = "superseded"
	// ScheduleStatusCooldownActive means the trigger was accepted but
	// suppressed by an unexpired cooldown marker.
	ScheduleStatusCooldownActive ScheduleStatus = "cooldown_active"
)

// ScheduleResult reports what the scheduler did with a trigger.
type ScheduleResult struct {
	Status ScheduleStatus `json:"status"`
	Job    *Job           `json:"job,omitempty"`
	// CooldownRemaining is set when Status is cooldown_active.
	CooldownRemaining time.Duration `json:"cooldown_remaining,omitempty"`
}

// Scheduler is the trigger-side entry point: it applies cooldown
// suppression and active-job dedup before persisting a new job. Webhook
// echoes produced by the downstream system reacting to our own mutations
// land here and are absorbed instead of re-enqueued.
type Scheduler struct {
	store     *Store
	kv        *KV
	tolerance time.Duration
	log       *zap.SugaredLogger
}

// NewScheduler creates a scheduler. tolerance is the dedup window: two
// run-at instants within it are treated as the same schedule.
func NewScheduler(store *Store, kv *KV, tolerance time.Duration, log *zap.SugaredLogger) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scheduler{
		store:     store,
		kv:        kv,
		tolerance: tolerance,
		log:       log,
	}
}

// Schedule enqueues a job of jobType for correlationID at runAt, unless a
// cooldown is active or an equivalent job already exists.
//
// Dedup rules for correlation-bearing types:
//   - active job with |runAt − existing.RunAt| <= tolerance: return the
//     existing job, insert nothing (idempotent no-op).
//   - active job outside tolerance: cancel it (supersede, recording the new
//     run time for audit) and insert the new job.
func (s *Scheduler) Schedule(jobType JobType, correlationID string, runAt time.Time, payload json.RawMessage) (*ScheduleResult, error) {
	now := time.Now()

	if correlationID != "" {
		remaining, err := s.kv.CooldownRemaining(correlationID, now)
		if err != nil {
			return nil, errors.Wrap(err, "failed to check cooldown")
		}
		if remaining > 0 {
			s.log.Infow("Trigger suppressed by cooldown",
				"type", jobType,
				"correlation_id", correlationID,
				"remaining", remaining.Round(time.Second))
			return &ScheduleResult{
				Status:            ScheduleStatusCooldownActive,
				CooldownRemaining: remaining,
			}, nil
		}

		existing, err := s.store.FindActiveJobByCorrelation(jobType, correlationID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to check for duplicate job")
		}
		if existing != nil {
			diff := runAt.Sub(existing.RunAt)
			if diff < 0 {
				diff = -diff
			}
			if diff <= s.tolerance {
				s.log.Debugw("Trigger matches existing schedule",
					"type", jobType,
					"correlation_id", correlationID,
					"job_id", existing.ID,
					"run_at", existing.RunAt)
				return &ScheduleResult{
					Status: ScheduleStatusAlreadyScheduled,
					Job:    existing,
				}, nil
			}

			if err := s.supersede(existing, runAt); err != nil {
				return nil, err
			}
			job, err := s.store.InsertJob(jobType, correlationID, runAt, payload)
			if err != nil {
				return nil, errors.Wrap(err, "failed to insert superseding job")
			}
			s.log.Infow("Superseded job with new schedule",
				"type", jobType,
				"correlation_id", correlationID,
				"old_job_id", existing.ID,
				"old_run_at", existing.RunAt,
				"new_job_id", job.ID,
				"new_run_at", job.RunAt)
			return &ScheduleResult{Status: ScheduleStatusSuperseded, Job: job}, nil
		}
	}

	job, err := s.store.InsertJob(jobType, correlationID, runAt, payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert job")
	}
	s.log.Infow("Scheduled job",
		"type", jobType,
		"correlation_id", correlationID,
		"job_id", job.ID,
		"run_at", job.RunAt)
	return &ScheduleResult{Status: ScheduleStatusScheduled, Job: job}, nil
}

// supersede cancels a pending job in favor of a new schedule. Running jobs
// are left alone: there is no mid-flight cancellation, the new job simply
// coexists with the in-flight attempt.
func (s *Scheduler) supersede(existing *Job, newRunAt time.Time) error {
	if existing.Status != JobStatusPending {
		return nil
	}

	cancelled := JobStatusCancelled
	reason := fmt.Sprintf("superseded by new schedule at %s", newRunAt.UTC().Format(time.RFC3339))
	if err := s.store.MarkJob(existing.ID, JobUpdate{
		Status:    &cancelled,
		LastError: &reason,
	}); err != nil {
		return errors.Wrapf(err, "failed to cancel superseded job %s", existing.ID)
	}
	return nil
}
