package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/staffsync/errors"
	"github.com/teranos/staffsync/sched"
)

// StatusExecuted extends the scheduler ack statuses for the immediate
// branch: the operation ran synchronously and no job row was created.
const StatusExecuted sched.ScheduleStatus = "executed"

// PolicyConfig holds the business-date scheduling parameters.
type PolicyConfig struct {
	Zone              *time.Location
	PrehireHour       int
	PrehireMinute     int
	PrehireOffsetDays int
	OffboardHour      int
	OffboardMinute    int
	QuickFallback     time.Duration
}

// TriggerAck is the immediate acknowledgement returned to an inbound
// trigger. Later job success or failure is only observable via the
// Notifier side channel.
type TriggerAck struct {
	Status            sched.ScheduleStatus `json:"status"`
	JobID             string               `json:"jobId,omitempty"`
	RunAt             *time.Time           `json:"runAt,omitempty"`
	CooldownRemaining time.Duration        `json:"cooldownRemaining,omitempty"`
	// Result is set only on the immediate branch (Status executed).
	Result json.RawMessage `json:"result,omitempty"`
}

// Trigger is the inbound entry point: webhook glue and the CLI call it to
// turn lifecycle events into scheduled jobs or, for already-due destructive
// operations, synchronous executions.
type Trigger struct {
	scheduler *sched.Scheduler
	registry  *sched.Registry
	kv        *sched.KV
	policy    PolicyConfig
	log       *zap.SugaredLogger
}

// NewTrigger creates a trigger front end over the scheduler.
func NewTrigger(scheduler *sched.Scheduler, registry *sched.Registry, kv *sched.KV, policy PolicyConfig, log *zap.SugaredLogger) *Trigger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Trigger{
		scheduler: scheduler,
		registry:  registry,
		kv:        kv,
		policy:    policy,
		log:       log,
	}
}

// SchedulePrehire schedules directory provisioning ahead of the candidate's
// join date: (joinDate − offsetDays) at the configured time of day, or the
// quick fallback when that instant has passed or no join date is known.
func (t *Trigger) SchedulePrehire(ctx context.Context, payload CreateFromCandidatePayload) (*TriggerAck, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	runAt := sched.ComputeRunAt(payload.JoinDate,
		t.policy.PrehireHour, t.policy.PrehireMinute, t.policy.PrehireOffsetDays,
		t.policy.Zone, time.Now(), t.policy.QuickFallback)

	res, err := t.scheduler.Schedule(sched.JobTypeCreateFromCandidate,
		payload.CorrelationID, runAt, mustMarshal(payload))
	if err != nil {
		return nil, err
	}
	return ackFromSchedule(res), nil
}

// ScheduleOffboard schedules a disable or delete for the exit date at the
// configured time of day. An exit instant at or before now, or an absent or
// unparseable exit date, takes the immediate branch: the handler runs
// synchronously and no job row is created, so an already-due destructive
// action is not exposed to scheduler latency.
func (t *Trigger) ScheduleOffboard(ctx context.Context, jobType sched.JobType, payload OffboardPayload, exitDate string) (*TriggerAck, error) {
	if jobType != sched.JobTypeDisableUser && jobType != sched.JobTypeDeleteUser {
		return nil, errors.NewInvalidRequestError("job type %s is not an offboard operation", jobType)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	runAt, ok := sched.OffboardRunAt(exitDate,
		t.policy.OffboardHour, t.policy.OffboardMinute, t.policy.Zone)
	if !ok || !runAt.After(now) {
		return t.executeImmediate(ctx, jobType, payload, now)
	}

	res, err := t.scheduler.Schedule(jobType, payload.CorrelationID, runAt, mustMarshal(payload))
	if err != nil {
		return nil, err
	}
	return ackFromSchedule(res), nil
}

// executeImmediate runs an offboard handler synchronously. Cooldown still
// applies: an echo trigger landing during the window after a mutation is
// absorbed here exactly as it would be on the scheduled path.
func (t *Trigger) executeImmediate(ctx context.Context, jobType sched.JobType, payload OffboardPayload, now time.Time) (*TriggerAck, error) {
	remaining, err := t.kv.CooldownRemaining(payload.CorrelationID, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check cooldown")
	}
	if remaining > 0 {
		t.log.Infow("Immediate offboard suppressed by cooldown",
			"type", jobType,
			"correlation_id", payload.CorrelationID,
			"remaining", remaining.Round(time.Second))
		return &TriggerAck{
			Status:            sched.ScheduleStatusCooldownActive,
			CooldownRemaining: remaining,
		}, nil
	}

	handler := t.registry.Get(jobType)
	if handler == nil {
		return nil, errors.Newf("no handler registered for job type %s", jobType)
	}

	t.log.Infow("Executing offboard immediately",
		"type", jobType, "correlation_id", payload.CorrelationID)

	// Transient job value for the handler contract only; never persisted.
	result, err := handler.Execute(ctx, &sched.Job{
		Type:          jobType,
		CorrelationID: payload.CorrelationID,
		RunAt:         now.UTC(),
		Status:        sched.JobStatusRunning,
		Attempts:      1,
		Payload:       mustMarshal(payload),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "immediate %s failed", jobType)
	}
	return &TriggerAck{Status: StatusExecuted, Result: result}, nil
}

func ackFromSchedule(res *sched.ScheduleResult) *TriggerAck {
	ack := &TriggerAck{
		Status:            res.Status,
		CooldownRemaining: res.CooldownRemaining,
	}
	if res.Job != nil {
		ack.JobID = res.Job.ID
		runAt := res.Job.RunAt
		ack.RunAt = &runAt
	}
	return ack
}
