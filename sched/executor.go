package sched

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/staffsync/db"
)

// maxStoredErrorLen bounds last_error so a pathological collaborator
// response cannot bloat the jobs table.
const maxStoredErrorLen = 500

// Redactor rewrites error text before it is persisted or logged.
// The default is the identity function; the domain layer plugs in
// secret/PII scrubbing.
type Redactor func(string) string

// FailureHook is invoked after a job reaches terminal failed status.
// errText is already redacted and truncated. The engine wiring binds this
// to the Notifier side channel.
type FailureHook func(job *Job, errText string)

// ExecutorConfig contains executor tuning.
type ExecutorConfig struct {
	// MaxConcurrent is the global ceiling on jobs executing at once.
	MaxConcurrent int
	// MaxAttempts is the attempt count after which a transient failure
	// becomes terminal.
	MaxAttempts int
	// Backoff computes retry delays.
	Backoff Backoff
	// RatePerMinute paces handler dispatch to protect downstream APIs.
	// 0 disables pacing.
	RatePerMinute int
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrent: 4,
		MaxAttempts:   5,
		Backoff:       DefaultBackoff(),
	}
}

// Executor drives jobs through the state machine: it marks them running,
// invokes the registered handler, and applies the done/retry/failed
// transition. Handler errors never escape; they are always converted into
// a state transition.
type Executor struct {
	store    *Store
	registry *Registry
	cfg      ExecutorConfig
	limiter  *rate.Limiter
	redact   Redactor
	onFailed FailureHook
	log      *zap.SugaredLogger

	mu       sync.Mutex
	inflight map[string]struct{}
	sem      chan struct{}
	wg       sync.WaitGroup
}

// NewExecutor creates an executor over the given store and handler registry.
func NewExecutor(store *Store, registry *Registry, cfg ExecutorConfig, log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var limiter *rate.Limiter
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), 1)
	}

	return &Executor{
		store:    store,
		registry: registry,
		cfg:      cfg,
		limiter:  limiter,
		redact:   func(s string) string { return s },
		log:      log,
		inflight: make(map[string]struct{}),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
	}
}

// SetRedactor installs the error-text redactor. Must be called before
// dispatch begins.
func (e *Executor) SetRedactor(r Redactor) {
	if r != nil {
		e.redact = r
	}
}

// SetFailureHook installs the terminal-failure callback. Must be called
// before dispatch begins.
func (e *Executor) SetFailureHook(h FailureHook) {
	e.onFailed = h
}

// InFlight returns the number of jobs currently executing.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

// Dispatch starts job asynchronously. It returns false when the
// concurrency ceiling is reached or the job is already in flight; the job
// stays pending and a later tick picks it up. Dispatch never blocks, so a
// slow handler delays only its own completion, not the tick loop.
func (e *Executor) Dispatch(ctx context.Context, job *Job) bool {
	e.mu.Lock()
	if _, dup := e.inflight[job.ID]; dup {
		e.mu.Unlock()
		return false
	}
	select {
	case e.sem <- struct{}{}:
	default:
		e.mu.Unlock()
		return false
	}
	e.inflight[job.ID] = struct{}{}
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.inflight, job.ID)
			e.mu.Unlock()
			<-e.sem
			e.wg.Done()
		}()
		e.execute(ctx, job)
	}()
	return true
}

// Wait blocks until all in-flight jobs have settled. Used during shutdown
// and in tests.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// execute runs one attempt of a job and persists the resulting transition.
func (e *Executor) execute(ctx context.Context, job *Job) {
	attempts := job.Attempts + 1
	running := JobStatusRunning
	// The claim is conditional on the row still being pending: a job
	// cancelled by supersede between fetch and dispatch must not be
	// revived into running.
	claimed, err := e.store.MarkJobIf(job.ID, JobStatusPending, JobUpdate{
		Status:         &running,
		Attempts:       &attempts,
		ClearLastError: true,
	})
	if err != nil {
		// The job was never marked running, so the next tick redispatches
		// it. Logged and monitored rather than escalated.
		e.logStoreError("failed to mark job running", job, err)
		return
	}
	if !claimed {
		e.log.Debugw("Job no longer pending, skipping dispatch",
			"job_id", job.ID, "type", job.Type)
		return
	}
	job.Status = JobStatusRunning
	job.Attempts = attempts

	handler := e.registry.Get(job.Type)
	if handler == nil {
		e.settle(job, nil, Fatalf("no handler registered for job type %q", job.Type))
		return
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			// Shutdown while queued behind the limiter: leave the retry
			// path to reschedule the attempt.
			e.settle(job, nil, err)
			return
		}
	}

	e.log.Infow("Executing job",
		"job_id", job.ID,
		"type", job.Type,
		"correlation_id", job.CorrelationID,
		"attempt", attempts)

	result, err := handler.Execute(ctx, job)
	e.settle(job, result, err)
}

// settle applies the state machine transition for a finished attempt.
// Every write is conditional on the row still being running, so a row that
// left the running state out from under the attempt is never overwritten.
func (e *Executor) settle(job *Job, result []byte, execErr error) {
	if execErr == nil {
		done := JobStatusDone
		ok, err := e.store.MarkJobIf(job.ID, JobStatusRunning, JobUpdate{Status: &done, Result: result})
		if err != nil {
			e.logStoreError("failed to mark job done", job, err)
			return
		}
		if !ok {
			e.logLostClaim(job, JobStatusDone)
			return
		}
		e.log.Infow("Job done",
			"job_id", job.ID,
			"type", job.Type,
			"correlation_id", job.CorrelationID,
			"attempts", job.Attempts)
		return
	}

	errText := e.redact(execErr.Error())
	if len(errText) > maxStoredErrorLen {
		errText = errText[:maxStoredErrorLen]
	}

	if IsFatal(execErr) || job.Attempts >= e.cfg.MaxAttempts {
		failed := JobStatusFailed
		ok, err := e.store.MarkJobIf(job.ID, JobStatusRunning, JobUpdate{Status: &failed, LastError: &errText})
		if err != nil {
			e.logStoreError("failed to mark job failed", job, err)
			return
		}
		if !ok {
			e.logLostClaim(job, JobStatusFailed)
			return
		}
		e.log.Errorw("Job failed",
			"job_id", job.ID,
			"type", job.Type,
			"correlation_id", job.CorrelationID,
			"attempts", job.Attempts,
			"fatal", IsFatal(execErr),
			"error", errText)
		if e.onFailed != nil {
			e.onFailed(job, errText)
		}
		return
	}

	delay := e.cfg.Backoff.Delay(job.Attempts)
	retryAt := time.Now().UTC().Add(delay)
	pending := JobStatusPending
	ok, err := e.store.MarkJobIf(job.ID, JobStatusRunning, JobUpdate{
		Status:    &pending,
		RunAt:     &retryAt,
		LastError: &errText,
	})
	if err != nil {
		e.logStoreError("failed to mark job for retry", job, err)
		return
	}
	if !ok {
		e.logLostClaim(job, JobStatusPending)
		return
	}
	e.log.Warnw("Job retry scheduled",
		"job_id", job.ID,
		"type", job.Type,
		"correlation_id", job.CorrelationID,
		"attempt", job.Attempts,
		"max_attempts", e.cfg.MaxAttempts,
		"retry_in", delay.Round(time.Second),
		"error", errText)
}

// logLostClaim reports a settle that found the row no longer running.
func (e *Executor) logLostClaim(job *Job, wanted JobStatus) {
	e.log.Warnw("Job left running state mid-flight, settle skipped",
		"job_id", job.ID, "type", job.Type, "wanted_status", wanted)
}

// logStoreError reports a failed persistence call. A job whose state could
// not be marked risks duplicate dispatch on the next tick; operators watch
// for these. Shutdown-time "database closed" errors are demoted to debug.
func (e *Executor) logStoreError(msg string, job *Job, err error) {
	if db.IsDatabaseClosed(err) {
		e.log.Debugw(msg+" (database closed during shutdown)", "job_id", job.ID)
		return
	}
	e.log.Errorw(msg, "job_id", job.ID, "type", job.Type, "error", err)
}
