package sched

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/staffsync/errors"
	sqltest "github.com/teranos/staffsync/internal/testing"
	"github.com/teranos/staffsync/internal/util"
)

// stubHandler executes a test function under a fixed type.
type stubHandler struct {
	jobType JobType
	fn      func(ctx context.Context, job *Job) (json.RawMessage, error)
}

func (h *stubHandler) Type() JobType { return h.jobType }
func (h *stubHandler) Execute(ctx context.Context, job *Job) (json.RawMessage, error) {
	return h.fn(ctx, job)
}

func testBackoff() Backoff {
	return Backoff{Base: time.Minute, Multiplier: 2.0, Cap: time.Hour, Min: time.Second}
}

func newTestExecutor(t *testing.T, cfg ExecutorConfig, handlers ...Handler) (*Executor, *Store) {
	t.Helper()
	store := NewStore(sqltest.CreateTestDB(t), nil)
	registry := NewRegistry()
	for _, h := range handlers {
		registry.Register(h)
	}
	return NewExecutor(store, registry, cfg, nil), store
}

func TestExecutor_Success(t *testing.T) {
	result := json.RawMessage(`{"principalId":"p-1"}`)
	exec, store := newTestExecutor(t,
		ExecutorConfig{MaxConcurrent: 2, MaxAttempts: 3, Backoff: testBackoff()},
		&stubHandler{JobTypeCreateFromCandidate, func(context.Context, *Job) (json.RawMessage, error) {
			return result, nil
		}},
	)

	job, err := store.InsertJob(JobTypeCreateFromCandidate, "C1", time.Now(), nil)
	require.NoError(t, err)

	require.True(t, exec.Dispatch(context.Background(), job))
	exec.Wait()

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Empty(t, got.LastError)
	assert.JSONEq(t, string(result), string(got.Result))
}

func TestExecutor_RecoverableErrorSchedulesRetry(t *testing.T) {
	exec, store := newTestExecutor(t,
		ExecutorConfig{MaxConcurrent: 2, MaxAttempts: 3, Backoff: testBackoff()},
		&stubHandler{JobTypeDisableUser, func(context.Context, *Job) (json.RawMessage, error) {
			return nil, errors.New("directory returned 503")
		}},
	)

	job, err := store.InsertJob(JobTypeDisableUser, "E1", time.Now().Add(-time.Second), nil)
	require.NoError(t, err)

	require.True(t, exec.Dispatch(context.Background(), job))
	exec.Wait()

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, got.Status, "transient failure returns the job to pending")
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError, "directory returned 503")
	// First retry waits roughly the base delay.
	assert.True(t, got.RunAt.After(time.Now().Add(30*time.Second)),
		"run_at advanced by backoff, got %s", got.RunAt)
}

func TestExecutor_FatalErrorFailsImmediately(t *testing.T) {
	exec, store := newTestExecutor(t,
		ExecutorConfig{MaxConcurrent: 2, MaxAttempts: 5, Backoff: testBackoff()},
		&stubHandler{JobTypeDeleteUser, func(context.Context, *Job) (json.RawMessage, error) {
			return nil, errors.Wrap(errors.ErrNotFound, "no principal for E9")
		}},
	)

	job, err := store.InsertJob(JobTypeDeleteUser, "E9", time.Now(), nil)
	require.NoError(t, err)

	require.True(t, exec.Dispatch(context.Background(), job))
	exec.Wait()

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status, "not-found fails on the first attempt")
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError, "no principal for E9")
}

func TestExecutor_AttemptsExhaustedFails(t *testing.T) {
	exec, store := newTestExecutor(t,
		ExecutorConfig{MaxConcurrent: 2, MaxAttempts: 1, Backoff: testBackoff()},
		&stubHandler{JobTypeDisableUser, func(context.Context, *Job) (json.RawMessage, error) {
			return nil, errors.New("timeout")
		}},
	)

	job, err := store.InsertJob(JobTypeDisableUser, "E1", time.Now(), nil)
	require.NoError(t, err)

	require.True(t, exec.Dispatch(context.Background(), job))
	exec.Wait()

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
}

func TestExecutor_UnknownTypeFails(t *testing.T) {
	exec, store := newTestExecutor(t,
		ExecutorConfig{MaxConcurrent: 2, MaxAttempts: 5, Backoff: testBackoff()})

	job, err := store.InsertJob(JobType("mystery"), "", time.Now(), nil)
	require.NoError(t, err)

	require.True(t, exec.Dispatch(context.Background(), job))
	exec.Wait()

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status, "unknown type is never retried")
	assert.Contains(t, got.LastError, "no handler registered")
}

func TestExecutor_CancelledJobNotRevived(t *testing.T) {
	var executed atomic.Bool
	exec, store := newTestExecutor(t,
		ExecutorConfig{MaxConcurrent: 2, MaxAttempts: 3, Backoff: testBackoff()},
		&stubHandler{JobTypeDeleteUser, func(context.Context, *Job) (json.RawMessage, error) {
			executed.Store(true)
			return nil, nil
		}},
	)

	job, err := store.InsertJob(JobTypeDeleteUser, "E1", time.Now().Add(-time.Minute), nil)
	require.NoError(t, err)

	due, err := store.FetchDueJobs(time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	// Supersede lands between fetch and dispatch.
	require.NoError(t, store.MarkJob(job.ID, JobUpdate{Status: util.Ptr(JobStatusCancelled)}))

	require.True(t, exec.Dispatch(context.Background(), due[0]))
	exec.Wait()

	assert.False(t, executed.Load(), "handler must not run a cancelled job")
	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCancelled, got.Status, "terminal cancelled is never overwritten")
	assert.Equal(t, 0, got.Attempts)
}

func TestExecutor_SettleSkippedWhenRowLeftRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	exec, store := newTestExecutor(t,
		ExecutorConfig{MaxConcurrent: 2, MaxAttempts: 3, Backoff: testBackoff()},
		&stubHandler{JobTypeDisableUser, func(context.Context, *Job) (json.RawMessage, error) {
			close(started)
			<-release
			return json.RawMessage(`{}`), nil
		}},
	)

	job, err := store.InsertJob(JobTypeDisableUser, "E1", time.Now(), nil)
	require.NoError(t, err)
	require.True(t, exec.Dispatch(context.Background(), job))
	<-started

	// An operator resets the row under the in-flight attempt.
	require.NoError(t, store.MarkJob(job.ID, JobUpdate{Status: util.Ptr(JobStatusFailed)}))

	close(release)
	exec.Wait()

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status, "settle must not overwrite a row that left running")
	assert.Nil(t, got.Result)
}

func TestExecutor_FailureHookFiresOnTerminalFailureOnly(t *testing.T) {
	type failure struct {
		jobID   string
		errText string
	}
	var mu sync.Mutex
	var failures []failure
	hook := func(job *Job, errText string) {
		mu.Lock()
		failures = append(failures, failure{job.ID, errText})
		mu.Unlock()
	}

	exec, store := newTestExecutor(t,
		ExecutorConfig{MaxConcurrent: 2, MaxAttempts: 2, Backoff: testBackoff()},
		&stubHandler{JobTypeCreateFromCandidate, func(context.Context, *Job) (json.RawMessage, error) {
			return nil, nil
		}},
		&stubHandler{JobTypeDisableUser, func(context.Context, *Job) (json.RawMessage, error) {
			return nil, errors.New("directory 503")
		}},
		&stubHandler{JobTypeDeleteUser, func(context.Context, *Job) (json.RawMessage, error) {
			return nil, errors.Wrap(errors.ErrNotFound, "no principal")
		}},
	)
	exec.SetFailureHook(hook)

	okJob, err := store.InsertJob(JobTypeCreateFromCandidate, "C1", time.Now(), nil)
	require.NoError(t, err)
	retryJob, err := store.InsertJob(JobTypeDisableUser, "E1", time.Now(), nil)
	require.NoError(t, err)
	fatalJob, err := store.InsertJob(JobTypeDeleteUser, "E2", time.Now(), nil)
	require.NoError(t, err)

	for _, j := range []*Job{okJob, retryJob, fatalJob} {
		require.True(t, exec.Dispatch(context.Background(), j))
	}
	exec.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 1, "success and retryable failure do not notify")
	assert.Equal(t, fatalJob.ID, failures[0].jobID)
	assert.Contains(t, failures[0].errText, "no principal")
}

func TestExecutor_ConcurrencyCeilingAndDuplicateDispatch(t *testing.T) {
	release := make(chan struct{})
	exec, store := newTestExecutor(t,
		ExecutorConfig{MaxConcurrent: 1, MaxAttempts: 3, Backoff: testBackoff()},
		&stubHandler{JobTypeCreateFromCandidate, func(ctx context.Context, _ *Job) (json.RawMessage, error) {
			<-release
			return nil, nil
		}},
	)

	job1, err := store.InsertJob(JobTypeCreateFromCandidate, "C1", time.Now(), nil)
	require.NoError(t, err)
	job2, err := store.InsertJob(JobTypeCreateFromCandidate, "C2", time.Now(), nil)
	require.NoError(t, err)

	require.True(t, exec.Dispatch(context.Background(), job1))
	assert.False(t, exec.Dispatch(context.Background(), job1), "same job cannot be dispatched twice")
	assert.False(t, exec.Dispatch(context.Background(), job2), "ceiling of 1 rejects a second job")
	assert.Equal(t, 1, exec.InFlight())

	close(release)
	exec.Wait()
	assert.Equal(t, 0, exec.InFlight())

	// With the slot free the second job dispatches normally.
	require.True(t, exec.Dispatch(context.Background(), job2))
	exec.Wait()
}

func TestExecutor_RedactsErrorText(t *testing.T) {
	exec, store := newTestExecutor(t,
		ExecutorConfig{MaxConcurrent: 1, MaxAttempts: 3, Backoff: testBackoff()},
		&stubHandler{JobTypeDisableUser, func(context.Context, *Job) (json.RawMessage, error) {
			return nil, errors.New("rejected for ada.lovelace@example.com")
		}},
	)
	exec.SetRedactor(func(s string) string {
		return strings.ReplaceAll(s, "ada.lovelace@example.com", "[redacted-email]")
	})

	job, err := store.InsertJob(JobTypeDisableUser, "E1", time.Now(), nil)
	require.NoError(t, err)
	require.True(t, exec.Dispatch(context.Background(), job))
	exec.Wait()

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.LastError, "ada.lovelace@example.com")
	assert.Contains(t, got.LastError, "[redacted-email]")
}

func TestExecutor_TruncatesLongErrors(t *testing.T) {
	exec, store := newTestExecutor(t,
		ExecutorConfig{MaxConcurrent: 1, MaxAttempts: 3, Backoff: testBackoff()},
		&stubHandler{JobTypeDisableUser, func(context.Context, *Job) (json.RawMessage, error) {
			return nil, errors.New(strings.Repeat("x", 2000))
		}},
	)

	job, err := store.InsertJob(JobTypeDisableUser, "E1", time.Now(), nil)
	require.NoError(t, err)
	require.True(t, exec.Dispatch(context.Background(), job))
	exec.Wait()

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Len(t, got.LastError, maxStoredErrorLen)
}
