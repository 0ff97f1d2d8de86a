package sched

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqltest "github.com/teranos/staffsync/internal/testing"
	"github.com/teranos/staffsync/internal/util"
)

func newTestScheduler(t *testing.T) (*Scheduler, *Store, *KV) {
	t.Helper()
	conn := sqltest.CreateTestDB(t)
	store := NewStore(conn, nil)
	kv := NewKV(conn)
	return NewScheduler(store, kv, time.Minute, nil), store, kv
}

func TestSchedule_InsertsNewJob(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	runAt := time.Now().Add(time.Hour)

	res, err := s.Schedule(JobTypeCreateFromCandidate, "C1", runAt, json.RawMessage(`{"correlationId":"C1"}`))
	require.NoError(t, err)
	assert.Equal(t, ScheduleStatusScheduled, res.Status)
	require.NotNil(t, res.Job)

	got, err := store.GetJob(res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, got.Status)
}

func TestSchedule_IdempotentWithinTolerance(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	runAt := time.Now().Add(time.Hour)

	first, err := s.Schedule(JobTypeCreateFromCandidate, "C1", runAt, nil)
	require.NoError(t, err)

	// Second trigger 30s apart lands inside the 60s tolerance.
	second, err := s.Schedule(JobTypeCreateFromCandidate, "C1", runAt.Add(30*time.Second), nil)
	require.NoError(t, err)
	assert.Equal(t, ScheduleStatusAlreadyScheduled, second.Status)
	require.NotNil(t, second.Job)
	assert.Equal(t, first.Job.ID, second.Job.ID, "identity of the existing job is returned")

	all, err := store.ListJobs(nil, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1, "no second row inserted")
}

func TestSchedule_SupersedeOutsideTolerance(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	runAt := time.Now().Add(time.Hour)

	first, err := s.Schedule(JobTypeCreateFromCandidate, "C1", runAt, nil)
	require.NoError(t, err)

	newRunAt := runAt.Add(2 * time.Hour)
	second, err := s.Schedule(JobTypeCreateFromCandidate, "C1", newRunAt, nil)
	require.NoError(t, err)
	assert.Equal(t, ScheduleStatusSuperseded, second.Status)
	require.NotNil(t, second.Job)
	assert.NotEqual(t, first.Job.ID, second.Job.ID)

	old, err := store.GetJob(first.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCancelled, old.Status)
	assert.Contains(t, old.LastError, "superseded by new schedule at",
		"audit trail records the new run time")
	assert.Contains(t, old.LastError, newRunAt.UTC().Format(time.RFC3339))

	// Exactly one cancelled, exactly one pending.
	counts, err := store.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[JobStatusCancelled])
	assert.Equal(t, 1, counts[JobStatusPending])
}

func TestSchedule_CooldownSuppresses(t *testing.T) {
	s, store, kv := newTestScheduler(t)

	require.NoError(t, kv.SetCooldown("C1", time.Now().Add(10*time.Minute)))

	res, err := s.Schedule(JobTypeCreateFromCandidate, "C1", time.Now().Add(time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, ScheduleStatusCooldownActive, res.Status)
	assert.Nil(t, res.Job)
	assert.Greater(t, res.CooldownRemaining, 9*time.Minute)

	all, err := store.ListJobs(nil, 10)
	require.NoError(t, err)
	assert.Empty(t, all, "cooldown never produces a job row")
}

func TestSchedule_RunningJobNotCancelledOnSupersede(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	runAt := time.Now().Add(time.Hour)

	first, err := s.Schedule(JobTypeDisableUser, "E1", runAt, nil)
	require.NoError(t, err)
	require.NoError(t, store.MarkJob(first.Job.ID, JobUpdate{Status: util.Ptr(JobStatusRunning)}))

	second, err := s.Schedule(JobTypeDisableUser, "E1", runAt.Add(2*time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, ScheduleStatusSuperseded, second.Status)

	// The in-flight attempt is left alone; the new job coexists.
	old, err := store.GetJob(first.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, old.Status)
}

func TestSchedule_NoCorrelationSkipsDedup(t *testing.T) {
	s, store, kv := newTestScheduler(t)

	// Cooldown markers key on correlation id; a blank id bypasses both
	// cooldown and dedup.
	require.NoError(t, kv.SetCooldown("", time.Now().Add(10*time.Minute)))

	runAt := time.Now().Add(time.Hour)
	for i := 0; i < 2; i++ {
		res, err := s.Schedule(JobTypeCreateFromCandidate, "", runAt, nil)
		require.NoError(t, err)
		assert.Equal(t, ScheduleStatusScheduled, res.Status)
	}

	all, err := store.ListJobs(nil, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
