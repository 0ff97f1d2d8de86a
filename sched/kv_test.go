package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqltest "github.com/teranos/staffsync/internal/testing"
)

func newTestKV(t *testing.T) *KV {
	t.Helper()
	return NewKV(sqltest.CreateTestDB(t))
}

func TestKVGetSet(t *testing.T) {
	kv := newTestKV(t)

	_, ok, err := kv.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set("k", "v1"))
	v, ok, err := kv.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", v)

	// Overwrite in place.
	require.NoError(t, kv.Set("k", "v2"))
	v, _, err = kv.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestKVNextSequence(t *testing.T) {
	kv := newTestKV(t)

	for want := int64(1); want <= 5; want++ {
		got, err := kv.NextSequence("BUSINESS_ID_SEQ")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Independent counters do not interfere.
	got, err := kv.NextSequence("OTHER_SEQ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestCooldownRoundTrip(t *testing.T) {
	kv := newTestKV(t)
	now := time.Now()

	remaining, err := kv.CooldownRemaining("C1", now)
	require.NoError(t, err)
	assert.Zero(t, remaining, "no marker means no cooldown")

	require.NoError(t, kv.SetCooldown("C1", now.Add(10*time.Minute)))

	remaining, err = kv.CooldownRemaining("C1", now)
	require.NoError(t, err)
	assert.InDelta(t, float64(10*time.Minute), float64(remaining), float64(2*time.Second))

	// Expired marker reports zero.
	remaining, err = kv.CooldownRemaining("C1", now.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, remaining)

	// Other correlation ids are unaffected.
	remaining, err = kv.CooldownRemaining("C2", now)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestCooldownUnparseableMarkerTreatedAsExpired(t *testing.T) {
	kv := newTestKV(t)

	require.NoError(t, kv.Set("COOLDOWN_UNTIL:C1", "not-a-timestamp"))
	remaining, err := kv.CooldownRemaining("C1", time.Now())
	require.NoError(t, err)
	assert.Zero(t, remaining)
}
