package sched

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/teranos/staffsync/errors"
)

// cooldownKeyPrefix namespaces cooldown markers in the kv table.
const cooldownKeyPrefix = "COOLDOWN_UNTIL:"

// KV is a generic key/value layer over the sync_kv table. It backs two
// concerns: cooldown markers keyed by correlation id, and monotonically
// advancing sequence counters used as a fallback business-id source.
// Entries are overwritten in place and never deleted.
type KV struct {
	db *sql.DB
}

// NewKV creates a KV store over the shared database handle.
func NewKV(db *sql.DB) *KV {
	return &KV{db: db}
}

// Get returns the value for key. The second return is false when the key
// has never been written.
func (kv *KV) Get(key string) (string, bool, error) {
	var value string
	err := kv.db.QueryRow(`SELECT value FROM sync_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to get kv %s", key)
	}
	return value, true, nil
}

// Set upserts key to value.
func (kv *KV) Set(key, value string) error {
	_, err := kv.db.Exec(`
		INSERT INTO sync_kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to set kv %s", key)
	}
	return nil
}

// NextSequence atomically increments and returns the counter stored under
// key. The first call returns 1.
func (kv *KV) NextSequence(key string) (int64, error) {
	tx, err := kv.db.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin sequence tx")
	}
	defer tx.Rollback()

	var current int64
	var raw string
	err = tx.QueryRow(`SELECT value FROM sync_kv WHERE key = ?`, key).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
	case err != nil:
		return 0, errors.Wrapf(err, "failed to read sequence %s", key)
	default:
		current, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "sequence %s holds non-numeric value %q", key, raw)
		}
	}

	next := current + 1
	_, err = tx.Exec(`
		INSERT INTO sync_kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, strconv.FormatInt(next, 10), time.Now().UTC(),
	)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to advance sequence %s", key)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit sequence tx")
	}
	return next, nil
}

// SetCooldown records that mutations for correlationID completed and further
// triggers should be suppressed until the given instant.
func (kv *KV) SetCooldown(correlationID string, until time.Time) error {
	return kv.Set(cooldownKey(correlationID), until.UTC().Format(time.RFC3339))
}

// CooldownRemaining returns how long the cooldown for correlationID still
// has to run, or 0 if none is active. An unparseable marker is treated as
// expired rather than blocking triggers forever.
func (kv *KV) CooldownRemaining(correlationID string, now time.Time) (time.Duration, error) {
	raw, ok, err := kv.Get(cooldownKey(correlationID))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	until, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, nil
	}

	remaining := until.Sub(now)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

func cooldownKey(correlationID string) string {
	return fmt.Sprintf("%s%s", cooldownKeyPrefix, correlationID)
}
