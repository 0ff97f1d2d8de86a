package db

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/staffsync/errors"
)

func TestIsDatabaseClosed(t *testing.T) {
	assert.False(t, IsDatabaseClosed(nil))
	assert.False(t, IsDatabaseClosed(errors.New("disk I/O error")))

	assert.True(t, IsDatabaseClosed(ErrDatabaseClosed))
	assert.True(t, IsDatabaseClosed(errors.Wrap(ErrDatabaseClosed, "fetch due jobs")))

	// Raw driver messages that cannot be wrapped at the source.
	assert.True(t, IsDatabaseClosed(errors.New("sql: database is closed")))
}
