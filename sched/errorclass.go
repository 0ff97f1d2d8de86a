package sched

import (
	"github.com/teranos/staffsync/errors"
)

// errFatal is the reference error marking failures that no retry resolves:
// a missing target identity, a correlation mismatch, a malformed payload.
var errFatal = errors.New("fatal job error")

// Fatal marks err so the executor fails the job immediately instead of
// retrying. The message is unchanged.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errFatal)
}

// Fatalf creates a new fatal error with a formatted message.
func Fatalf(format string, args ...interface{}) error {
	return Fatal(errors.Newf(format, args...))
}

// IsFatal reports whether err was marked fatal, or wraps ErrNotFound or
// ErrInvalidRequest. Retrying cannot conjure a missing entity or repair a
// malformed request, so those short-circuit to failed as well.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, errFatal) ||
		errors.Is(err, errors.ErrNotFound) ||
		errors.Is(err, errors.ErrInvalidRequest)
}
