package repositories

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrLockTimeout is returned when a row lock could not be acquired
	// within the configured wait window. The caller may retry the whole
	// unit of work.
	ErrLockTimeout = errors.New("timed out waiting for row lock")
)
