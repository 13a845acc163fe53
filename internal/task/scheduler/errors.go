package scheduler

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidArgument is returned by Add for a nil task, an unknown policy or
	// a fixed interval shorter than one millisecond.
	ErrInvalidArgument = errors.New("scheduler: invalid argument")

	// ErrNotFound is returned when an id is not queued. Entries that are being
	// executed by a sweep are not queued.
	ErrNotFound = errors.New("scheduler: entry not found")

	// ErrClosed is returned once the scheduler has been asked to stop.
	ErrClosed = errors.New("scheduler: closed")
)
