package lock

import "errors"

var (
	// ErrWriteTimeout is returned when a write lock cannot be acquired in time.
	ErrWriteTimeout = errors.New("timeout while getting write lock")
	// ErrReadTimeout is returned when a read lock cannot be acquired in time.
	ErrReadTimeout = errors.New("timeout while getting read lock")
	// ErrReadWhileWriting is returned when an owner requests a read lock on a
	// state it already holds for writing.
	ErrReadWhileWriting = errors.New("trying to acquire read lock while current owner has write lock")
	// ErrNotHeld is returned when releasing a lock that is not held.
	ErrNotHeld = errors.New("lock: not held")
)
