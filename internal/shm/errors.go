package shm

import "errors"

var (
	// ErrNotReady is returned when a segment exists but its creator has not
	// finished initializing it within the ready timeout.
	ErrNotReady = errors.New("shm: segment not ready")
	// ErrInvalidName is returned for empty names or names containing a path separator.
	ErrInvalidName = errors.New("shm: invalid segment name")
	// ErrCorrupt is returned when a segment header fails validation.
	ErrCorrupt = errors.New("shm: corrupt segment header")
	// ErrClosed is returned when using a closed segment.
	ErrClosed = errors.New("shm: segment is closed")
	// ErrTooSmall is returned when the requested size cannot hold a header and region.
	ErrTooSmall = errors.New("shm: segment size too small")
)
