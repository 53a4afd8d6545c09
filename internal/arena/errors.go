package arena

import "errors"

var (
	// ErrOutOfMemory is returned when no free block can satisfy a request.
	ErrOutOfMemory = errors.New("insufficient space in arena")
	// ErrInvalidRef is returned for references that do not name a live block.
	ErrInvalidRef = errors.New("arena: invalid reference")
	// ErrCorrupt is returned when the region fails validation.
	ErrCorrupt = errors.New("arena: corrupt region")
	// ErrCapacity is returned when a region is too small or too large.
	ErrCapacity = errors.New("arena: invalid capacity")
	// ErrMismatch is returned when rebinding to a region of a different arena.
	ErrMismatch = errors.New("arena: region belongs to a different arena")
)
