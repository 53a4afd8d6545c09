package structstore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/structstore/internal/arena"
	"github.com/hupe1980/structstore/internal/compress"
	"github.com/hupe1980/structstore/internal/lock"
	"github.com/hupe1980/structstore/internal/mmap"
	"github.com/hupe1980/structstore/internal/shm"
	"github.com/hupe1980/structstore/internal/wire"
	"github.com/hupe1980/structstore/resource"
)

// Error kinds. Store errors are *Error values whose Kind is one of these,
// so errors.Is(err, ErrLockTimeout) and friends work. Errors from a caller's
// io.Writer, io.Reader or context are returned unchanged.
var (
	ErrOutOfMemory           = errors.New("out of memory")
	ErrTypeMismatch          = errors.New("type mismatch")
	ErrIndexOutOfRange       = errors.New("index out of range")
	ErrUnknownField          = errors.New("unknown field")
	ErrUnsupportedOperation  = errors.New("unsupported operation")
	ErrCrossArenaPointer     = errors.New("cross-arena pointer")
	ErrLockTimeout           = errors.New("lock timeout")
	ErrLockProtocolViolation = errors.New("lock protocol violation")
	ErrInvalidReference      = errors.New("invalid reference")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrCorrupt               = errors.New("corrupt data")
	ErrNotReady              = errors.New("segment not ready")
	ErrClosed                = errors.New("store is closed")
)

// Error is the error type of all store operations.
//
// Msg is stable and meant to be matched; Op names the failing operation.
// The underlying error (if any) can be accessed via errors.Unwrap.
type Error struct {
	Op    string
	Kind  error
	Msg   string
	cause error
}

func (e *Error) Error() string { return e.Msg }

// Is reports whether target is the error's kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.cause }

func newError(op string, kind error, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func errCopyAssign(op string, k Kind) *Error {
	return newError(op, ErrUnsupportedOperation, "copy assignment of %s is not supported", k)
}

func errIndex(op string, i, n int) *Error {
	return newError(op, ErrIndexOutOfRange, "index %d out of range [0:%d]", i, n)
}

func errField(op, name string) *Error {
	return newError(op, ErrUnknownField, "unknown field %q", name)
}

func errStale(op string) *Error {
	return newError(op, ErrInvalidReference, "handle refers to a value that no longer exists")
}

// kindOf classifies errors from the internal packages.
func kindOf(err error) error {
	switch {
	case errors.Is(err, arena.ErrOutOfMemory), errors.Is(err, resource.ErrMemoryLimitExceeded):
		return ErrOutOfMemory
	case errors.Is(err, lock.ErrWriteTimeout), errors.Is(err, lock.ErrReadTimeout):
		return ErrLockTimeout
	case errors.Is(err, lock.ErrReadWhileWriting):
		return ErrLockProtocolViolation
	case errors.Is(err, arena.ErrInvalidRef):
		return ErrInvalidReference
	case errors.Is(err, arena.ErrCorrupt), errors.Is(err, arena.ErrMismatch),
		errors.Is(err, shm.ErrCorrupt), errors.Is(err, compress.ErrUnknownType),
		errors.Is(err, compress.ErrSizeMismatch), errors.Is(err, wire.ErrTruncated),
		errors.Is(err, wire.ErrMalformed), errors.Is(err, wire.ErrBadMagic),
		errors.Is(err, wire.ErrVersion), errors.Is(err, wire.ErrChecksum):
		return ErrCorrupt
	case errors.Is(err, shm.ErrNotReady):
		return ErrNotReady
	case errors.Is(err, shm.ErrClosed), errors.Is(err, mmap.ErrClosed):
		return ErrClosed
	case errors.Is(err, arena.ErrCapacity), errors.Is(err, shm.ErrInvalidName),
		errors.Is(err, shm.ErrTooSmall), errors.Is(err, mmap.ErrInvalidSize),
		errors.Is(err, mmap.ErrAddrUnavailable), errors.Is(err, mmap.ErrUnsupported):
		return ErrInvalidArgument
	default:
		return nil
	}
}

// translateError wraps internal errors into *Error. An *Error passes through
// unchanged; errors of unknown origin are returned as-is.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	kind := kindOf(err)
	if kind == nil {
		return err
	}
	return &Error{Op: op, Kind: kind, Msg: err.Error(), cause: err}
}
