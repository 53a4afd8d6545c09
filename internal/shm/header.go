package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

const (
	// Magic identifies a structstore segment.
	Magic = "STSTSHM\x00"
	// Version is the segment header layout version.
	Version = uint32(1)
	// HeaderSize is the number of bytes preceding the region.
	HeaderSize = 128
)

// header is the shared segment header. Fields that change after creation
// are atomics so every process observes them consistently.
type header struct {
	magic       [8]byte
	version     uint32
	flags       uint32
	size        uint64
	creator     uint32
	cleanup     uint32
	usage       atomic.Int32
	ready       atomic.Uint32
	invalidated atomic.Uint32
	_           uint32
	createdAt   int64
}

var _ [HeaderSize - unsafe.Sizeof(header{})]byte

func headerAt(mem []byte) *header {
	return (*header)(unsafe.Pointer(&mem[0]))
}

func (h *header) validate(fileSize int64) error {
	switch {
	case string(h.magic[:]) != Magic:
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	case h.version != Version:
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.version)
	case int64(h.size) != fileSize:
		return fmt.Errorf("%w: size %d does not match file size %d", ErrCorrupt, h.size, fileSize)
	}
	return nil
}
