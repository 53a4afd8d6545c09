package mmap

import (
	"os"
	"sync/atomic"
	"unsafe"
)

// Mapping represents a memory mapping.
// It owns the underlying byte slice and is responsible for unmapping it.
type Mapping struct {
	data   []byte
	size   int
	shared bool
	closed atomic.Bool
	// unmap is the platform-specific function to unmap the memory.
	unmap func([]byte) error
}

// MapAnon creates a private read-write anonymous mapping of size bytes.
// The memory lives outside the Go heap and is zero-filled.
func MapAnon(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	data, unmapFunc, err := osMapAnon(size)
	if err != nil {
		return nil, err
	}

	return &Mapping{data: data, size: size, unmap: unmapFunc}, nil
}

// MapFile maps the first size bytes of f read-write with MAP_SHARED semantics,
// so stores are visible to every process mapping the same file.
//
// A non-zero addr requests placement at exactly that address. If the kernel
// cannot honour it the call fails with ErrAddrUnavailable and nothing stays mapped.
func MapFile(f *os.File, size int, addr uintptr) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	data, unmapFunc, err := osMapShared(f, size, addr)
	if err != nil {
		return nil, err
	}

	return &Mapping{data: data, size: size, shared: true, unmap: unmapFunc}, nil
}

// Close unmaps the memory. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil // Already closed
	}
	if m.unmap != nil && m.data != nil {
		return m.unmap(m.data)
	}
	return nil
}

// Bytes returns the underlying byte slice.
// Warning: The slice is valid only until Close() is called.
// Accessing the slice after Close() results in undefined behavior (likely a crash).
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return m.size
}

// Shared reports whether the mapping is backed by a shared file.
func (m *Mapping) Shared() bool {
	return m.shared
}

// Addr returns the base address of the mapping, or 0 once closed.
func (m *Mapping) Addr() uintptr {
	if m.closed.Load() || len(m.data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&m.data[0]))
}
