package arena

import (
	"fmt"
	"math"
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"

	"github.com/hupe1980/structstore/internal/lock"
)

const (
	// Magic identifies a formatted region.
	Magic = "STSTAREN"
	// Version is the region layout version.
	Version = 1
	// HeaderSize is the number of bytes reserved for the arena header.
	HeaderSize = 256
	// Alignment is the alignment of every payload.
	Alignment = 8
	// MinCapacity is the smallest region Init accepts.
	MinCapacity = HeaderSize + 1024
	// MaxCapacity is the largest region Init accepts; Refs are 32-bit offsets.
	MaxCapacity = math.MaxUint32 &^ (Alignment - 1)
	// Overhead is the bookkeeping each allocated block carries in UsedBytes.
	Overhead = tagSize

	tagSize      = 8
	minPayload   = 8
	numClasses   = 32
	allocatedBit = 1
)

// Ref is the offset of a payload from the start of the region.
type Ref uint32

// Null is the zero reference. Offset 0 is inside the header and never handed out.
const Null Ref = 0

// IsNull reports whether r is the null reference.
func (r Ref) IsNull() bool { return r == Null }

type header struct {
	magic     [8]byte
	version   uint32
	flags     uint32
	capacity  uint64
	id        [16]byte
	mu        lock.Mutex
	root      atomic.Uint32
	used      uint64
	allocs    uint64
	frees     uint64
	heapStart uint32
	heapEnd   uint32
	free      [numClasses]uint32
	gen       atomic.Uint32
	_         uint32
}

// Compile-time check that the header fits its reservation.
var _ [HeaderSize - unsafe.Sizeof(header{})]byte

// Arena is a process-local handle onto a formatted region.
//
// Rebind must not run concurrently with any other method.
type Arena struct {
	region []byte
	hdr    *header
}

// Init formats region as an empty arena with a fresh identity.
func Init(region []byte) (*Arena, error) {
	if err := checkRegion(region); err != nil {
		return nil, err
	}

	a := &Arena{region: region, hdr: (*header)(unsafe.Pointer(&region[0]))}
	clear(region[:HeaderSize])

	h := a.hdr
	copy(h.magic[:], Magic)
	h.version = Version
	h.capacity = uint64(len(region))
	id := uuid.New()
	copy(h.id[:], id[:])

	end := uint32(len(region)) &^ (Alignment - 1)
	h.heapStart = HeaderSize
	h.heapEnd = end

	first := uint32(HeaderSize)
	firstSize := end - first - 2*tagSize
	a.setBlock(first, firstSize, 0, false)
	a.setBlock(end-tagSize, 0, firstSize, true)
	a.push(first)

	return a, nil
}

// Attach binds to a region previously formatted by Init.
func Attach(region []byte) (*Arena, error) {
	if len(region) < HeaderSize {
		return nil, fmt.Errorf("%w: region of %d bytes has no header", ErrCorrupt, len(region))
	}
	if err := checkAligned(region); err != nil {
		return nil, err
	}
	a := &Arena{region: region, hdr: (*header)(unsafe.Pointer(&region[0]))}
	if err := a.validateHeader(); err != nil {
		return nil, err
	}
	return a, nil
}

// Rebind points the arena at a new mapping of the same region, for example
// after the backing memory was remapped at another address. Refs stay valid.
func (a *Arena) Rebind(region []byte) error {
	other, err := Attach(region)
	if err != nil {
		return err
	}
	if other.ID() != a.ID() {
		return ErrMismatch
	}
	a.region = region
	a.hdr = other.hdr
	return nil
}

func checkRegion(region []byte) error {
	if len(region) < MinCapacity || uint64(len(region)) > MaxCapacity {
		return fmt.Errorf("%w: %d bytes (want %d..%d)", ErrCapacity, len(region), MinCapacity, uint64(MaxCapacity))
	}
	return checkAligned(region)
}

func checkAligned(region []byte) error {
	if uintptr(unsafe.Pointer(&region[0]))%Alignment != 0 {
		return fmt.Errorf("%w: region is not %d-byte aligned", ErrCapacity, Alignment)
	}
	return nil
}

func (a *Arena) validateHeader() error {
	h := a.hdr
	switch {
	case string(h.magic[:]) != Magic:
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	case h.version != Version:
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.version)
	case h.capacity != uint64(len(a.region)):
		return fmt.Errorf("%w: capacity %d does not match region of %d bytes", ErrCorrupt, h.capacity, len(a.region))
	case h.heapStart != HeaderSize || uint64(h.heapEnd) > h.capacity || h.heapEnd%Alignment != 0 || h.heapEnd < h.heapStart+2*tagSize:
		return fmt.Errorf("%w: heap bounds [%d, %d)", ErrCorrupt, h.heapStart, h.heapEnd)
	}
	return nil
}

// ID returns the arena identity assigned by Init.
func (a *Arena) ID() uuid.UUID {
	return uuid.UUID(a.hdr.id)
}

// Capacity returns the size of the region in bytes.
func (a *Arena) Capacity() int {
	return len(a.region)
}

// Base returns the current base address of the region.
func (a *Arena) Base() uintptr {
	return uintptr(unsafe.Pointer(&a.region[0]))
}

// Region returns the underlying region.
func (a *Arena) Region() []byte {
	return a.region
}

// Root returns the reference stored in the header's root slot.
func (a *Arena) Root() Ref {
	return Ref(a.hdr.root.Load())
}

// SetRoot stores r in the header's root slot.
func (a *Arena) SetRoot(r Ref) {
	a.hdr.root.Store(uint32(r))
}

// NextGen returns a new non-zero generation stamp.
func (a *Arena) NextGen() uint32 {
	for {
		if g := a.hdr.gen.Add(1); g != 0 {
			return g
		}
	}
}

// Alloc returns a zeroed block of at least n bytes.
func (a *Arena) Alloc(n int) (Ref, error) {
	if n < 0 || uint64(n) > MaxCapacity {
		return Null, fmt.Errorf("%w, requested: %d", ErrOutOfMemory, n)
	}
	size := alignUp(uint32(max(n, minPayload)))

	a.hdr.mu.Lock()
	defer a.hdr.mu.Unlock()

	b := a.find(size)
	if b == 0 {
		return Null, fmt.Errorf("%w, requested: %d", ErrOutOfMemory, n)
	}
	a.unlink(b)

	bs := a.size(b)
	if bs-size >= tagSize+minPayload {
		rest := b + tagSize + size
		restSize := bs - size - tagSize
		a.setBlock(rest, restSize, size, false)
		a.setPrevSize(rest+tagSize+restSize, restSize)
		a.push(rest)
		bs = size
	}
	a.setBlock(b, bs, a.prevSize(b), true)

	payload := b + tagSize
	clear(a.region[payload : payload+bs])

	a.hdr.used += uint64(bs + tagSize)
	a.hdr.allocs++
	return Ref(payload), nil
}

// Free returns the block at ref to the allocator.
func (a *Arena) Free(ref Ref) error {
	a.hdr.mu.Lock()
	defer a.hdr.mu.Unlock()

	b, err := a.block(ref)
	if err != nil {
		return err
	}
	if !a.allocated(b) {
		return fmt.Errorf("%w: double free of %d", ErrInvalidRef, ref)
	}

	size := a.size(b)
	a.hdr.used -= uint64(size + tagSize)
	a.hdr.frees++

	if next := b + tagSize + size; !a.allocated(next) {
		a.unlink(next)
		size += tagSize + a.size(next)
	}
	if b > a.hdr.heapStart {
		ps := a.prevSize(b)
		if prev := b - tagSize - ps; !a.allocated(prev) {
			a.unlink(prev)
			size += tagSize + ps
			b = prev
		}
	}

	a.setBlock(b, size, a.prevSize(b), false)
	a.setPrevSize(b+tagSize+size, size)
	a.push(b)
	return nil
}

// BlockSize returns the usable payload size of the live block at ref.
func (a *Arena) BlockSize(ref Ref) (int, error) {
	a.hdr.mu.Lock()
	defer a.hdr.mu.Unlock()
	b, err := a.block(ref)
	if err != nil {
		return 0, err
	}
	if !a.allocated(b) {
		return 0, fmt.Errorf("%w: %d is free", ErrInvalidRef, ref)
	}
	return int(a.size(b)), nil
}

// Ptr resolves ref against the current base.
func (a *Arena) Ptr(ref Ref) unsafe.Pointer {
	return unsafe.Pointer(&a.region[ref])
}

// Bytes returns the n bytes at ref, or nil if they fall outside the heap.
func (a *Arena) Bytes(ref Ref, n int) []byte {
	if ref == Null || n < 0 || uint64(ref)+uint64(n) > uint64(a.hdr.heapEnd) {
		return nil
	}
	end := uint32(ref) + uint32(n)
	return a.region[ref:end:end]
}

// Contains reports whether ref lies within the heap.
func (a *Arena) Contains(ref Ref) bool {
	return uint32(ref) >= a.hdr.heapStart+tagSize && uint32(ref) < a.hdr.heapEnd-tagSize
}

func (a *Arena) block(ref Ref) (uint32, error) {
	if ref%Alignment != 0 || !a.Contains(ref) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRef, ref)
	}
	b := uint32(ref) - tagSize
	if uint64(b)+2*tagSize+uint64(a.size(b)) > uint64(a.hdr.heapEnd) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRef, ref)
	}
	return b, nil
}

func (a *Arena) find(size uint32) uint32 {
	c := class(size)
	for b := a.hdr.free[c]; b != 0; b = a.next(b) {
		if a.size(b) >= size {
			return b
		}
	}
	for c++; c < numClasses; c++ {
		if b := a.hdr.free[c]; b != 0 {
			return b
		}
	}
	return 0
}

func (a *Arena) push(b uint32) {
	c := class(a.size(b))
	head := a.hdr.free[c]
	a.setNext(b, head)
	a.setPrev(b, 0)
	if head != 0 {
		a.setPrev(head, b)
	}
	a.hdr.free[c] = b
}

func (a *Arena) unlink(b uint32) {
	n, p := a.next(b), a.prev(b)
	if p != 0 {
		a.setNext(p, n)
	} else {
		a.hdr.free[class(a.size(b))] = n
	}
	if n != 0 {
		a.setPrev(n, p)
	}
}

func (a *Arena) word(off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&a.region[off]))
}

func (a *Arena) size(b uint32) uint32 { return *a.word(b) }
func (a *Arena) tag(b uint32) uint32 { return *a.word(b + 4) }
func (a *Arena) prevSize(b uint32) uint32 { return a.tag(b) &^ allocatedBit }
func (a *Arena) allocated(b uint32) bool { return a.tag(b)&allocatedBit != 0 }
func (a *Arena) next(b uint32) uint32 { return *a.word(b + tagSize) }
func (a *Arena) prev(b uint32) uint32 { return *a.word(b + tagSize + 4) }
func (a *Arena) setNext(b, v uint32) { *a.word(b + tagSize) = v }
func (a *Arena) setPrev(b, v uint32) { *a.word(b + tagSize + 4) = v }
func (a *Arena) setPrevSize(b, ps uint32) { *a.word(b + 4) = ps | a.tag(b)&allocatedBit }

func (a *Arena) setBlock(b, size, prevSize uint32, allocated bool) {
	*a.word(b) = size
	tag := prevSize
	if allocated {
		tag |= allocatedBit
	}
	*a.word(b + 4) = tag
}

func class(size uint32) int {
	return min(bits.Len32(size)-1, numClasses-1)
}

func alignUp(n uint32) uint32 {
	return (n + Alignment - 1) &^ (Alignment - 1)
}
