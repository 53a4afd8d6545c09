package structstore

import (
	"fmt"
	"unsafe"

	"github.com/hupe1980/structstore/internal/arena"
	"github.com/hupe1980/structstore/internal/lock"
)

// Kind is the type of a value held in a cell.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindStore
	KindMatrix
	KindManaged
	KindPointer
)

var kindNames = [...]string{
	KindNone:    "None",
	KindBool:    "Bool",
	KindInt:     "Int",
	KindFloat:   "Float",
	KindString:  "String",
	KindList:    "List",
	KindStore:   "Store",
	KindMatrix:  "Matrix",
	KindManaged: "ManagedObject",
	KindPointer: "Pointer",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func (k Kind) container() bool {
	return k == KindList || k == KindStore || k == KindMatrix
}

// cell is the arena block holding one value.
//
// String: bits is the byte block, aux the length. List/Store/Matrix: bits is
// the container header. Managed: bits is the blob block, aux its length.
// Pointer: bits is targetCell | targetGen<<32, zero for null.
type cell struct {
	kind   Kind
	flags  uint8
	_      uint16
	aux    uint32
	bits   uint64
	parent uint32 // container header owning the cell, 0 for the root cell
	gen    uint32 // 0 once freed
}

const cellSize = int(unsafe.Sizeof(cell{}))

var _ [24 - cellSize]byte

const (
	magicStore  uint32 = 0x52545353 // "SSTR"
	magicList   uint32 = 0x54534c53 // "SLST"
	magicMatrix uint32 = 0x54414d53 // "SMAT"
)

// chdr starts every container header. The lock state sits at offset 8 so
// its 64-bit owner word is naturally aligned. cell is the cell holding the
// container.
type chdr struct {
	magic uint32
	gen   uint32
	state lock.State
	cell  uint32
	_     uint32
}

type storeHdr struct {
	chdr
	len     uint32
	cap     uint32
	entries uint32
	_       uint32
}

// entry is one slot of a store's entry table, kept in insertion order.
type entry struct {
	hash    uint32
	name    uint32
	nameLen uint32
	cell    uint32
}

type listHdr struct {
	chdr
	len   uint32
	cap   uint32
	items uint32
	_     uint32
}

// MaxDims is the largest number of matrix dimensions.
const MaxDims = 8

type matrixHdr struct {
	chdr
	dtype DType
	ndim  uint8
	_     uint16
	data  uint32
	size  uint32
	_     uint32
	shape [MaxDims]uint32
}

const (
	entrySize     = int(unsafe.Sizeof(entry{}))
	storeHdrSize  = int(unsafe.Sizeof(storeHdr{}))
	listHdrSize   = int(unsafe.Sizeof(listHdr{}))
	matrixHdrSize = int(unsafe.Sizeof(matrixHdr{}))
	minTableCap   = 4
)

func headerSize(k Kind) int {
	switch k {
	case KindStore:
		return storeHdrSize
	case KindList:
		return listHdrSize
	default:
		return matrixHdrSize
	}
}

func magicOf(k Kind) uint32 {
	switch k {
	case KindStore:
		return magicStore
	case KindList:
		return magicList
	default:
		return magicMatrix
	}
}

func (sp *space) cellAt(r arena.Ref) *cell {
	return (*cell)(sp.arena.Ptr(r))
}

func (sp *space) chdrAt(r arena.Ref) *chdr {
	return (*chdr)(sp.arena.Ptr(r))
}

func (sp *space) storeAt(r arena.Ref) *storeHdr {
	return (*storeHdr)(sp.arena.Ptr(r))
}

func (sp *space) listAt(r arena.Ref) *listHdr {
	return (*listHdr)(sp.arena.Ptr(r))
}

func (sp *space) matrixAt(r arena.Ref) *matrixHdr {
	return (*matrixHdr)(sp.arena.Ptr(r))
}

func (sp *space) entries(h *storeHdr) []entry {
	if h.entries == 0 || h.cap == 0 {
		return nil
	}
	return unsafe.Slice((*entry)(sp.arena.Ptr(arena.Ref(h.entries))), h.cap)[:h.len]
}

func (sp *space) items(h *listHdr) []uint32 {
	if h.items == 0 || h.cap == 0 {
		return nil
	}
	return unsafe.Slice((*uint32)(sp.arena.Ptr(arena.Ref(h.items))), h.cap)[:h.len]
}

// str returns the string bytes of a String cell. The result aliases the arena.
func (sp *space) str(c *cell) []byte {
	if c.aux == 0 {
		return nil
	}
	return sp.arena.Bytes(arena.Ref(c.bits), int(c.aux))
}

func (sp *space) name(e *entry) []byte {
	if e.nameLen == 0 {
		return nil
	}
	return sp.arena.Bytes(arena.Ref(e.name), int(e.nameLen))
}

// link writes s into cell r and records r as the owner of a container payload.
func (sp *space) link(r arena.Ref, s slot) {
	c := sp.cellAt(r)
	c.kind, c.aux, c.bits = s.kind, s.aux, s.bits
	if s.kind.container() {
		sp.chdrAt(arena.Ref(s.bits)).cell = uint32(r)
	}
}

func (c *cell) slot() slot {
	return slot{kind: c.kind, aux: c.aux, bits: c.bits}
}

func packPointer(target arena.Ref, gen uint32) uint64 {
	return uint64(target) | uint64(gen)<<32
}

func unpackPointer(bits uint64) (arena.Ref, uint32) {
	return arena.Ref(uint32(bits)), uint32(bits >> 32)
}
