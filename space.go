package structstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/structstore/internal/arena"
	"github.com/hupe1980/structstore/internal/lock"
	"github.com/hupe1980/structstore/internal/mmap"
	"github.com/hupe1980/structstore/internal/shm"
)

// space is one process's view of an arena and its backing memory. Every
// public operation runs between enter and leave so that Close cannot unmap
// memory under it.
type space struct {
	mu     sync.RWMutex
	closed bool

	arena *arena.Arena
	id    uuid.UUID
	opts  options

	mapping *mmap.Mapping // private backing
	charged int64
	seg     *shm.Segment // shared backing
}

// newPrivate maps an anonymous region and formats an empty store in it.
func newPrivate(op string, capacity int, o options) (*space, error) {
	if capacity < arena.MinCapacity || uint64(capacity) > arena.MaxCapacity {
		return nil, newError(op, ErrInvalidArgument, "capacity %d out of range [%d, %d]", capacity, arena.MinCapacity, uint64(arena.MaxCapacity))
	}
	if err := o.controller.AcquireMemory(int64(capacity)); err != nil {
		return nil, translateError(op, err)
	}
	m, err := mmap.MapAnon(capacity)
	if err != nil {
		o.controller.ReleaseMemory(int64(capacity))
		return nil, translateError(op, err)
	}
	sp := &space{opts: o, mapping: m, charged: int64(capacity)}
	if err := sp.format(op, m.Bytes()); err != nil {
		m.Close()
		o.controller.ReleaseMemory(int64(capacity))
		return nil, err
	}
	return sp, nil
}

// format initializes region as an arena holding an empty root store.
func (sp *space) format(op string, region []byte) error {
	a, err := arena.Init(region)
	if err != nil {
		return translateError(op, err)
	}
	sp.arena = a
	sp.id = a.ID()

	b := sp.newBuilder(op, arena.Null)
	empty, err := b.emptyContainer(KindStore, 0)
	if err != nil {
		return err
	}
	root, err := b.alloc(cellSize)
	if err != nil {
		b.rollback()
		return err
	}
	sp.link(root, empty)
	sp.cellAt(root).gen = a.NextGen()
	a.SetRoot(root)
	return nil
}

// bind attaches to an arena formatted elsewhere and checks its root.
func (sp *space) bind(op string, region []byte) error {
	a, err := arena.Attach(region)
	if err != nil {
		return translateError(op, err)
	}
	sp.arena = a
	sp.id = a.ID()
	if _, err := sp.rootNode(op, 0); err != nil {
		return err
	}
	return nil
}

func (sp *space) enter(op string) error {
	sp.mu.RLock()
	if sp.closed {
		sp.mu.RUnlock()
		return newError(op, ErrClosed, "store is closed")
	}
	return nil
}

func (sp *space) leave() {
	sp.mu.RUnlock()
}

func (sp *space) rootNode(op string, owner lock.Owner) (node, error) {
	r := sp.arena.Root()
	if !sp.validCell(r) {
		return node{}, newError(op, ErrCorrupt, "arena has no root store")
	}
	c := sp.cellAt(r)
	if c.kind != KindStore || !sp.validHeader(arena.Ref(c.bits), KindStore) {
		return node{}, newError(op, ErrCorrupt, "arena root is %s, not a store", c.kind)
	}
	h := sp.chdrAt(arena.Ref(c.bits))
	return node{sp: sp, ref: arena.Ref(c.bits), gen: h.gen, kind: KindStore, owner: owner}, nil
}

func (sp *space) validCell(r arena.Ref) bool {
	return r%arena.Alignment == 0 && sp.arena.Contains(r) && sp.arena.Bytes(r, cellSize) != nil
}

func (sp *space) validHeader(r arena.Ref, k Kind) bool {
	if r%arena.Alignment != 0 || !sp.arena.Contains(r) || sp.arena.Bytes(r, headerSize(k)) == nil {
		return false
	}
	return sp.chdrAt(r).magic == magicOf(k)
}

func (sp *space) alloc(op string, n int) (arena.Ref, error) {
	r, err := sp.arena.Alloc(n)
	sp.opts.metricsCollector.RecordAlloc(n, err)
	if err != nil {
		err = translateError(op, err)
		sp.opts.logger.LogOutOfMemory(context.Background(), op, sp.arena.Capacity(), err)
		return arena.Null, err
	}
	return r, nil
}

func (sp *space) free(r arena.Ref) {
	if r == arena.Null {
		return
	}
	if err := sp.arena.Free(r); err != nil {
		sp.opts.logger.Error("free failed", "ref", uint32(r), "error", err)
	}
}

func (sp *space) close() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.closed {
		return nil
	}
	sp.closed = true

	var err error
	if sp.mapping != nil {
		err = sp.mapping.Close()
		sp.opts.controller.ReleaseMemory(sp.charged)
	}
	if sp.seg != nil {
		err = sp.seg.Close()
	}
	return err
}

// Stats is a point-in-time view of arena usage.
type Stats struct {
	Capacity    uint64
	UsedBytes   uint64
	FreeBytes   uint64
	FreeBlocks  uint64
	LargestFree uint64
	Allocs      uint64
	Frees       uint64
}

func (sp *space) stats() Stats {
	s := sp.arena.Stats()
	return Stats{
		Capacity:    s.Capacity,
		UsedBytes:   s.UsedBytes,
		FreeBytes:   s.FreeBytes,
		FreeBlocks:  s.FreeBlocks,
		LargestFree: s.LargestFree,
		Allocs:      s.Allocs,
		Frees:       s.Frees,
	}
}
