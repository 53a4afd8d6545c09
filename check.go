package structstore

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/structstore/internal/arena"
	"github.com/hupe1980/structstore/internal/lock"
)

// Check validates the allocator and the whole value tree of the store's
// arena: headers, ownership links, table bounds and that every allocated
// block is owned by exactly one value. It takes read locks on every
// container while it runs.
func (s *Store) Check() error {
	const op = "Store.Check"
	if err := s.sp.enter(op); err != nil {
		return err
	}
	defer s.sp.leave()
	return s.sp.check(op, s.owner)
}

type checker struct {
	sp     *space
	op     string
	owner  lock.Owner
	blocks *roaring.Bitmap
	used   uint64
	guards []*lock.Guard
}

func (sp *space) check(op string, owner lock.Owner) error {
	if err := sp.arena.Check(); err != nil {
		return translateError(op, err)
	}
	c := &checker{sp: sp, op: op, owner: owner, blocks: roaring.New()}
	defer func() {
		for _, g := range c.guards {
			g.Release()
		}
	}()

	root := sp.arena.Root()
	if !sp.validCell(root) {
		return newError(op, ErrCorrupt, "arena has no root cell")
	}
	if err := c.cell(root, arena.Null); err != nil {
		return err
	}
	if st := sp.arena.Stats(); st.UsedBytes != c.used {
		return newError(op, ErrCorrupt, "%d allocated bytes are not reachable from the root", int64(st.UsedBytes)-int64(c.used))
	}
	return nil
}

// claim records ownership of the block at r.
func (c *checker) claim(r arena.Ref, n int) error {
	if r == arena.Null {
		if n == 0 {
			return nil
		}
		return newError(c.op, ErrCorrupt, "missing block of %d bytes", n)
	}
	size, err := c.sp.arena.BlockSize(r)
	if err != nil {
		return newError(c.op, ErrCorrupt, "block %d: %v", uint32(r), err)
	}
	if size < n {
		return newError(c.op, ErrCorrupt, "block %d holds %d bytes, needs %d", uint32(r), size, n)
	}
	if !c.blocks.CheckedAdd(uint32(r)) {
		return newError(c.op, ErrCorrupt, "block %d is owned twice", uint32(r))
	}
	c.used += uint64(size + arena.Overhead)
	return nil
}

func (c *checker) cell(r, parent arena.Ref) error {
	sp := c.sp
	if err := c.claim(r, cellSize); err != nil {
		return err
	}
	cl := sp.cellAt(r)
	if cl.gen == 0 {
		return newError(c.op, ErrCorrupt, "cell %d has no generation", uint32(r))
	}
	if arena.Ref(cl.parent) != parent {
		return newError(c.op, ErrCorrupt, "cell %d names parent %d, is held by %d", uint32(r), cl.parent, uint32(parent))
	}
	switch cl.kind {
	case KindNone, KindBool, KindInt, KindFloat, KindPointer:
		return nil
	case KindString, KindManaged:
		if cl.aux == 0 {
			return nil
		}
		if err := c.claim(arena.Ref(cl.bits), int(cl.aux)); err != nil {
			return err
		}
		if cl.kind == KindManaged {
			if _, _, err := sp.managedBlob(cl); err != nil {
				return err
			}
		}
		return nil
	case KindStore, KindList, KindMatrix:
		return c.container(r, cl)
	default:
		return newError(c.op, ErrCorrupt, "cell %d holds unknown kind %d", uint32(r), uint8(cl.kind))
	}
}

func (c *checker) container(r arena.Ref, cl *cell) error {
	sp := c.sp
	hr := arena.Ref(cl.bits)
	if !sp.validHeader(hr, cl.kind) {
		return newError(c.op, ErrCorrupt, "cell %d: bad %s header", uint32(r), cl.kind)
	}
	if err := c.claim(hr, headerSize(cl.kind)); err != nil {
		return err
	}
	h := sp.chdrAt(hr)
	if arena.Ref(h.cell) != r || h.gen == 0 {
		return newError(c.op, ErrCorrupt, "%s header %d is not owned by cell %d", cl.kind, uint32(hr), uint32(r))
	}

	n := node{sp: sp, ref: hr, gen: h.gen, kind: cl.kind, owner: c.owner}
	g, err := n.read(c.op)
	if err != nil {
		return err
	}
	c.guards = append(c.guards, g)

	switch cl.kind {
	case KindStore:
		sh := sp.storeAt(hr)
		if sh.len > sh.cap {
			return newError(c.op, ErrCorrupt, "store %d: length %d exceeds capacity %d", uint32(hr), sh.len, sh.cap)
		}
		if err := c.claim(arena.Ref(sh.entries), int(sh.cap)*entrySize); err != nil {
			return err
		}
		for i, e := range sp.entries(sh) {
			if err := c.claim(arena.Ref(e.name), int(e.nameLen)); err != nil {
				return err
			}
			if sp.find(sh, string(sp.name(&e))) != i {
				return newError(c.op, ErrCorrupt, "store %d: duplicate or misfiled field %q", uint32(hr), sp.name(&e))
			}
			if err := c.cell(arena.Ref(e.cell), hr); err != nil {
				return err
			}
		}
	case KindList:
		lh := sp.listAt(hr)
		if lh.len > lh.cap {
			return newError(c.op, ErrCorrupt, "list %d: length %d exceeds capacity %d", uint32(hr), lh.len, lh.cap)
		}
		if err := c.claim(arena.Ref(lh.items), int(lh.cap)*4); err != nil {
			return err
		}
		for _, it := range sp.items(lh) {
			if err := c.cell(arena.Ref(it), hr); err != nil {
				return err
			}
		}
	case KindMatrix:
		mh := sp.matrixAt(hr)
		if mh.dtype.Size() == 0 || mh.ndim > MaxDims {
			return newError(c.op, ErrCorrupt, "matrix %d: bad dtype or rank", uint32(hr))
		}
		if mh.size > 0 {
			want := uint64(mh.dtype.Size())
			for i := range mh.ndim {
				want *= uint64(mh.shape[i])
			}
			if want != uint64(mh.size) {
				return newError(c.op, ErrCorrupt, "matrix %d: payload of %d bytes does not match its shape", uint32(hr), mh.size)
			}
		}
		if err := c.claim(arena.Ref(mh.data), int(mh.size)); err != nil {
			return err
		}
	}
	return nil
}
