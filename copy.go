package structstore

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/structstore/internal/arena"
	"github.com/hupe1980/structstore/internal/lock"
)

// copier produces detached trees. A first pass read-locks every nested
// container and collects pointer targets; the second pass copies, recording
// the path and copy of each target so links can be filled in at the end.
type copier struct {
	n      *node
	op     string
	locked *roaring.Bitmap
	guards []*lock.Guard

	targets *roaring.Bitmap
	found   map[arena.Ref]copied
	links   []copyLink
}

type copied struct {
	path  []any
	value any
}

type copyLink struct {
	link   *Link
	target arena.Ref
	gen    uint32
}

// copyCell deep-copies the value in cell r. The caller holds a lock on n
// and has entered n's space. Link paths are relative to r.
func (n *node) copyCell(op string, r arena.Ref) (any, error) {
	c := &copier{
		n:       n,
		op:      op,
		locked:  roaring.New(),
		targets: roaring.New(),
		found:   make(map[arena.Ref]copied),
	}
	c.locked.Add(uint32(n.ref))
	defer c.release()

	if err := c.collect(r); err != nil {
		return nil, err
	}
	v, err := c.cell(r, []any{})
	if err != nil {
		return nil, err
	}
	c.resolve()
	return v, nil
}

func (c *copier) release() {
	for _, g := range c.guards {
		g.Release()
	}
	c.guards = nil
}

func (c *copier) collect(r arena.Ref) error {
	sp := c.n.sp
	cl := sp.cellAt(r)
	switch cl.kind {
	case KindPointer:
		if target, _ := unpackPointer(cl.bits); target != arena.Null {
			c.targets.Add(uint32(target))
		}
		return nil
	case KindStore, KindList, KindMatrix:
	default:
		return nil
	}

	child := c.n.child(cl)
	if c.locked.CheckedAdd(uint32(child.ref)) {
		g, err := child.read(c.op)
		if err != nil {
			return err
		}
		c.guards = append(c.guards, g)
	}
	switch cl.kind {
	case KindStore:
		for _, e := range sp.entries(sp.storeAt(child.ref)) {
			if err := c.collect(arena.Ref(e.cell)); err != nil {
				return err
			}
		}
	case KindList:
		for _, it := range sp.items(sp.listAt(child.ref)) {
			if err := c.collect(arena.Ref(it)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *copier) cell(r arena.Ref, path []any) (any, error) {
	v, err := c.value(r, path)
	if err != nil {
		return nil, err
	}
	if c.targets.Contains(uint32(r)) {
		c.found[r] = copied{path: path, value: v}
	}
	return v, nil
}

func (c *copier) value(r arena.Ref, path []any) (any, error) {
	sp := c.n.sp
	cl := sp.cellAt(r)
	switch cl.kind {
	case KindStore:
		h := sp.storeAt(arena.Ref(cl.bits))
		es := sp.entries(h)
		m := &Map{index: make(map[string]int, len(es))}
		for i := range es {
			name := string(sp.name(&es[i]))
			v, err := c.cell(arena.Ref(es[i].cell), append(slices.Clip(path), name))
			if err != nil {
				return nil, err
			}
			m.Set(name, v)
		}
		return m, nil
	case KindList:
		items := sp.items(sp.listAt(arena.Ref(cl.bits)))
		out := make([]any, len(items))
		for i, it := range items {
			v, err := c.cell(arena.Ref(it), append(slices.Clip(path), i))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case KindMatrix:
		m := Matrix{node: c.n.child(cl)}
		return m.array(m.hdr()), nil
	case KindPointer:
		l := &Link{}
		if target, gen := unpackPointer(cl.bits); target != arena.Null {
			c.links = append(c.links, copyLink{link: l, target: target, gen: gen})
		}
		return l, nil
	case KindManaged:
		v, err := c.n.load(cl)
		if err != nil {
			return nil, err
		}
		return v.(ManagedObject).DeepCopy(), nil
	default:
		return c.n.load(cl)
	}
}

// resolve fills links whose target was copied. Links to cells outside the
// copied tree, or to freed cells, stay null.
func (c *copier) resolve() {
	sp := c.n.sp
	for _, l := range c.links {
		f, ok := c.found[l.target]
		if !ok || !sp.validCell(l.target) || sp.cellAt(l.target).gen != l.gen {
			continue
		}
		l.link.Path = f.path
		l.link.Value = f.value
	}
}

// deepCopyNode copies the container n under an implicit read lock.
func deepCopyNode(op string, n *node) (any, error) {
	if err := n.sp.enter(op); err != nil {
		return nil, err
	}
	defer n.sp.leave()

	g, err := n.read(op)
	if err != nil {
		return nil, err
	}
	defer g.Release()

	h, err := n.header(op)
	if err != nil {
		return nil, err
	}
	return n.copyCell(op, arena.Ref(h.cell))
}

// equalNode compares n with a handle or a plain tree. The other side is
// detached first so no two containers are locked at once.
func equalNode(op string, n *node, other any) (bool, error) {
	var want any
	switch o := other.(type) {
	case *Store:
		v, err := deepCopyNode(op, &o.node)
		if err != nil {
			return false, err
		}
		want = v
	case *List:
		v, err := deepCopyNode(op, &o.node)
		if err != nil {
			return false, err
		}
		want = v
	case *Matrix:
		v, err := o.DeepCopy()
		if err != nil {
			return false, err
		}
		want = v
	default:
		v, err := plainify(op, other, 0)
		if err != nil {
			return false, err
		}
		want = v
	}

	got, err := deepCopyNode(op, n)
	if err != nil {
		return false, err
	}
	return plainEqual(got, want), nil
}

// plainLink returns l with integer path elements as int, the form copied
// links carry.
func plainLink(l *Link) *Link {
	if l.IsNull() {
		return l
	}
	path := make([]any, len(l.Path))
	for i, p := range l.Path {
		if _, ok := p.(string); ok {
			path[i] = p
			continue
		}
		if n := toInt(p); n >= 0 {
			path[i] = n
			continue
		}
		path[i] = p
	}
	return &Link{Path: path, Value: l.Value}
}

// plainify converts a caller's plain tree to the canonical forms deep copies
// use, so that int 1 compares equal to a stored Int 1.
func plainify(op string, v any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, newError(op, ErrTypeMismatch, "value nests deeper than %d levels", maxDepth)
	}
	switch x := v.(type) {
	case nil, bool, int64, float64, string, *Array, ManagedObject:
		return x, nil
	case *Link:
		return plainLink(x), nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		return unsignedInt(op, uint64(x))
	case uint64:
		return unsignedInt(op, x)
	case float32:
		return float64(x), nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			p, err := plainify(op, e, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case *Map:
		out := &Map{index: make(map[string]int, x.Len())}
		for k, e := range x.All() {
			p, err := plainify(op, e, depth+1)
			if err != nil {
				return nil, err
			}
			out.Set(k, p)
		}
		return out, nil
	case *Store:
		return deepCopyNode(op, &x.node)
	case *List:
		return deepCopyNode(op, &x.node)
	case *Matrix:
		return x.DeepCopy()
	default:
		return nil, newError(op, ErrTypeMismatch, "cannot compare with %T", v)
	}
}
