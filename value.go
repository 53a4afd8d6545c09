package structstore

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/hupe1980/structstore/internal/arena"
	"github.com/hupe1980/structstore/internal/hash"
)

// maxDepth bounds the nesting of assigned plain trees.
const maxDepth = 512

// slot is the value triple stored in a cell.
type slot struct {
	kind Kind
	aux  uint32
	bits uint64
}

// emptyValue stands for an empty container handle on the right-hand side of
// an assignment.
type emptyValue struct {
	kind  Kind
	dtype DType
	src   *node
}

// normalize validates v completely and converts it to the canonical input
// forms the builder understands. Nothing is allocated in the arena.
func (sp *space) normalize(op string, v any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, newError(op, ErrTypeMismatch, "value nests deeper than %d levels", maxDepth)
	}
	switch x := v.(type) {
	case nil, bool, int64, float64, string:
		return x, nil
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
			n, err := sp.normalize(op, e, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case *Map:
		out := &Map{index: make(map[string]int, x.Len())}
		for k, e := range x.All() {
			n, err := sp.normalize(op, e, depth+1)
			if err != nil {
				return nil, err
			}
			out.Set(k, n)
		}
		return out, nil
	case *Array:
		if x == nil {
			return nil, newError(op, ErrTypeMismatch, "nil matrix")
		}
		if err := x.validate(op); err != nil {
			return nil, err
		}
		return x, nil
	case *Link, emptyValue:
		return x, nil
	case Ref:
		return sp.normalizeRef(op, x)
	case *Pointer:
		return sp.normalizeRef(op, x.target)
	case *Store:
		return normalizeHandle(op, &x.node)
	case *List:
		return normalizeHandle(op, &x.node)
	case *Matrix:
		return normalizeHandle(op, &x.node)
	case ManagedObject:
		if _, ok := lookupManaged(x.TypeName()); !ok {
			return nil, newError(op, ErrTypeMismatch, "managed type %q is not registered", x.TypeName())
		}
		for _, r := range x.Pointers() {
			if _, err := sp.normalizeRef(op, r); err != nil {
				return nil, err
			}
		}
		return x, nil
	default:
		return nil, newError(op, ErrTypeMismatch, "unsupported value type %T", v)
	}
}

func unsignedInt(op string, v uint64) (any, error) {
	if v > math.MaxInt64 {
		return nil, newError(op, ErrTypeMismatch, "integer %d overflows Int", v)
	}
	return int64(v), nil
}

func (sp *space) normalizeRef(op string, r Ref) (any, error) {
	if r.IsNull() {
		return Ref{}, nil
	}
	if r.arena != sp.id {
		return nil, newError(op, ErrCrossArenaPointer, "pointer target lives in arena %s, not %s", r.arena, sp.id)
	}
	return r, nil
}

// normalizeHandle accepts a live container only when it is empty.
func normalizeHandle(op string, n *node) (any, error) {
	if err := n.sp.enter(op); err != nil {
		return nil, err
	}
	defer n.sp.leave()

	g, err := n.read(op)
	if err != nil {
		return nil, err
	}
	defer g.Release()

	e := emptyValue{kind: n.kind, src: n}
	var size uint32
	switch n.kind {
	case KindStore:
		size = n.sp.storeAt(n.ref).len
	case KindList:
		size = n.sp.listAt(n.ref).len
	case KindMatrix:
		h := n.sp.matrixAt(n.ref)
		size, e.dtype = h.size, h.dtype
	}
	if size > 0 {
		return nil, errCopyAssign(op, n.kind)
	}
	return e, nil
}

// builder constructs new payloads. Everything it allocates is tracked so a
// failure can return the arena to its prior state before anything is linked.
type builder struct {
	sp     *space
	op     string
	dst    arena.Ref // cell the built value is linked into; link paths start here
	allocs []arena.Ref
	links  []pendingLink
}

type pendingLink struct {
	cell arena.Ref
	path []any
}

func (sp *space) newBuilder(op string, dst arena.Ref) *builder {
	return &builder{sp: sp, op: op, dst: dst}
}

func (b *builder) alloc(n int) (arena.Ref, error) {
	r, err := b.sp.alloc(b.op, n)
	if err != nil {
		return arena.Null, err
	}
	b.allocs = append(b.allocs, r)
	return r, nil
}

func (b *builder) rollback() {
	for i := len(b.allocs) - 1; i >= 0; i-- {
		b.sp.free(b.allocs[i])
	}
	b.allocs = nil
	b.links = nil
}

// newCell allocates a cell owned by container parent and fills it with v.
func (b *builder) newCell(parent arena.Ref, v any) (arena.Ref, error) {
	r, err := b.alloc(cellSize)
	if err != nil {
		return arena.Null, err
	}
	return r, b.fill(r, parent, v)
}

func (b *builder) fill(r, parent arena.Ref, v any) error {
	s, err := b.encode(v, r)
	if err != nil {
		return err
	}
	b.sp.link(r, s)
	c := b.sp.cellAt(r)
	c.parent = uint32(parent)
	c.gen = b.sp.arena.NextGen()
	return nil
}

// encode builds v's payload and returns the slot for the cell r it will live in.
func (b *builder) encode(v any, r arena.Ref) (slot, error) {
	switch x := v.(type) {
	case nil:
		return slot{kind: KindNone}, nil
	case bool:
		var bits uint64
		if x {
			bits = 1
		}
		return slot{kind: KindBool, bits: bits}, nil
	case int64:
		return slot{kind: KindInt, bits: uint64(x)}, nil
	case float64:
		return slot{kind: KindFloat, bits: math.Float64bits(x)}, nil
	case string:
		return b.str(x)
	case []any:
		return b.list(x)
	case *Map:
		return b.store(x)
	case *Array:
		return b.matrix(x)
	case emptyValue:
		return b.emptyContainer(x.kind, x.dtype)
	case Ref:
		return b.pointer(x)
	case *Link:
		if !x.IsNull() {
			b.links = append(b.links, pendingLink{cell: r, path: x.Path})
		}
		return slot{kind: KindPointer}, nil
	case ManagedObject:
		return b.managed(x)
	default:
		return slot{}, newError(b.op, ErrTypeMismatch, "unsupported value type %T", v)
	}
}

func (b *builder) str(s string) (slot, error) {
	if len(s) == 0 {
		return slot{kind: KindString}, nil
	}
	if uint64(len(s)) > math.MaxUint32 {
		return slot{}, newError(b.op, ErrOutOfMemory, "string of %d bytes does not fit an arena", len(s))
	}
	r, err := b.alloc(len(s))
	if err != nil {
		return slot{}, err
	}
	copy(b.sp.arena.Bytes(r, len(s)), s)
	return slot{kind: KindString, aux: uint32(len(s)), bits: uint64(r)}, nil
}

func (b *builder) header(k Kind) (arena.Ref, error) {
	r, err := b.alloc(headerSize(k))
	if err != nil {
		return arena.Null, err
	}
	h := b.sp.chdrAt(r)
	h.magic = magicOf(k)
	h.gen = b.sp.arena.NextGen()
	return r, nil
}

func (b *builder) emptyContainer(k Kind, dtype DType) (slot, error) {
	r, err := b.header(k)
	if err != nil {
		return slot{}, err
	}
	if k == KindMatrix {
		if dtype == 0 {
			dtype = Float64
		}
		b.sp.matrixAt(r).dtype = dtype
	}
	return slot{kind: k, bits: uint64(r)}, nil
}

func (b *builder) table(n, elemSize int) (arena.Ref, uint32, error) {
	capacity := max(minTableCap, n)
	r, err := b.alloc(capacity * elemSize)
	if err != nil {
		return arena.Null, 0, err
	}
	return r, uint32(capacity), nil
}

func (b *builder) store(m *Map) (slot, error) {
	hr, err := b.header(KindStore)
	if err != nil {
		return slot{}, err
	}
	if m.Len() == 0 {
		return slot{kind: KindStore, bits: uint64(hr)}, nil
	}
	tbl, capacity, err := b.table(m.Len(), entrySize)
	if err != nil {
		return slot{}, err
	}
	h := b.sp.storeAt(hr)
	h.entries, h.cap = uint32(tbl), capacity
	for k, v := range m.All() {
		name, err := b.name(k)
		if err != nil {
			return slot{}, err
		}
		cr, err := b.newCell(hr, v)
		if err != nil {
			return slot{}, err
		}
		h.len++
		b.sp.entries(h)[h.len-1] = entry{hash: hash.String(k), name: uint32(name), nameLen: uint32(len(k)), cell: uint32(cr)}
	}
	return slot{kind: KindStore, bits: uint64(hr)}, nil
}

func (b *builder) name(k string) (arena.Ref, error) {
	if len(k) == 0 {
		return arena.Null, nil
	}
	r, err := b.alloc(len(k))
	if err != nil {
		return arena.Null, err
	}
	copy(b.sp.arena.Bytes(r, len(k)), k)
	return r, nil
}

func (b *builder) list(xs []any) (slot, error) {
	hr, err := b.header(KindList)
	if err != nil {
		return slot{}, err
	}
	if len(xs) == 0 {
		return slot{kind: KindList, bits: uint64(hr)}, nil
	}
	tbl, capacity, err := b.table(len(xs), 4)
	if err != nil {
		return slot{}, err
	}
	h := b.sp.listAt(hr)
	h.items, h.cap = uint32(tbl), capacity
	for _, v := range xs {
		cr, err := b.newCell(hr, v)
		if err != nil {
			return slot{}, err
		}
		h.len++
		b.sp.items(h)[h.len-1] = uint32(cr)
	}
	return slot{kind: KindList, bits: uint64(hr)}, nil
}

func (b *builder) matrix(a *Array) (slot, error) {
	hr, err := b.header(KindMatrix)
	if err != nil {
		return slot{}, err
	}
	data, err := b.bytes(a.Data)
	if err != nil {
		return slot{}, err
	}
	h := b.sp.matrixAt(hr)
	h.dtype = a.DType
	h.ndim = uint8(len(a.Shape))
	for i, d := range a.Shape {
		h.shape[i] = uint32(d)
	}
	h.data, h.size = uint32(data), uint32(len(a.Data))
	return slot{kind: KindMatrix, bits: uint64(hr)}, nil
}

func (b *builder) bytes(p []byte) (arena.Ref, error) {
	if len(p) == 0 {
		return arena.Null, nil
	}
	r, err := b.alloc(len(p))
	if err != nil {
		return arena.Null, err
	}
	copy(b.sp.arena.Bytes(r, len(p)), p)
	return r, nil
}

func (b *builder) pointer(r Ref) (slot, error) {
	if r.IsNull() {
		return slot{kind: KindPointer}, nil
	}
	if !b.sp.validCell(r.cell) || b.sp.cellAt(r.cell).gen != r.gen {
		return slot{}, newError(b.op, ErrInvalidReference, "pointer target no longer exists")
	}
	return slot{kind: KindPointer, bits: packPointer(r.cell, r.gen)}, nil
}

// managed stores a plugin payload as [nameLen u32][dataLen u32][name][data].
func (b *builder) managed(obj ManagedObject) (slot, error) {
	data, err := obj.MarshalBinary()
	if err != nil {
		return slot{}, &Error{Op: b.op, Kind: ErrTypeMismatch, Msg: "managed object: " + err.Error(), cause: err}
	}
	name := obj.TypeName()
	n := 8 + len(name) + len(data)
	if uint64(n) > math.MaxUint32 {
		return slot{}, newError(b.op, ErrOutOfMemory, "managed object of %d bytes does not fit an arena", n)
	}
	r, err := b.alloc(n)
	if err != nil {
		return slot{}, err
	}
	blob := b.sp.arena.Bytes(r, n)
	binary.LittleEndian.PutUint32(blob[0:], uint32(len(name)))
	binary.LittleEndian.PutUint32(blob[4:], uint32(len(data)))
	copy(blob[8:], name)
	copy(blob[8+len(name):], data)
	return slot{kind: KindManaged, aux: uint32(n), bits: uint64(r)}, nil
}

// finish points pending links at their targets. It runs once the built
// value is linked into b.dst. Paths that lead nowhere stay null.
func (b *builder) finish() {
	for _, l := range b.links {
		if target, ok := b.follow(l.path); ok {
			b.sp.cellAt(l.cell).bits = packPointer(target, b.sp.cellAt(target).gen)
		}
	}
	b.links = nil
	b.allocs = nil
}

func (b *builder) follow(path []any) (arena.Ref, bool) {
	sp := b.sp
	cur := b.dst
	for _, p := range path {
		c := sp.cellAt(cur)
		switch k := p.(type) {
		case string:
			if c.kind != KindStore {
				return arena.Null, false
			}
			h := sp.storeAt(arena.Ref(c.bits))
			i := sp.find(h, k)
			if i < 0 {
				return arena.Null, false
			}
			cur = arena.Ref(sp.entries(h)[i].cell)
		case int, int64:
			i := toInt(k)
			if c.kind != KindList {
				return arena.Null, false
			}
			items := sp.items(sp.listAt(arena.Ref(c.bits)))
			if i < 0 || i >= len(items) {
				return arena.Null, false
			}
			cur = arena.Ref(items[i])
		default:
			return arena.Null, false
		}
	}
	return cur, true
}

func toInt(v any) int {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return -1
	}
}

// find returns the index of name in h's entry table, or -1.
func (sp *space) find(h *storeHdr, name string) int {
	hv := hash.String(name)
	es := sp.entries(h)
	for i := range es {
		e := &es[i]
		if e.hash == hv && int(e.nameLen) == len(name) && string(sp.name(e)) == name {
			return i
		}
	}
	return -1
}

// load converts the value in c for the caller. Containers become handles
// acting for n's owner.
func (n *node) load(c *cell) (any, error) {
	sp := n.sp
	switch c.kind {
	case KindNone:
		return nil, nil
	case KindBool:
		return c.bits != 0, nil
	case KindInt:
		return int64(c.bits), nil
	case KindFloat:
		return math.Float64frombits(c.bits), nil
	case KindString:
		return string(sp.str(c)), nil
	case KindStore:
		return &Store{node: n.child(c)}, nil
	case KindList:
		return &List{node: n.child(c)}, nil
	case KindMatrix:
		return &Matrix{node: n.child(c)}, nil
	case KindPointer:
		target, gen := unpackPointer(c.bits)
		return &Pointer{sp: sp, owner: n.owner, target: Ref{arena: sp.id, cell: target, gen: gen}}, nil
	case KindManaged:
		name, data, err := sp.managedBlob(c)
		if err != nil {
			return nil, err
		}
		return decodeManaged(name, bytes.Clone(data))
	default:
		return nil, newError("load", ErrCorrupt, "cell holds unknown kind %d", uint8(c.kind))
	}
}

func (sp *space) managedBlob(c *cell) (string, []byte, error) {
	blob := sp.arena.Bytes(arena.Ref(c.bits), int(c.aux))
	if len(blob) < 8 {
		return "", nil, newError("load", ErrCorrupt, "managed object blob is truncated")
	}
	nl := binary.LittleEndian.Uint32(blob[0:])
	dl := binary.LittleEndian.Uint32(blob[4:])
	if uint64(nl)+uint64(dl)+8 != uint64(len(blob)) {
		return "", nil, newError("load", ErrCorrupt, "managed object blob is malformed")
	}
	return string(blob[8 : 8+nl]), blob[8+nl:], nil
}

// lockSubtree write-locks every container below s for n's owner. The
// containers are about to be destroyed, so one the owner already holds is a
// protocol violation. On failure nothing stays locked.
func (n *node) lockSubtree(op string, s slot) ([]arena.Ref, error) {
	var locked []arena.Ref
	err := n.walkContainers(s, func(r arena.Ref) error {
		h := n.sp.chdrAt(r)
		if h.state.WriteHeldBy(n.owner) {
			return newError(op, ErrLockProtocolViolation, "cannot destroy a container while its write lock is held")
		}
		if err := h.state.Lock(n.owner, n.sp.opts.lockTimeout); err != nil {
			return translateError(op, err)
		}
		locked = append(locked, r)
		return nil
	})
	if err != nil {
		n.unlockAll(locked)
		return nil, err
	}
	return locked, nil
}

func (n *node) unlockAll(refs []arena.Ref) {
	for _, r := range refs {
		_ = n.sp.chdrAt(r).state.Unlock(n.owner)
	}
}

func (n *node) walkContainers(s slot, fn func(arena.Ref) error) error {
	if !s.kind.container() {
		return nil
	}
	r := arena.Ref(s.bits)
	if err := fn(r); err != nil {
		return err
	}
	sp := n.sp
	switch s.kind {
	case KindStore:
		for _, e := range sp.entries(sp.storeAt(r)) {
			if err := n.walkContainers(sp.cellAt(arena.Ref(e.cell)).slot(), fn); err != nil {
				return err
			}
		}
	case KindList:
		for _, it := range sp.items(sp.listAt(r)) {
			if err := n.walkContainers(sp.cellAt(arena.Ref(it)).slot(), fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// teardown frees the payload of s. Containers below s must be write-locked
// by n's owner (see lockSubtree); they are invalidated and unlocked before
// their memory is returned.
func (n *node) teardown(s slot) {
	sp := n.sp
	switch s.kind {
	case KindString, KindManaged:
		if s.aux > 0 {
			sp.free(arena.Ref(s.bits))
		}
	case KindStore:
		r := arena.Ref(s.bits)
		h := sp.storeAt(r)
		for _, e := range sp.entries(h) {
			n.freeCell(arena.Ref(e.cell))
			sp.free(arena.Ref(e.name))
		}
		sp.free(arena.Ref(h.entries))
		n.retire(r)
	case KindList:
		r := arena.Ref(s.bits)
		h := sp.listAt(r)
		for _, it := range sp.items(h) {
			n.freeCell(arena.Ref(it))
		}
		sp.free(arena.Ref(h.items))
		n.retire(r)
	case KindMatrix:
		r := arena.Ref(s.bits)
		sp.free(arena.Ref(sp.matrixAt(r).data))
		n.retire(r)
	}
}

func (n *node) freeCell(r arena.Ref) {
	c := n.sp.cellAt(r)
	s := c.slot()
	c.gen = 0
	c.kind, c.aux, c.bits = KindNone, 0, 0
	n.teardown(s)
	n.sp.free(r)
}

func (n *node) retire(r arena.Ref) {
	h := n.sp.chdrAt(r)
	h.magic, h.gen = 0, 0
	_ = h.state.Unlock(n.owner)
	n.sp.free(r)
}

// assign replaces the value of cell r, whose container n is write-locked by
// the caller. The new payload is complete before it is linked and the old
// one is freed only afterwards.
func (n *node) assign(op string, r arena.Ref, v any) error {
	sp := n.sp
	old := sp.cellAt(r).slot()
	if e, ok := v.(emptyValue); ok && e.src != nil && e.src.sp == sp && old.kind == e.kind && arena.Ref(old.bits) == e.src.ref {
		return nil
	}

	locked, err := n.lockSubtree(op, old)
	if err != nil {
		return err
	}
	b := sp.newBuilder(op, r)
	s, err := b.encode(v, r)
	if err != nil {
		b.rollback()
		n.unlockAll(locked)
		return err
	}
	sp.link(r, s)
	b.finish()
	n.teardown(old)
	return nil
}

// place builds v in a fresh cell owned by n, with link paths rooted at
// that cell. The caller links the cell into n and then calls finish.
func (n *node) place(op string, v any) (arena.Ref, *builder, error) {
	b := n.sp.newBuilder(op, arena.Null)
	r, err := b.alloc(cellSize)
	if err != nil {
		return arena.Null, nil, err
	}
	b.dst = r
	if err := b.fill(r, n.ref, v); err != nil {
		b.rollback()
		return arena.Null, nil, err
	}
	return r, b, nil
}

// kindOfValue returns the kind of a loaded value.
func kindOfValue(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNone
	case bool:
		return KindBool
	case int64:
		return KindInt
	case float64:
		return KindFloat
	case string:
		return KindString
	case *Store:
		return KindStore
	case *List:
		return KindList
	case *Matrix:
		return KindMatrix
	case *Pointer:
		return KindPointer
	case ManagedObject:
		return KindManaged
	default:
		return KindNone
	}
}
