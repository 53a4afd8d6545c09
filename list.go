package structstore

import (
	"github.com/hupe1980/structstore/internal/arena"
)

// List is a handle to an ordered, 0-indexed sequence of values.
type List struct {
	node
}

// Fork returns a handle to the same list acting for a new lock owner.
func (l *List) Fork() *List {
	return &List{node: l.fork()}
}

// ReadLock takes an explicit shared lock on the list.
func (l *List) ReadLock() (*Guard, error) {
	return l.guard("List.ReadLock", false)
}

// WriteLock takes an explicit exclusive lock on the list.
func (l *List) WriteLock() (*Guard, error) {
	return l.guard("List.WriteLock", true)
}

func (l *List) hdr() *listHdr {
	return l.sp.listAt(l.ref)
}

// Len returns the number of elements.
func (l *List) Len() (int, error) {
	const op = "List.Len"
	if err := l.sp.enter(op); err != nil {
		return 0, err
	}
	defer l.sp.leave()

	g, err := l.read(op)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	return int(l.hdr().len), nil
}

// At returns the element at index i.
func (l *List) At(i int) (any, error) {
	v, _, err := l.at("List.At", i, false)
	return v, err
}

// BorrowAt returns the element at index i together with a read guard on
// the list.
func (l *List) BorrowAt(i int) (any, *Guard, error) {
	return l.at("List.BorrowAt", i, true)
}

func (l *List) at(op string, i int, keep bool) (any, *Guard, error) {
	if err := l.sp.enter(op); err != nil {
		return nil, nil, err
	}
	defer l.sp.leave()

	g, err := l.acquire(op, false, keep)
	if err != nil {
		return nil, nil, err
	}
	items := l.sp.items(l.hdr())
	if i < 0 || i >= len(items) {
		g.Release()
		return nil, nil, errIndex(op, i, len(items))
	}
	v, err := l.load(l.sp.cellAt(arena.Ref(items[i])))
	if err != nil || !keep {
		g.Release()
		return v, nil, err
	}
	return v, &Guard{sp: l.sp, g: g}, nil
}

// Ref returns a reference to the element cell at index i.
func (l *List) Ref(i int) (Ref, error) {
	const op = "List.Ref"
	if err := l.sp.enter(op); err != nil {
		return Ref{}, err
	}
	defer l.sp.leave()

	g, err := l.read(op)
	if err != nil {
		return Ref{}, err
	}
	defer g.Release()

	items := l.sp.items(l.hdr())
	if i < 0 || i >= len(items) {
		return Ref{}, errIndex(op, i, len(items))
	}
	return l.sp.ref(arena.Ref(items[i])), nil
}

// mutate runs fn under the list's write lock with v normalized.
func (l *List) mutate(op string, v any, fn func(nv any) error) error {
	nv, err := l.sp.normalize(op, v, 0)
	if err != nil {
		return err
	}
	if err := l.sp.enter(op); err != nil {
		return err
	}
	defer l.sp.leave()

	g, err := l.write(op)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn(nv)
}

// Set replaces the element at index i.
func (l *List) Set(i int, v any) error {
	const op = "List.Set"
	return l.mutate(op, v, func(nv any) error {
		items := l.sp.items(l.hdr())
		if i < 0 || i >= len(items) {
			return errIndex(op, i, len(items))
		}
		return l.assign(op, arena.Ref(items[i]), nv)
	})
}

// Append adds v at the end.
func (l *List) Append(v any) error {
	const op = "List.Append"
	return l.mutate(op, v, func(nv any) error {
		return l.insert(op, int(l.hdr().len), nv)
	})
}

// Insert places v before index i. i may equal Len.
func (l *List) Insert(i int, v any) error {
	const op = "List.Insert"
	return l.mutate(op, v, func(nv any) error {
		if n := int(l.hdr().len); i < 0 || i > n {
			return errIndex(op, i, n+1)
		}
		return l.insert(op, i, nv)
	})
}

func (l *List) insert(op string, i int, nv any) error {
	h := l.hdr()
	r, b, err := l.place(op, nv)
	if err != nil {
		return err
	}
	if err := l.grow(op, h, 1); err != nil {
		b.rollback()
		return err
	}
	h.len++
	items := l.sp.items(h)
	copy(items[i+1:], items[i:])
	items[i] = uint32(r)
	b.finish()
	return nil
}

// grow makes room for n more items, doubling the table.
func (l *List) grow(op string, h *listHdr, n int) error {
	need := int(h.len) + n
	if need <= int(h.cap) {
		return nil
	}
	capacity := max(minTableCap, 2*int(h.cap), need)
	r, err := l.sp.alloc(op, capacity*4)
	if err != nil {
		return err
	}
	old := arena.Ref(h.items)
	items := l.sp.items(h)
	h.items, h.cap = uint32(r), uint32(capacity)
	copy(l.sp.items(h), items)
	l.sp.free(old)
	return nil
}

// AppendStore appends a new empty Store and returns it.
func (l *List) AppendStore() (*Store, error) {
	v, err := l.appendEmpty("List.AppendStore", KindStore)
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

// AppendList appends a new empty List and returns it.
func (l *List) AppendList() (*List, error) {
	v, err := l.appendEmpty("List.AppendList", KindList)
	if err != nil {
		return nil, err
	}
	return v.(*List), nil
}

func (l *List) appendEmpty(op string, k Kind) (any, error) {
	var out any
	err := l.mutate(op, emptyValue{kind: k}, func(nv any) error {
		if err := l.insert(op, int(l.hdr().len), nv); err != nil {
			return err
		}
		items := l.sp.items(l.hdr())
		var err error
		out, err = l.load(l.sp.cellAt(arena.Ref(items[len(items)-1])))
		return err
	})
	return out, err
}

// Pop removes the element at index i and returns its deep copy.
func (l *List) Pop(i int) (any, error) {
	const op = "List.Pop"
	var out any
	err := l.mutate(op, nil, func(any) error {
		items := l.sp.items(l.hdr())
		if i < 0 || i >= len(items) {
			return errIndex(op, i, len(items))
		}
		v, err := l.copyCell(op, arena.Ref(items[i]))
		if err != nil {
			return err
		}
		if err := l.remove(op, i); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Delete removes the element at index i.
func (l *List) Delete(i int) error {
	const op = "List.Delete"
	return l.mutate(op, nil, func(any) error {
		if n := int(l.hdr().len); i < 0 || i >= n {
			return errIndex(op, i, n)
		}
		return l.remove(op, i)
	})
}

func (l *List) remove(op string, i int) error {
	h := l.hdr()
	r := arena.Ref(l.sp.items(h)[i])
	if _, err := l.lockSubtree(op, l.sp.cellAt(r).slot()); err != nil {
		return err
	}
	items := l.sp.items(h)
	copy(items[i:], items[i+1:])
	h.len--
	l.freeCell(r)
	return nil
}

// Clear removes every element.
func (l *List) Clear() error {
	const op = "List.Clear"
	return l.mutate(op, nil, func(any) error {
		return l.replaceLocked(op, nil)
	})
}

// replaceLocked swaps the list's elements for xs. The new elements are built
// before the old ones are destroyed.
func (l *List) replaceLocked(op string, xs []any) error {
	sp := l.sp
	h := l.hdr()
	oldItems := sp.items(h)
	oldTable := arena.Ref(h.items)

	var locked []arena.Ref
	for _, it := range oldItems {
		ls, err := l.lockSubtree(op, sp.cellAt(arena.Ref(it)).slot())
		if err != nil {
			l.unlockAll(locked)
			return err
		}
		locked = append(locked, ls...)
	}

	b := sp.newBuilder(op, arena.Ref(h.cell))
	var tbl arena.Ref
	var capacity uint32
	if len(xs) > 0 {
		var err error
		if tbl, capacity, err = b.table(len(xs), 4); err != nil {
			l.unlockAll(locked)
			return err
		}
	}
	fresh := make([]uint32, 0, len(xs))
	for _, v := range xs {
		r, err := b.newCell(l.ref, v)
		if err != nil {
			b.rollback()
			l.unlockAll(locked)
			return err
		}
		fresh = append(fresh, uint32(r))
	}

	old := append([]uint32(nil), oldItems...)
	h.items, h.cap, h.len = uint32(tbl), capacity, uint32(len(fresh))
	copy(sp.items(h), fresh)
	b.finish()

	for _, it := range old {
		l.freeCell(arena.Ref(it))
	}
	sp.free(oldTable)
	return nil
}

// ExtendValues appends every value. Either all values are appended or none.
func (l *List) ExtendValues(vs ...any) error {
	const op = "List.ExtendValues"
	nvs := make([]any, len(vs))
	for i, v := range vs {
		nv, err := l.sp.normalize(op, v, 0)
		if err != nil {
			return err
		}
		nvs[i] = nv
	}
	if err := l.sp.enter(op); err != nil {
		return err
	}
	defer l.sp.leave()

	g, err := l.write(op)
	if err != nil {
		return err
	}
	defer g.Release()
	return l.extendLocked(op, nvs, false)
}

// Extend appends deep copies of src's elements. Extending a list by itself
// needs both locks on one container and fails with
// ErrLockProtocolViolation.
func (l *List) Extend(src *List) error {
	const op = "List.Extend"
	if src == nil {
		return newError(op, ErrInvalidArgument, "nil source list")
	}
	if err := l.sp.enter(op); err != nil {
		return err
	}
	defer l.sp.leave()

	g, err := l.write(op)
	if err != nil {
		return err
	}
	defer g.Release()

	var vals []any
	if src.sp == l.sp {
		vals, err = src.elements(op)
	} else {
		vals, err = src.elementsEntered(op)
	}
	if err != nil {
		return err
	}
	return l.extendLocked(op, vals, true)
}

// elementsEntered is elements for a list in another space.
func (l *List) elementsEntered(op string) ([]any, error) {
	if err := l.sp.enter(op); err != nil {
		return nil, err
	}
	defer l.sp.leave()
	return l.elements(op)
}

// elements deep-copies the list's elements under an explicit read lock.
// Links come back relative to the list.
func (l *List) elements(op string) ([]any, error) {
	g, err := l.acquire(op, false, true)
	if err != nil {
		return nil, err
	}
	defer g.Release()

	v, err := l.copyCell(op, arena.Ref(l.sp.chdrAt(l.ref).cell))
	if err != nil {
		return nil, err
	}
	return v.([]any), nil
}

// extendLocked appends vals. Link paths in vals are relative to the list
// when shared is set and relative to each value otherwise.
func (l *List) extendLocked(op string, vals []any, shared bool) error {
	if len(vals) == 0 {
		return nil
	}
	h := l.hdr()
	n := int(h.len)
	b := l.sp.newBuilder(op, arena.Ref(h.cell))
	fresh := make([]uint32, 0, len(vals))
	for j, v := range vals {
		first := len(b.links)
		r, err := b.newCell(l.ref, v)
		if err != nil {
			b.rollback()
			return err
		}
		for k := first; k < len(b.links); k++ {
			b.links[k].path = rebase(b.links[k].path, n, j, shared)
		}
		fresh = append(fresh, uint32(r))
	}
	if err := l.grow(op, h, len(vals)); err != nil {
		b.rollback()
		return err
	}
	h.len += uint32(len(fresh))
	copy(l.sp.items(h)[n:], fresh)
	b.finish()
	return nil
}

// rebase turns a link path into one rooted at the list, for a value landing
// at index n+j.
func rebase(path []any, n, j int, shared bool) []any {
	if !shared {
		return append([]any{n + j}, path...)
	}
	out := append([]any(nil), path...)
	if len(out) > 0 {
		if i := toInt(out[0]); i >= 0 {
			out[0] = i + n
		}
	}
	return out
}

// Iter returns an iterator over the elements. The iterator holds a read
// lock on the list until it is exhausted or released.
func (l *List) Iter() (*ListIter, error) {
	g, err := l.guard("List.Iter", false)
	if err != nil {
		return nil, err
	}
	return &ListIter{l: l, guard: g}, nil
}

// ListIter iterates list elements in order.
type ListIter struct {
	l     *List
	guard *Guard
	i     int
	val   any
	err   error
	done  bool
}

// Next advances to the next element.
func (it *ListIter) Next() bool {
	if it.done {
		return false
	}
	sp := it.l.sp
	if err := sp.enter("ListIter.Next"); err != nil {
		it.err = err
		it.done = true
		return false
	}
	defer sp.leave()

	items := sp.items(it.l.hdr())
	if it.i >= len(items) {
		it.done = true
		it.guard.releaseEntered()
		return false
	}
	it.val, it.err = it.l.load(sp.cellAt(arena.Ref(items[it.i])))
	it.i++
	return it.err == nil
}

// Index returns the index of the current element.
func (it *ListIter) Index() int { return it.i - 1 }

// Value returns the current element.
func (it *ListIter) Value() any { return it.val }

// Err returns the error that stopped iteration, if any.
func (it *ListIter) Err() error { return it.err }

// Release drops the iterator's read lock. It is idempotent.
func (it *ListIter) Release() {
	it.done = true
	it.guard.Release()
}

// Copy returns a shallow copy: nested containers stay live handles.
func (l *List) Copy() ([]any, error) {
	const op = "List.Copy"
	if err := l.sp.enter(op); err != nil {
		return nil, err
	}
	defer l.sp.leave()

	g, err := l.read(op)
	if err != nil {
		return nil, err
	}
	defer g.Release()

	items := l.sp.items(l.hdr())
	out := make([]any, len(items))
	for i, it := range items {
		v, err := l.load(l.sp.cellAt(arena.Ref(it)))
		if err != nil {
			return nil, err
		}
		if mo, ok := v.(ManagedObject); ok {
			v = mo.Copy()
		}
		out[i] = v
	}
	return out, nil
}

// DeepCopy returns a fully detached copy of the list.
func (l *List) DeepCopy() ([]any, error) {
	v, err := deepCopyNode("List.DeepCopy", &l.node)
	if err != nil {
		return nil, err
	}
	return v.([]any), nil
}

// Equal reports whether the list is structurally equal to other, which may
// be a *List handle or a []any.
func (l *List) Equal(other any) (bool, error) {
	return equalNode("List.Equal", &l.node, other)
}
