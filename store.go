package structstore

import (
	"github.com/hupe1980/structstore/internal/arena"
	"github.com/hupe1980/structstore/internal/hash"
	"github.com/hupe1980/structstore/internal/lock"
)

// Store is a handle to an ordered mapping of field names to values.
//
// A handle acts for one lock owner. Handles obtained from a Store share its
// owner; use Fork to get a handle for another goroutine.
type Store struct {
	node
}

// New creates a store backed by capacity bytes of private memory.
func New(capacity int, opts ...Option) (*Store, error) {
	o := applyOptions(opts)
	sp, err := newPrivate("New", capacity, o)
	if err != nil {
		return nil, err
	}
	n, err := sp.rootNode("New", lock.NewOwner())
	if err != nil {
		sp.close()
		return nil, err
	}
	return &Store{node: n}, nil
}

// Close releases a private store's memory. Handles into it fail with
// ErrClosed afterwards. Only the root of a store created by New or
// FromBytes can be closed; shared stores are closed through their Shared.
func (s *Store) Close() error {
	if s.sp.seg != nil || s.ref != s.rootRef() {
		return newError("Store.Close", ErrUnsupportedOperation, "only the root of a private store can be closed")
	}
	return translateError("Store.Close", s.sp.close())
}

func (s *Store) rootRef() arena.Ref {
	s.sp.mu.RLock()
	defer s.sp.mu.RUnlock()
	if s.sp.closed {
		return s.ref
	}
	r := s.sp.arena.Root()
	if !s.sp.validCell(r) {
		return arena.Null
	}
	return arena.Ref(s.sp.cellAt(r).bits)
}

// Fork returns a handle to the same store acting for a new lock owner.
func (s *Store) Fork() *Store {
	return &Store{node: s.fork()}
}

// ReadLock takes an explicit shared lock on the store. It fails with
// ErrLockProtocolViolation if the handle's owner holds the write lock.
func (s *Store) ReadLock() (*Guard, error) {
	return s.guard("Store.ReadLock", false)
}

// WriteLock takes an explicit exclusive lock on the store. It is reentrant
// for the owner.
func (s *Store) WriteLock() (*Guard, error) {
	return s.guard("Store.WriteLock", true)
}

func (s *Store) hdr() *storeHdr {
	return s.sp.storeAt(s.ref)
}

// Len returns the number of fields.
func (s *Store) Len() (int, error) {
	const op = "Store.Len"
	if err := s.sp.enter(op); err != nil {
		return 0, err
	}
	defer s.sp.leave()

	g, err := s.read(op)
	if err != nil {
		return 0, err
	}
	defer g.Release()
	return int(s.hdr().len), nil
}

// Has reports whether the field exists.
func (s *Store) Has(name string) (bool, error) {
	const op = "Store.Has"
	if err := s.sp.enter(op); err != nil {
		return false, err
	}
	defer s.sp.leave()

	g, err := s.read(op)
	if err != nil {
		return false, err
	}
	defer g.Release()
	return s.sp.find(s.hdr(), name) >= 0, nil
}

// Keys returns the field names in insertion order.
func (s *Store) Keys() ([]string, error) {
	const op = "Store.Keys"
	if err := s.sp.enter(op); err != nil {
		return nil, err
	}
	defer s.sp.leave()

	g, err := s.read(op)
	if err != nil {
		return nil, err
	}
	defer g.Release()

	es := s.sp.entries(s.hdr())
	keys := make([]string, len(es))
	for i := range es {
		keys[i] = string(s.sp.name(&es[i]))
	}
	return keys, nil
}

// Get returns the value of a field. Scalars come back as nil, bool, int64,
// float64 or string; containers as *Store, *List or *Matrix handles;
// pointers as *Pointer. No lock is retained after the call.
func (s *Store) Get(name string) (any, error) {
	v, _, err := s.get("Store.Get", name, false)
	return v, err
}

// Borrow returns the value of a field together with a read guard on the
// store. The store cannot be modified until the guard is released.
func (s *Store) Borrow(name string) (any, *Guard, error) {
	return s.get("Store.Borrow", name, true)
}

func (s *Store) get(op, name string, keep bool) (any, *Guard, error) {
	if err := s.sp.enter(op); err != nil {
		return nil, nil, err
	}
	defer s.sp.leave()

	g, err := s.acquire(op, false, keep)
	if err != nil {
		return nil, nil, err
	}
	h := s.hdr()
	i := s.sp.find(h, name)
	if i < 0 {
		g.Release()
		return nil, nil, errField(op, name)
	}
	v, err := s.load(s.sp.cellAt(arena.Ref(s.sp.entries(h)[i].cell)))
	if err != nil || !keep {
		g.Release()
		return v, nil, err
	}
	return v, &Guard{sp: s.sp, g: g}, nil
}

func (s *Store) typed(op, name string, want Kind) (any, error) {
	v, _, err := s.get(op, name, false)
	if err != nil {
		return nil, err
	}
	if got := kindOfValue(v); got != want {
		return nil, newError(op, ErrTypeMismatch, "field %q is %s, not %s", name, got, want)
	}
	return v, nil
}

// Int returns an Int field.
func (s *Store) Int(name string) (int64, error) {
	v, err := s.typed("Store.Int", name, KindInt)
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Float returns a Float field.
func (s *Store) Float(name string) (float64, error) {
	v, err := s.typed("Store.Float", name, KindFloat)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// Bool returns a Bool field.
func (s *Store) Bool(name string) (bool, error) {
	v, err := s.typed("Store.Bool", name, KindBool)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// String returns a String field.
func (s *Store) String(name string) (string, error) {
	v, err := s.typed("Store.String", name, KindString)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Store returns a nested Store field.
func (s *Store) Store(name string) (*Store, error) {
	v, err := s.typed("Store.Store", name, KindStore)
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

// List returns a List field.
func (s *Store) List(name string) (*List, error) {
	v, err := s.typed("Store.List", name, KindList)
	if err != nil {
		return nil, err
	}
	return v.(*List), nil
}

// Matrix returns a Matrix field.
func (s *Store) Matrix(name string) (*Matrix, error) {
	v, err := s.typed("Store.Matrix", name, KindMatrix)
	if err != nil {
		return nil, err
	}
	return v.(*Matrix), nil
}

// Pointer returns a Pointer field.
func (s *Store) Pointer(name string) (*Pointer, error) {
	v, err := s.typed("Store.Pointer", name, KindPointer)
	if err != nil {
		return nil, err
	}
	return v.(*Pointer), nil
}

// Set assigns v to a field, creating it at the end of the field order if it
// does not exist. See the package documentation for accepted values.
func (s *Store) Set(name string, v any) error {
	const op = "Store.Set"
	nv, err := s.sp.normalize(op, v, 0)
	if err != nil {
		return err
	}
	if err := s.sp.enter(op); err != nil {
		return err
	}
	defer s.sp.leave()

	g, err := s.write(op)
	if err != nil {
		return err
	}
	defer g.Release()
	return s.set(op, name, nv)
}

func (s *Store) set(op, name string, nv any) error {
	h := s.hdr()
	if i := s.sp.find(h, name); i >= 0 {
		return s.assign(op, arena.Ref(s.sp.entries(h)[i].cell), nv)
	}

	nb := s.sp.newBuilder(op, arena.Null)
	nameRef, err := nb.name(name)
	if err != nil {
		return err
	}
	r, b, err := s.place(op, nv)
	if err != nil {
		nb.rollback()
		return err
	}
	if err := s.grow(op, h, 1); err != nil {
		b.rollback()
		nb.rollback()
		return err
	}
	h.len++
	s.sp.entries(h)[h.len-1] = entry{hash: hash.String(name), name: uint32(nameRef), nameLen: uint32(len(name)), cell: uint32(r)}
	b.finish()
	return nil
}

// grow makes room for n more entries.
func (s *Store) grow(op string, h *storeHdr, n int) error {
	need := int(h.len) + n
	if need <= int(h.cap) {
		return nil
	}
	capacity := max(minTableCap, 2*int(h.cap), need)
	r, err := s.sp.alloc(op, capacity*entrySize)
	if err != nil {
		return err
	}
	old := arena.Ref(h.entries)
	es := s.sp.entries(h)
	h.entries, h.cap = uint32(r), uint32(capacity)
	copy(s.sp.entries(h), es)
	s.sp.free(old)
	return nil
}

// AddStore sets the field to a new empty Store and returns it.
func (s *Store) AddStore(name string) (*Store, error) {
	if err := s.Set(name, emptyValue{kind: KindStore}); err != nil {
		return nil, err
	}
	return s.Store(name)
}

// AddList sets the field to a new empty List and returns it.
func (s *Store) AddList(name string) (*List, error) {
	if err := s.Set(name, emptyValue{kind: KindList}); err != nil {
		return nil, err
	}
	return s.List(name)
}

// AddMatrix sets the field to a matrix of the given dtype and shape, zero
// filled, and returns it.
func (s *Store) AddMatrix(name string, dtype DType, shape ...int) (*Matrix, error) {
	a := &Array{DType: dtype, Shape: shape}
	if dtype.Size() > 0 {
		a.Data = make([]byte, a.Len()*dtype.Size())
	}
	if err := s.Set(name, a); err != nil {
		return nil, err
	}
	return s.Matrix(name)
}

// Delete removes a field.
func (s *Store) Delete(name string) error {
	const op = "Store.Delete"
	if err := s.sp.enter(op); err != nil {
		return err
	}
	defer s.sp.leave()

	g, err := s.write(op)
	if err != nil {
		return err
	}
	defer g.Release()

	h := s.hdr()
	i := s.sp.find(h, name)
	if i < 0 {
		return errField(op, name)
	}
	e := s.sp.entries(h)[i]
	if _, err := s.lockSubtree(op, s.sp.cellAt(arena.Ref(e.cell)).slot()); err != nil {
		return err
	}
	es := s.sp.entries(h)
	copy(es[i:], es[i+1:])
	h.len--
	s.freeCell(arena.Ref(e.cell))
	s.sp.free(arena.Ref(e.name))
	return nil
}

// Clear removes every field.
func (s *Store) Clear() error {
	return s.replace("Store.Clear", &Map{})
}

// replace swaps the store's fields for those of m. The new fields are built
// before any old field is destroyed.
func (s *Store) replace(op string, m *Map) error {
	if err := s.sp.enter(op); err != nil {
		return err
	}
	defer s.sp.leave()

	g, err := s.write(op)
	if err != nil {
		return err
	}
	defer g.Release()
	return s.replaceLocked(op, m)
}

func (s *Store) replaceLocked(op string, m *Map) error {
	sp := s.sp
	h := s.hdr()
	oldTable := arena.Ref(h.entries)
	oldEntries := sp.entries(h)

	var locked []arena.Ref
	for i := range oldEntries {
		l, err := s.lockSubtree(op, sp.cellAt(arena.Ref(oldEntries[i].cell)).slot())
		if err != nil {
			s.unlockAll(locked)
			return err
		}
		locked = append(locked, l...)
	}

	b := sp.newBuilder(op, arena.Ref(h.cell))
	var tbl arena.Ref
	var capacity uint32
	if m.Len() > 0 {
		var err error
		if tbl, capacity, err = b.table(m.Len(), entrySize); err != nil {
			s.unlockAll(locked)
			return err
		}
	}
	fresh := make([]entry, 0, m.Len())
	for k, v := range m.All() {
		name, err := b.name(k)
		if err == nil {
			var r arena.Ref
			if r, err = b.newCell(s.ref, v); err == nil {
				fresh = append(fresh, entry{hash: hash.String(k), name: uint32(name), nameLen: uint32(len(k)), cell: uint32(r)})
				continue
			}
		}
		b.rollback()
		s.unlockAll(locked)
		return err
	}

	h.entries, h.cap, h.len = uint32(tbl), capacity, uint32(len(fresh))
	copy(sp.entries(h), fresh)
	b.finish()

	for _, e := range oldEntries {
		s.freeCell(arena.Ref(e.cell))
		sp.free(arena.Ref(e.name))
	}
	sp.free(oldTable)
	return nil
}

// Ref returns a reference to a field's cell, for assignment as a pointer.
func (s *Store) Ref(name string) (Ref, error) {
	const op = "Store.Ref"
	if err := s.sp.enter(op); err != nil {
		return Ref{}, err
	}
	defer s.sp.leave()

	g, err := s.read(op)
	if err != nil {
		return Ref{}, err
	}
	defer g.Release()

	h := s.hdr()
	i := s.sp.find(h, name)
	if i < 0 {
		return Ref{}, errField(op, name)
	}
	return s.sp.ref(arena.Ref(s.sp.entries(h)[i].cell)), nil
}

// Iter returns an iterator over the fields. The iterator holds a read lock
// on the store until it is exhausted or released.
func (s *Store) Iter() (*StoreIter, error) {
	g, err := s.guard("Store.Iter", false)
	if err != nil {
		return nil, err
	}
	return &StoreIter{s: s, guard: g}, nil
}

// StoreIter iterates store fields in order.
type StoreIter struct {
	s     *Store
	guard *Guard
	i     int
	name  string
	val   any
	err   error
	done  bool
}

// Next advances to the next field.
func (it *StoreIter) Next() bool {
	if it.done {
		return false
	}
	sp := it.s.sp
	if err := sp.enter("StoreIter.Next"); err != nil {
		it.err = err
		it.done = true
		return false
	}
	defer sp.leave()

	es := sp.entries(it.s.hdr())
	if it.i >= len(es) {
		it.done = true
		it.guard.releaseEntered()
		return false
	}
	e := &es[it.i]
	it.i++
	it.name = string(sp.name(e))
	it.val, it.err = it.s.load(sp.cellAt(arena.Ref(e.cell)))
	return it.err == nil
}

// Name returns the current field name.
func (it *StoreIter) Name() string { return it.name }

// Value returns the current field value.
func (it *StoreIter) Value() any { return it.val }

// Err returns the error that stopped iteration, if any.
func (it *StoreIter) Err() error { return it.err }

// Release drops the iterator's read lock. It is idempotent.
func (it *StoreIter) Release() {
	it.done = true
	it.guard.Release()
}

// Copy returns a shallow copy: nested containers stay live handles.
func (s *Store) Copy() (*Map, error) {
	const op = "Store.Copy"
	if err := s.sp.enter(op); err != nil {
		return nil, err
	}
	defer s.sp.leave()

	g, err := s.read(op)
	if err != nil {
		return nil, err
	}
	defer g.Release()

	m := &Map{index: make(map[string]int)}
	es := s.sp.entries(s.hdr())
	for i := range es {
		v, err := s.load(s.sp.cellAt(arena.Ref(es[i].cell)))
		if err != nil {
			return nil, err
		}
		if mo, ok := v.(ManagedObject); ok {
			v = mo.Copy()
		}
		m.Set(string(s.sp.name(&es[i])), v)
	}
	return m, nil
}

// DeepCopy returns a fully detached copy of the store.
func (s *Store) DeepCopy() (*Map, error) {
	v, err := deepCopyNode("Store.DeepCopy", &s.node)
	if err != nil {
		return nil, err
	}
	return v.(*Map), nil
}

// Equal reports whether the store is structurally equal to other, which may
// be a *Store handle or a *Map.
func (s *Store) Equal(other any) (bool, error) {
	return equalNode("Store.Equal", &s.node, other)
}

// Stats reports allocator usage of the store's arena.
func (s *Store) Stats() (Stats, error) {
	if err := s.sp.enter("Store.Stats"); err != nil {
		return Stats{}, err
	}
	defer s.sp.leave()
	return s.sp.stats(), nil
}

// ArenaID returns the identity of the store's arena.
func (s *Store) ArenaID() string {
	return s.sp.id.String()
}
