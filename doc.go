// Package structstore provides hierarchical, typed state stored in
// fixed-capacity memory arenas that several goroutines and processes can
// share.
//
// A store is a tree of values. Stores map field names to values in
// insertion order, Lists hold ordered elements, Matrices hold dense
// n-dimensional numeric data and Pointers reference other values in the
// same arena. Every relationship is an arena offset, never an address, so a
// shared arena may be mapped at a different address in every process.
//
// # Quick Start
//
// Private store:
//
//	s, _ := structstore.New(1 << 20)
//	defer s.Close()
//	s.Set("num", 5)
//	s.Set("config", structstore.NewMap("rate", 100.0, "tags", []any{"a", "b"}))
//	v, _ := s.Get("num") // int64(5)
//
// Shared segment:
//
//	sh, _ := structstore.OpenShared("/robot_state", 1<<20)
//	defer sh.Close()
//	s, _ := sh.Store()
//	s.Set("pose", structstore.NewFloat64Array([]float64{0, 0, 0}, 3))
//
// # Values
//
// Set, Append and Insert accept nil, bool, signed and unsigned integers,
// float32 and float64, string, []any, *Map, *Array, *Link, Ref (which
// creates a pointer), registered ManagedObjects and empty Store, List or
// Matrix handles. The value is validated in full before anything is
// allocated, and the old value is only freed once the new one is linked.
//
// Reads return nil, bool, int64, float64 or string for scalars, *Store,
// *List and *Matrix handles for containers and *Pointer for pointers. Copy
// returns a plain tree whose nested containers are live handles; DeepCopy
// returns a fully detached tree of *Map, []any, *Array and *Link.
//
// # Locking
//
// Every container carries a reader/writer lock in the arena. Single reads
// lock for the duration of the call, mutations take the write lock and
// iterators and Borrow hold a read lock until released. A handle acts for
// one lock owner: the write lock is reentrant for its owner, while an
// explicit read lock under the owner's own write lock fails with
// ErrLockProtocolViolation. Handles derived from a store share its owner;
// call Fork to obtain a handle for another goroutine.
//
//	g, _ := s.WriteLock()
//	s.Set("a", 1)
//	s.Set("b", 2)
//	g.Release()
//
// # Serialization
//
// ToBytes emits a self-describing, checksummed frame, optionally
// compressed with zstd or lz4. FromBytes rebuilds it in a new private
// arena and LoadBytes replaces the contents of an existing store.
//
// # Errors
//
// Errors are *Error values. Use errors.Is with ErrOutOfMemory,
// ErrTypeMismatch, ErrIndexOutOfRange, ErrUnknownField,
// ErrUnsupportedOperation, ErrCrossArenaPointer, ErrLockTimeout,
// ErrLockProtocolViolation and the other kinds to classify them.
package structstore
