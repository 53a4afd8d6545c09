// Package lock implements reader/writer locks whose entire state lives in
// caller-provided memory, typically a container header inside an arena.
//
// Because the state is plain memory manipulated with atomic instructions, a
// lock placed in a MAP_SHARED region is honoured by every process mapping
// it. Waiters spin briefly and then sleep on a futex word (Linux) or back off
// with short sleeps (other platforms).
//
// Go has no stable thread identity, so lock holders are identified by an
// explicit Owner. Write locks are reentrant per owner; a read request by the
// owner holding the write lock fails immediately instead of deadlocking.
package lock
