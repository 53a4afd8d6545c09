package lock

import (
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"
)

// DefaultTimeout bounds how long an acquisition waits before failing.
const DefaultTimeout = 100 * time.Millisecond

// StateSize is the number of bytes a State occupies.
const StateSize = int(unsafe.Sizeof(State{}))

const spinAttempts = 64

// State is a reader/writer lock laid out for placement in shared memory.
//
// level is negative while write-locked (its magnitude is the reentrancy
// depth) and otherwise counts active readers. seq is bumped on every release
// and doubles as the futex word sleepers wait on.
type State struct {
	level   atomic.Int32
	seq     atomic.Uint32
	waiters atomic.Uint32
	_       uint32
	owner   atomic.Uint64
}

// At interprets the StateSize bytes at p as a State. p must be 8-byte aligned.
func At(p unsafe.Pointer) *State {
	return (*State)(p)
}

// RLock acquires a shared lock for owner.
func (s *State) RLock(owner Owner, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for attempt := 0; ; attempt++ {
		seq := s.seq.Load()
		lv := s.level.Load()
		if lv >= 0 {
			if s.level.CompareAndSwap(lv, lv+1) {
				return nil
			}
			continue
		}
		if Owner(s.owner.Load()) == owner {
			return ErrReadWhileWriting
		}
		if !s.wait(seq, deadline, attempt) {
			return ErrReadTimeout
		}
	}
}

// RUnlock releases a shared lock.
func (s *State) RUnlock() error {
	for {
		lv := s.level.Load()
		if lv <= 0 {
			return ErrNotHeld
		}
		if s.level.CompareAndSwap(lv, lv-1) {
			if lv == 1 {
				s.wake()
			}
			return nil
		}
	}
}

// Lock acquires the exclusive lock for owner. It is reentrant: an owner
// already holding the write lock only deepens it.
func (s *State) Lock(owner Owner, timeout time.Duration) error {
	if s.level.Load() < 0 && Owner(s.owner.Load()) == owner {
		s.level.Add(-1)
		return nil
	}

	deadline := time.Now().Add(timeout)
	for attempt := 0; ; attempt++ {
		seq := s.seq.Load()
		if s.level.CompareAndSwap(0, -1) {
			s.owner.Store(uint64(owner))
			return nil
		}
		if !s.wait(seq, deadline, attempt) {
			return ErrWriteTimeout
		}
	}
}

// Unlock releases one level of the exclusive lock held by owner.
func (s *State) Unlock(owner Owner) error {
	lv := s.level.Load()
	if lv >= 0 || Owner(s.owner.Load()) != owner {
		return ErrNotHeld
	}
	if lv < -1 {
		s.level.Add(1)
		return nil
	}
	s.owner.Store(0)
	s.level.Store(0)
	s.wake()
	return nil
}

// Readers returns the number of active readers.
func (s *State) Readers() int {
	if lv := s.level.Load(); lv > 0 {
		return int(lv)
	}
	return 0
}

// WriteHeldBy reports whether owner currently holds the write lock.
func (s *State) WriteHeldBy(owner Owner) bool {
	return s.level.Load() < 0 && Owner(s.owner.Load()) == owner
}

// Locked reports whether the state is held in any mode.
func (s *State) Locked() bool {
	return s.level.Load() != 0
}

// Reset forcibly returns the state to unlocked. Only safe on memory no other
// party can observe, such as a freshly allocated header.
func (s *State) Reset() {
	s.level.Store(0)
	s.owner.Store(0)
	s.waiters.Store(0)
}

// wait blocks until seq changes or the deadline passes and reports whether
// the caller should retry.
func (s *State) wait(seq uint32, deadline time.Time, attempt int) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	if attempt < spinAttempts {
		runtime.Gosched()
		return true
	}
	s.waiters.Add(1)
	sleep(s.seqWord(), seq, remaining, attempt-spinAttempts)
	s.waiters.Add(^uint32(0))
	return true
}

func (s *State) wake() {
	s.seq.Add(1)
	if s.waiters.Load() > 0 {
		wakeAll(s.seqWord())
	}
}

func (s *State) seqWord() *uint32 {
	return (*uint32)(unsafe.Pointer(&s.seq))
}
