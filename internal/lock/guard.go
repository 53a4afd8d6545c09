package lock

import (
	"sync/atomic"
	"time"
)

// Guard is a held lock. Release is idempotent.
type Guard struct {
	state    *State
	owner    Owner
	write    bool
	released atomic.Bool
}

// AcquireRead takes a shared lock and returns its guard.
func (s *State) AcquireRead(owner Owner, timeout time.Duration) (*Guard, error) {
	if err := s.RLock(owner, timeout); err != nil {
		return nil, err
	}
	return &Guard{state: s, owner: owner}, nil
}

// AcquireWrite takes the exclusive lock and returns its guard.
func (s *State) AcquireWrite(owner Owner, timeout time.Duration) (*Guard, error) {
	if err := s.Lock(owner, timeout); err != nil {
		return nil, err
	}
	return &Guard{state: s, owner: owner, write: true}, nil
}

// Write reports whether the guard holds the exclusive lock.
func (g *Guard) Write() bool {
	return g.write
}

// Released reports whether Release has been called.
func (g *Guard) Released() bool {
	return g.released.Load()
}

// Release drops the lock. Calls after the first are no-ops.
func (g *Guard) Release() {
	if g == nil || g.released.Swap(true) {
		return
	}
	if g.write {
		_ = g.state.Unlock(g.owner)
		return
	}
	_ = g.state.RUnlock()
}
