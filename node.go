package structstore

import (
	"context"
	"time"

	"github.com/hupe1980/structstore/internal/arena"
	"github.com/hupe1980/structstore/internal/lock"
)

// node is the common part of Store, List and Matrix handles: a container
// header in an arena plus the lock owner the handle acts for.
type node struct {
	sp    *space
	ref   arena.Ref
	gen   uint32
	kind  Kind
	owner lock.Owner
}

// Guard is a held container lock. Release is idempotent and safe on nil.
type Guard struct {
	sp *space
	g  *lock.Guard
}

// Write reports whether the guard holds the exclusive lock.
func (g *Guard) Write() bool {
	return g != nil && g.g != nil && g.g.Write()
}

// Release drops the lock. Calls after the first are no-ops.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.sp.mu.RLock()
	defer g.sp.mu.RUnlock()
	if !g.sp.closed {
		g.g.Release()
	}
}

// releaseEntered drops the lock for a caller that has already entered the
// space, which keeps it open.
func (g *Guard) releaseEntered() {
	if g == nil {
		return
	}
	g.g.Release()
}

// header validates the handle and returns its container header.
func (n *node) header(op string) (*chdr, error) {
	if !n.sp.validHeader(n.ref, n.kind) {
		return nil, errStale(op)
	}
	h := n.sp.chdrAt(n.ref)
	if h.gen != n.gen {
		return nil, errStale(op)
	}
	return h, nil
}

// acquire takes the container lock. Explicit read acquisitions are strict:
// the owner of the write lock cannot also read-lock. Implicit reads by the
// write owner proceed under the write lock and get a nil guard, whose
// Release is a no-op.
func (n *node) acquire(op string, write, explicit bool) (*lock.Guard, error) {
	h, err := n.header(op)
	if err != nil {
		return nil, err
	}
	if !write && !explicit && h.state.WriteHeldBy(n.owner) {
		return nil, nil
	}

	var g *lock.Guard
	start := time.Now()
	if write {
		g, err = h.state.AcquireWrite(n.owner, n.sp.opts.lockTimeout)
	} else {
		g, err = h.state.AcquireRead(n.owner, n.sp.opts.lockTimeout)
	}
	wait := time.Since(start)
	if err != nil {
		err = translateError(op, err)
	}
	n.sp.opts.metricsCollector.RecordLockWait(write, wait, err)
	if err != nil {
		n.sp.opts.logger.LogLockFailure(context.Background(), op, write, err)
		return nil, err
	}

	// The container may have been torn down while we waited.
	if h.magic != magicOf(n.kind) || h.gen != n.gen {
		g.Release()
		return nil, errStale(op)
	}
	return g, nil
}

func (n *node) read(op string) (*lock.Guard, error) { return n.acquire(op, false, false) }

func (n *node) write(op string) (*lock.Guard, error) { return n.acquire(op, true, false) }

// guard takes an explicit lock and wraps it for the caller.
func (n *node) guard(op string, write bool) (*Guard, error) {
	if err := n.sp.enter(op); err != nil {
		return nil, err
	}
	defer n.sp.leave()

	g, err := n.acquire(op, write, true)
	if err != nil {
		return nil, err
	}
	return &Guard{sp: n.sp, g: g}, nil
}

// child returns a handle for the container held by c, acting for the same owner.
func (n *node) child(c *cell) node {
	r := arena.Ref(c.bits)
	return node{sp: n.sp, ref: r, gen: n.sp.chdrAt(r).gen, kind: c.kind, owner: n.owner}
}

// fork returns a copy of the handle bound to a fresh owner.
func (n *node) fork() node {
	f := *n
	f.owner = lock.NewOwner()
	return f
}

// sameArena reports whether o lives in the same arena as n.
func (n *node) sameArena(o *node) bool {
	return n.sp.id == o.sp.id
}
