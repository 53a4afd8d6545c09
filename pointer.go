package structstore

import (
	"github.com/google/uuid"

	"github.com/hupe1980/structstore/internal/arena"
	"github.com/hupe1980/structstore/internal/lock"
)

// Ref names a value cell: the arena it lives in, its offset and the
// generation it had when the Ref was taken. Assigning a Ref creates a
// Pointer. The zero Ref is the null reference.
type Ref struct {
	arena uuid.UUID
	cell  arena.Ref
	gen   uint32
}

// IsNull reports whether r is the null reference.
func (r Ref) IsNull() bool { return r.cell == arena.Null }

// ArenaID returns the identity of the arena r points into.
func (r Ref) ArenaID() string {
	if r.IsNull() {
		return ""
	}
	return r.arena.String()
}

func (sp *space) ref(cell arena.Ref) Ref {
	return Ref{arena: sp.id, cell: cell, gen: sp.cellAt(cell).gen}
}

// Pointer is a loaded Pointer value. It holds an arena offset, never an
// address, so it stays valid across remaps of the arena.
type Pointer struct {
	sp     *space
	owner  lock.Owner
	target Ref
}

// IsNull reports whether the pointer has no target.
func (p *Pointer) IsNull() bool { return p == nil || p.target.IsNull() }

// Target returns the reference the pointer holds. A pointer whose target was
// freed fails with ErrInvalidReference.
func (p *Pointer) Target() (Ref, error) {
	const op = "Pointer.Target"
	if p.IsNull() {
		return Ref{}, nil
	}
	if err := p.sp.enter(op); err != nil {
		return Ref{}, err
	}
	defer p.sp.leave()

	if !p.live() {
		return Ref{}, newError(op, ErrInvalidReference, "pointer target no longer exists")
	}
	return p.target, nil
}

func (p *Pointer) live() bool {
	return p.sp.validCell(p.target.cell) && p.sp.cellAt(p.target.cell).gen == p.target.gen
}

// Deref loads the target value under its parent container's read lock. A
// null pointer yields nil.
func (p *Pointer) Deref() (any, error) {
	const op = "Pointer.Deref"
	if p.IsNull() {
		return nil, nil
	}
	sp := p.sp
	if err := sp.enter(op); err != nil {
		return nil, err
	}
	defer sp.leave()

	if !p.live() {
		return nil, newError(op, ErrInvalidReference, "pointer target no longer exists")
	}
	n := node{sp: sp, owner: p.owner}
	if parent := arena.Ref(sp.cellAt(p.target.cell).parent); parent != arena.Null {
		pn, ok := sp.containerAt(parent, p.owner)
		if !ok {
			return nil, newError(op, ErrInvalidReference, "pointer target no longer exists")
		}
		g, err := pn.read(op)
		if err != nil {
			return nil, err
		}
		defer g.Release()
		n = pn
	}
	// Recheck under the lock.
	if !p.live() {
		return nil, newError(op, ErrInvalidReference, "pointer target no longer exists")
	}
	return n.load(sp.cellAt(p.target.cell))
}

// containerAt returns a node for the container header at r, whatever its kind.
func (sp *space) containerAt(r arena.Ref, owner lock.Owner) (node, bool) {
	for _, k := range [...]Kind{KindStore, KindList, KindMatrix} {
		if sp.validHeader(r, k) {
			return node{sp: sp, ref: r, gen: sp.chdrAt(r).gen, kind: k, owner: owner}, true
		}
	}
	return node{}, false
}
