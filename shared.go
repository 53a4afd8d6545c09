package structstore

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/structstore/internal/arena"
	"github.com/hupe1980/structstore/internal/lock"
	"github.com/hupe1980/structstore/internal/shm"
)

// Shared is a handle to a named shared-memory segment holding a store.
// Every process that opens the same name sees the same arena.
type Shared struct {
	mu    sync.Mutex
	name  string
	opts  options
	owner lock.Owner
	sp    *space
}

// OpenShared opens the segment called name, creating it with capacity bytes
// of arena space if it does not exist. An existing segment is attached and
// capacity is ignored, unless WithReinit replaces it.
func OpenShared(name string, capacity int, opts ...Option) (*Shared, error) {
	const op = "OpenShared"
	o := applyOptions(opts)
	ctx := context.Background()

	if capacity < arena.MinCapacity || uint64(capacity) > arena.MaxCapacity {
		err := newError(op, ErrInvalidArgument, "capacity %d out of range [%d, %d]", capacity, arena.MinCapacity, uint64(arena.MaxCapacity))
		o.logger.LogSegmentOpen(ctx, name, capacity, false, o.reinit, err)
		return nil, err
	}
	seg, err := shm.Open(shm.Config{
		Name:         name,
		Size:         capacity,
		Reinit:       o.reinit,
		Cleanup:      o.cleanup,
		TargetAddr:   o.targetAddr,
		Dir:          o.dir,
		ReadyTimeout: o.readyTimeout,
	})
	if err != nil {
		err = translateError(op, err)
		o.logger.LogSegmentOpen(ctx, name, capacity, false, o.reinit, err)
		return nil, err
	}

	sp, err := segmentSpace(op, seg, o)
	o.logger.LogSegmentOpen(ctx, name, capacity, seg.Created(), o.reinit, err)
	if err != nil {
		return nil, err
	}
	return &Shared{name: name, opts: o, owner: lock.NewOwner(), sp: sp}, nil
}

// segmentSpace formats a segment this process created, or binds to one
// that another process published. The segment is closed on failure.
func segmentSpace(op string, seg *shm.Segment, o options) (*space, error) {
	sp := &space{opts: o, seg: seg}
	var err error
	if seg.Created() {
		if err = sp.format(op, seg.Region()); err == nil {
			err = translateError(op, seg.Publish())
		}
	} else {
		err = sp.bind(op, seg.Region())
	}
	if err != nil {
		seg.Close()
		return nil, err
	}
	return sp, nil
}

func (s *Shared) space() *space {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sp
}

// Store returns the segment's root store, acting for the Shared handle's
// lock owner. Use Store.Fork for other goroutines.
func (s *Shared) Store() (*Store, error) {
	const op = "Shared.Store"
	sp := s.space()
	if err := sp.enter(op); err != nil {
		return nil, err
	}
	defer sp.leave()

	n, err := sp.rootNode(op, s.owner)
	if err != nil {
		return nil, err
	}
	return &Store{node: n}, nil
}

// Revalidate re-derives the arena base from the current mapping and checks
// the arena. If another handle reinitialized the segment, Revalidate
// attaches to the new one; handles into the old segment then fail with
// ErrClosed. On failure the handle is left as it was.
func (s *Shared) Revalidate() error {
	const op = "Shared.Revalidate"
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	sp := s.sp
	if err := sp.enter(op); err != nil {
		return err
	}
	if sp.seg.Invalidated() {
		sp.leave()
		next, err := sp.seg.Reopen()
		if err != nil {
			err = translateError(op, err)
			s.opts.logger.LogRevalidate(ctx, s.name, false, err)
			return err
		}
		nsp, err := segmentSpace(op, next, s.opts)
		if err == nil {
			if err = translateError(op, nsp.arena.Check()); err != nil {
				nsp.close()
			}
		}
		if err != nil {
			s.opts.logger.LogRevalidate(ctx, s.name, true, err)
			return err
		}
		s.sp = nsp
		sp.close()
		s.opts.logger.LogRevalidate(ctx, s.name, true, nil)
		return nil
	}
	sp.leave()

	err := sp.rebind(op)
	s.opts.logger.LogRevalidate(ctx, s.name, false, err)
	return err
}

// rebind points the arena at the segment's current mapping after checking
// it. Nothing changes if the check fails.
func (sp *space) rebind(op string) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.closed {
		return newError(op, ErrClosed, "store is closed")
	}
	region := sp.seg.Region()
	probe, err := arena.Attach(region)
	if err != nil {
		return translateError(op, err)
	}
	if probe.ID() != sp.id {
		return newError(op, ErrCorrupt, "segment now holds arena %s, not %s", probe.ID(), sp.id)
	}
	if err := probe.Check(); err != nil {
		return translateError(op, err)
	}
	return translateError(op, sp.arena.Rebind(region))
}

// Close detaches from the segment and applies the cleanup policy.
// It is idempotent.
func (s *Shared) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := translateError("Shared.Close", s.sp.close())
	s.opts.logger.LogSegmentClose(context.Background(), s.name, s.opts.cleanup, err)
	return err
}

// Name returns the segment name.
func (s *Shared) Name() string { return s.name }

// Addr returns the base address of the segment mapping in this process.
func (s *Shared) Addr() uintptr { return s.space().seg.Addr() }

// Created reports whether this handle created the segment.
func (s *Shared) Created() bool { return s.space().seg.Created() }

// Capacity returns the arena size in bytes.
func (s *Shared) Capacity() int { return s.space().arena.Capacity() }

// Usage returns the number of handles attached across all processes.
func (s *Shared) Usage() int { return s.space().seg.Usage() }

// Invalidated reports whether another handle reinitialized the segment
// since this one attached. Revalidate moves to the new segment.
func (s *Shared) Invalidated() bool { return s.space().seg.Invalidated() }

// Stats reports allocator usage of the segment's arena.
func (s *Shared) Stats() (Stats, error) {
	sp := s.space()
	if err := sp.enter("Shared.Stats"); err != nil {
		return Stats{}, err
	}
	defer sp.leave()
	return sp.stats(), nil
}

// Unlink removes the named segment. Attached handles keep working; new
// opens create a fresh segment. WithFileBacking selects the directory.
func Unlink(name string, opts ...Option) error {
	o := applyOptions(opts)
	err := shm.Remove(o.dir, name)
	if err != nil {
		err = translateError("Unlink", err)
	}
	o.logger.LogSegmentClose(context.Background(), name, CleanupAlways, err)
	return err
}

// SegmentInfo describes a segment without attaching to it.
type SegmentInfo struct {
	Name        string
	Path        string
	Capacity    int
	CreatorPID  int
	Cleanup     Cleanup
	Usage       int
	Ready       bool
	Invalidated bool
	CreatedAt   time.Time
}

// InspectShared reads the header of the named segment without changing its
// usage count.
func InspectShared(name string, opts ...Option) (SegmentInfo, error) {
	o := applyOptions(opts)
	info, err := shm.Inspect(o.dir, name)
	if err != nil {
		return SegmentInfo{}, translateError("InspectShared", err)
	}
	return SegmentInfo{
		Name:        name,
		Path:        info.Path,
		Capacity:    info.Size,
		CreatorPID:  info.CreatorPID,
		Cleanup:     info.Cleanup,
		Usage:       info.Usage,
		Ready:       info.Ready,
		Invalidated: info.Invalidated,
		CreatedAt:   info.CreatedAt,
	}, nil
}
