package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hupe1980/structstore/internal/conv"
	"github.com/hupe1980/structstore/internal/mmap"
)

const (
	// DefaultDir is where segments live unless Config.Dir says otherwise.
	DefaultDir = "/dev/shm"
	// DefaultReadyTimeout bounds how long an opener waits for a creator.
	DefaultReadyTimeout = time.Second

	openAttempts = 3
	pollInterval = time.Millisecond
)

var errInvalidated = errors.New("shm: segment invalidated")

// Cleanup decides whether closing a handle removes the segment's name.
type Cleanup uint32

const (
	// CleanupOnOwnerExit removes the segment when the handle that created it closes.
	CleanupOnOwnerExit Cleanup = iota
	// CleanupAlways removes the segment when any handle closes.
	CleanupAlways
	// CleanupNever leaves the segment in place.
	CleanupNever
	// CleanupIfLast removes the segment when the last attached handle closes.
	CleanupIfLast
)

// String returns the policy name.
func (c Cleanup) String() string {
	switch c {
	case CleanupOnOwnerExit:
		return "on-owner-exit"
	case CleanupAlways:
		return "always"
	case CleanupNever:
		return "never"
	case CleanupIfLast:
		return "if-last"
	default:
		return fmt.Sprintf("cleanup(%d)", uint32(c))
	}
}

// ParseCleanup maps a policy name back to its Cleanup value.
func ParseCleanup(s string) (Cleanup, error) {
	for _, c := range []Cleanup{CleanupOnOwnerExit, CleanupAlways, CleanupNever, CleanupIfLast} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("shm: unknown cleanup policy %q", s)
}

// Config describes the segment to open or create.
type Config struct {
	Name         string
	Size         int // region bytes, excluding the header; ignored when attaching
	Reinit       bool
	Cleanup      Cleanup
	TargetAddr   uintptr
	Dir          string
	ReadyTimeout time.Duration
}

// Segment is one process's handle onto a shared segment.
type Segment struct {
	cfg     Config
	path    string
	file    *os.File
	mapping *mmap.Mapping
	arena   *mmap.Region
	hdr     *header
	created bool
	closed  atomic.Bool
}

// Open attaches to the segment named by cfg, creating it if it does not
// exist. With cfg.Reinit an existing segment is invalidated and unlinked
// first, so this call always creates.
//
// A newly created segment is not visible to other openers until Publish.
func Open(cfg Config) (*Segment, error) {
	path, err := Path(cfg.Dir, cfg.Name)
	if err != nil {
		return nil, err
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}

	if cfg.Reinit {
		if err := invalidate(path); err != nil {
			return nil, err
		}
	}

	for attempt := 0; attempt < openAttempts; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		if err == nil {
			return create(cfg, path, f)
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("shm: create %s: %w", path, err)
		}

		s, err := attach(cfg, path)
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, errInvalidated) {
			// Unlinked or replaced between our create and open; try again.
			continue
		}
		return s, err
	}
	return nil, fmt.Errorf("%w: %s changed repeatedly while opening", ErrNotReady, path)
}

func create(cfg Config, path string, f *os.File) (*Segment, error) {
	cleanup := func() {
		f.Close()
		os.Remove(path)
	}

	if cfg.Size <= 0 {
		cleanup()
		return nil, fmt.Errorf("%w: %d", ErrTooSmall, cfg.Size)
	}
	total := HeaderSize + cfg.Size

	if err := f.Truncate(int64(total)); err != nil {
		cleanup()
		return nil, fmt.Errorf("shm: resize %s: %w", path, err)
	}

	m, err := mmap.MapFile(f, total, cfg.TargetAddr)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("shm: map %s: %w", path, err)
	}

	h := headerAt(m.Bytes())
	copy(h.magic[:], Magic)
	h.version = Version
	h.size = uint64(total)
	h.creator = uint32(os.Getpid())
	h.cleanup = uint32(cfg.Cleanup)
	h.createdAt = time.Now().UnixNano()
	h.usage.Store(1)

	s, err := newSegment(cfg, path, f, m, h)
	if err != nil {
		m.Close()
		cleanup()
		return nil, err
	}
	s.created = true
	return s, nil
}

func attach(cfg Config, path string) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(cfg.ReadyTimeout)

	// The creator truncates before it maps, so a short file is still being set up.
	var size int64
	for {
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		if size = fi.Size(); size > HeaderSize {
			break
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, fmt.Errorf("%w: %s", ErrNotReady, path)
		}
		time.Sleep(pollInterval)
	}

	n, err := conv.Int(size)
	if err != nil {
		f.Close()
		return nil, err
	}
	m, err := mmap.MapFile(f, n, cfg.TargetAddr)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: map %s: %w", path, err)
	}
	fail := func(err error) (*Segment, error) {
		m.Close()
		f.Close()
		return nil, err
	}

	h := headerAt(m.Bytes())
	for h.ready.Load() == 0 {
		if h.invalidated.Load() != 0 {
			return fail(errInvalidated)
		}
		if time.Now().After(deadline) {
			return fail(fmt.Errorf("%w: %s", ErrNotReady, path))
		}
		time.Sleep(pollInterval)
	}
	if err := h.validate(size); err != nil {
		return fail(err)
	}
	if h.invalidated.Load() != 0 {
		return fail(errInvalidated)
	}

	s, err := newSegment(cfg, path, f, m, h)
	if err != nil {
		return fail(err)
	}
	h.usage.Add(1)
	return s, nil
}

// newSegment carves the arena region out of the mapping. Arena access
// follows container links, so readahead is switched off.
func newSegment(cfg Config, path string, f *os.File, m *mmap.Mapping, h *header) (*Segment, error) {
	r, err := m.Region(HeaderSize, m.Size()-HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("shm: map %s: %w", path, err)
	}
	_ = r.Advise(mmap.AccessRandom)
	return &Segment{cfg: cfg, path: path, file: f, mapping: m, arena: r, hdr: h}, nil
}

// invalidate flags the segment at path as replaced and unlinks it. Handles
// still attached keep their mapping and can reopen the successor.
func invalidate(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("shm: open %s: %w", path, err)
	}
	defer f.Close()

	if fi, err := f.Stat(); err == nil && fi.Size() >= HeaderSize {
		m, err := mmap.MapFile(f, HeaderSize, 0)
		if err != nil {
			return fmt.Errorf("shm: map %s: %w", path, err)
		}
		headerAt(m.Bytes()).invalidated.Store(1)
		m.Close()
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("shm: unlink %s: %w", path, err)
	}
	return nil
}

// Publish marks a newly created segment as initialized and makes it
// accessible to other openers.
func (s *Segment) Publish() error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.hdr.ready.Store(1)
	return s.file.Chmod(0o660)
}

// Reopen attaches to whatever segment currently carries this handle's name.
// It is used after another handle reinitialized the segment.
func (s *Segment) Reopen() (*Segment, error) {
	cfg := s.cfg
	cfg.Reinit = false
	return attach(cfg, s.path)
}

// Close detaches from the segment and applies the cleanup policy. It is idempotent.
func (s *Segment) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	remaining := s.hdr.usage.Add(-1)

	var unlink bool
	switch {
	case s.hdr.invalidated.Load() != 0:
		// The name already belongs to a successor.
	case s.created && s.hdr.ready.Load() == 0:
		unlink = true
	case s.cfg.Cleanup == CleanupAlways:
		unlink = true
	case s.cfg.Cleanup == CleanupOnOwnerExit:
		unlink = s.created
	case s.cfg.Cleanup == CleanupIfLast:
		unlink = remaining <= 0
	}

	var errs []error
	if unlink {
		errs = append(errs, s.unlink())
	}
	errs = append(errs, s.mapping.Close(), s.file.Close())
	return errors.Join(errs...)
}

// unlink removes the name, but only while it still refers to our file.
func (s *Segment) unlink() error {
	cur, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	own, err := s.file.Stat()
	if err != nil {
		return err
	}
	if !os.SameFile(cur, own) {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Region returns the bytes following the segment header.
func (s *Segment) Region() []byte { return s.arena.Bytes() }

// Addr returns the base address of the mapping in this process.
func (s *Segment) Addr() uintptr { return s.mapping.Addr() }

// Name returns the segment name.
func (s *Segment) Name() string { return s.cfg.Name }

// Path returns the file backing the segment.
func (s *Segment) Path() string { return s.path }

// Created reports whether this handle created the segment.
func (s *Segment) Created() bool { return s.created }

// Size returns the region size in bytes.
func (s *Segment) Size() int { return s.mapping.Size() - HeaderSize }

// Cleanup returns the handle's cleanup policy.
func (s *Segment) Cleanup() Cleanup { return s.cfg.Cleanup }

// Usage returns the number of handles attached across all processes.
func (s *Segment) Usage() int { return int(s.hdr.usage.Load()) }

// Invalidated reports whether another handle reinitialized the segment.
func (s *Segment) Invalidated() bool { return s.hdr.invalidated.Load() != 0 }

// Closed reports whether Close has been called.
func (s *Segment) Closed() bool { return s.closed.Load() }

// Path returns the file path for a segment name. A leading slash, as in
// POSIX shm names, is ignored.
func Path(dir, name string) (string, error) {
	name = strings.TrimPrefix(name, "/")
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if dir == "" {
		dir = defaultDir()
	}
	return filepath.Join(dir, name), nil
}

func defaultDir() string {
	if fi, err := os.Stat(DefaultDir); err == nil && fi.IsDir() {
		return DefaultDir
	}
	return os.TempDir()
}

// Remove unlinks the named segment. Attached handles are unaffected.
func Remove(dir, name string) error {
	path, err := Path(dir, name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}
