package structstore

import (
	"bytes"
	"context"
	"io"
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/structstore/internal/arena"
	"github.com/hupe1980/structstore/internal/lock"
	"github.com/hupe1980/structstore/internal/wire"
	"github.com/hupe1980/structstore/resource"
)

// Body layout, after the frame header:
//
//	uvarint capacity
//	value
//
// where every value is uvarint source-cell, kind byte, payload. Payloads:
// Bool one byte, Int zigzag varint, Float IEEE bits, String length-prefixed,
// Store count then (name, value) pairs, List count then values, Matrix
// dtype, rank, dims and raw bytes, Pointer the source cell of its target
// (0 for null), ManagedObject type name and payload.

// ToBytes serializes the store and everything below it into a frame.
// WithCompression selects the frame codec.
func (s *Store) ToBytes(opts ...Option) ([]byte, error) {
	const op = "Store.ToBytes"
	o := s.sp.opts
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	frame, err := s.encode(op, o)
	s.sp.opts.metricsCollector.RecordEncode(len(frame), time.Since(start), err)
	s.sp.opts.logger.LogEncode(context.Background(), len(frame), o.compression, err)
	return frame, err
}

func (s *Store) encode(op string, o options) ([]byte, error) {
	if err := s.sp.enter(op); err != nil {
		return nil, err
	}
	defer s.sp.leave()

	g, err := s.read(op)
	if err != nil {
		return nil, err
	}
	defer g.Release()

	h, err := s.header(op)
	if err != nil {
		return nil, err
	}
	e := &encoder{n: &s.node, op: op, w: wire.NewWriter(256), locked: roaring.New()}
	e.locked.Add(uint32(s.ref))
	defer e.release()

	e.w.Uvarint(uint64(s.sp.arena.Capacity()))
	if err := e.cell(arena.Ref(h.cell)); err != nil {
		return nil, err
	}
	frame, err := wire.Seal(e.w.Bytes(), o.compression)
	if err != nil {
		return nil, translateError(op, err)
	}
	return frame, nil
}

type encoder struct {
	n      *node
	op     string
	w      *wire.Writer
	locked *roaring.Bitmap
	guards []*lock.Guard
}

func (e *encoder) release() {
	for _, g := range e.guards {
		g.Release()
	}
	e.guards = nil
}

func (e *encoder) lock(cl *cell) (node, error) {
	child := e.n.child(cl)
	if e.locked.CheckedAdd(uint32(child.ref)) {
		g, err := child.read(e.op)
		if err != nil {
			return node{}, err
		}
		e.guards = append(e.guards, g)
	}
	return child, nil
}

func (e *encoder) cell(r arena.Ref) error {
	sp, w := e.n.sp, e.w
	cl := sp.cellAt(r)
	w.Uvarint(uint64(r))
	w.Byte(byte(cl.kind))
	switch cl.kind {
	case KindNone:
	case KindBool:
		w.Byte(byte(cl.bits & 1))
	case KindInt:
		w.Varint(int64(cl.bits))
	case KindFloat:
		w.Float64(math.Float64frombits(cl.bits))
	case KindString:
		w.Blob(sp.str(cl))
	case KindStore:
		child, err := e.lock(cl)
		if err != nil {
			return err
		}
		es := sp.entries(sp.storeAt(child.ref))
		w.Uvarint(uint64(len(es)))
		for i := range es {
			w.Blob(sp.name(&es[i]))
			if err := e.cell(arena.Ref(es[i].cell)); err != nil {
				return err
			}
		}
	case KindList:
		child, err := e.lock(cl)
		if err != nil {
			return err
		}
		items := sp.items(sp.listAt(child.ref))
		w.Uvarint(uint64(len(items)))
		for _, it := range items {
			if err := e.cell(arena.Ref(it)); err != nil {
				return err
			}
		}
	case KindMatrix:
		child, err := e.lock(cl)
		if err != nil {
			return err
		}
		m := Matrix{node: child}
		h := m.hdr()
		w.Byte(byte(h.dtype))
		w.Byte(h.ndim)
		for i := range h.ndim {
			w.Uvarint(uint64(h.shape[i]))
		}
		w.Blob(m.data(h))
	case KindPointer:
		target, gen := unpackPointer(cl.bits)
		if target != arena.Null && (!sp.validCell(target) || sp.cellAt(target).gen != gen) {
			target = arena.Null
		}
		w.Uvarint(uint64(target))
	case KindManaged:
		name, data, err := sp.managedBlob(cl)
		if err != nil {
			return err
		}
		w.String(name)
		w.Blob(data)
	default:
		return newError(e.op, ErrCorrupt, "cell %d holds unknown kind %d", uint32(r), uint8(cl.kind))
	}
	return nil
}

// decodeFrame opens a frame and rebuilds its tree as plain values. Pointers
// become links; those whose target is not part of the tree stay null.
func decodeFrame(op string, buf []byte) (int, *Map, error) {
	raw, err := wire.Open(buf)
	if err != nil {
		return 0, nil, translateError(op, err)
	}
	d := &decoder{op: op, r: wire.NewReader(raw), seen: roaring.New(), found: make(map[uint32]copied)}
	capacity := d.r.Uvarint()
	v, kind, err := d.value([]any{}, 0)
	if err != nil {
		return 0, nil, err
	}
	if d.r.Remaining() != 0 {
		return 0, nil, newError(op, ErrCorrupt, "%d trailing bytes after value tree", d.r.Remaining())
	}
	if kind != KindStore {
		return 0, nil, newError(op, ErrCorrupt, "frame holds a %s, not a store", kind)
	}
	if capacity > arena.MaxCapacity {
		return 0, nil, newError(op, ErrCorrupt, "frame records capacity %d", capacity)
	}
	for _, l := range d.links {
		if f, ok := d.found[l.src]; ok {
			l.link.Path = f.path
			l.link.Value = f.value
		}
	}
	return int(capacity), v.(*Map), nil
}

type decoder struct {
	op    string
	r     *wire.Reader
	seen  *roaring.Bitmap
	found map[uint32]copied
	links []decodedLink
}

type decodedLink struct {
	link *Link
	src  uint32
}

func (d *decoder) corrupt(format string, args ...any) error {
	return newError(d.op, ErrCorrupt, format, args...)
}

func (d *decoder) value(path []any, depth int) (any, Kind, error) {
	if depth > maxDepth {
		return nil, 0, d.corrupt("value tree nests deeper than %d levels", maxDepth)
	}
	r := d.r
	src := r.Uvarint()
	kind := Kind(r.Byte())
	if err := r.Err(); err != nil {
		return nil, 0, translateError(d.op, err)
	}
	if src == 0 || src > arena.MaxCapacity || !d.seen.CheckedAdd(uint32(src)) {
		return nil, 0, d.corrupt("bad or repeated source cell %d", src)
	}

	var v any
	switch kind {
	case KindNone:
	case KindBool:
		b := r.Byte()
		if b > 1 {
			return nil, 0, d.corrupt("bool byte %d", b)
		}
		v = b == 1
	case KindInt:
		v = r.Varint()
	case KindFloat:
		v = r.Float64()
	case KindString:
		v = r.String()
	case KindStore:
		n := r.Len()
		m := &Map{index: make(map[string]int, n)}
		for range n {
			name := r.String()
			if err := r.Err(); err != nil {
				return nil, 0, translateError(d.op, err)
			}
			if _, dup := m.Get(name); dup {
				return nil, 0, d.corrupt("duplicate field %q", name)
			}
			e, _, err := d.value(append(path[:len(path):len(path)], name), depth+1)
			if err != nil {
				return nil, 0, err
			}
			m.Set(name, e)
		}
		v = m
	case KindList:
		n := r.Len()
		xs := make([]any, 0, n)
		for i := range n {
			e, _, err := d.value(append(path[:len(path):len(path)], i), depth+1)
			if err != nil {
				return nil, 0, err
			}
			xs = append(xs, e)
		}
		v = xs
	case KindMatrix:
		a := &Array{DType: DType(r.Byte())}
		ndim := int(r.Byte())
		if ndim > MaxDims {
			return nil, 0, d.corrupt("matrix rank %d", ndim)
		}
		if ndim > 0 {
			a.Shape = make([]int, ndim)
		}
		for i := range ndim {
			dim := r.Uvarint()
			if dim > arena.MaxCapacity {
				return nil, 0, d.corrupt("matrix dimension %d", dim)
			}
			a.Shape[i] = int(dim)
		}
		a.Data = bytes.Clone(r.Blob())
		if err := r.Err(); err != nil {
			return nil, 0, translateError(d.op, err)
		}
		if err := a.validate(d.op); err != nil {
			return nil, 0, d.corrupt("%s", err.Error())
		}
		v = a
	case KindPointer:
		l := &Link{}
		if target := r.Uvarint(); target != 0 {
			if target > arena.MaxCapacity {
				return nil, 0, d.corrupt("pointer target %d", target)
			}
			d.links = append(d.links, decodedLink{link: l, src: uint32(target)})
		}
		v = l
	case KindManaged:
		name := r.String()
		data := bytes.Clone(r.Blob())
		if err := r.Err(); err != nil {
			return nil, 0, translateError(d.op, err)
		}
		obj, err := decodeManaged(name, data)
		if err != nil {
			return nil, 0, err
		}
		v = obj
	default:
		return nil, 0, d.corrupt("unknown value tag %d", uint8(kind))
	}
	if err := r.Err(); err != nil {
		return nil, 0, translateError(d.op, err)
	}
	d.found[uint32(src)] = copied{path: path, value: v}
	return v, kind, nil
}

// FromBytes rebuilds a serialized store in a new private arena. The arena
// gets the capacity recorded in the frame unless WithCapacity overrides it.
func FromBytes(buf []byte, opts ...Option) (*Store, error) {
	const op = "FromBytes"
	o := applyOptions(opts)
	start := time.Now()
	s, err := fromBytes(op, buf, o)
	o.metricsCollector.RecordDecode(len(buf), time.Since(start), err)
	o.logger.LogDecode(context.Background(), len(buf), err)
	return s, err
}

func fromBytes(op string, buf []byte, o options) (*Store, error) {
	capacity, m, err := decodeFrame(op, buf)
	if err != nil {
		return nil, err
	}
	if o.capacity > 0 {
		capacity = o.capacity
	}
	sp, err := newPrivate(op, capacity, o)
	if err != nil {
		return nil, err
	}
	n, err := sp.rootNode(op, lock.NewOwner())
	if err != nil {
		sp.close()
		return nil, err
	}
	s := &Store{node: n}
	if err := s.replace(op, m); err != nil {
		sp.close()
		return nil, err
	}
	return s, nil
}

// LoadBytes replaces the store's contents with a serialized tree, for
// example to fill a shared segment. The new tree is complete before the old
// one is freed, so on failure the store is unchanged.
func (s *Store) LoadBytes(buf []byte) error {
	const op = "Store.LoadBytes"
	start := time.Now()
	_, m, err := decodeFrame(op, buf)
	if err == nil {
		err = s.replace(op, m)
	}
	s.sp.opts.metricsCollector.RecordDecode(len(buf), time.Since(start), err)
	s.sp.opts.logger.LogDecode(context.Background(), len(buf), err)
	return err
}

// WriteTo writes the store as one frame to w. It implements io.WriterTo.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	return s.WriteFrame(context.Background(), w)
}

// WriteFrame writes the store as one frame to w, honoring the resource
// controller's encode slots and IO rate limit. ctx bounds the waits.
func (s *Store) WriteFrame(ctx context.Context, w io.Writer) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rc := s.sp.opts.controller
	if err := rc.AcquireEncode(ctx); err != nil {
		return 0, err
	}
	defer rc.ReleaseEncode()

	frame, err := s.ToBytes()
	if err != nil {
		return 0, err
	}
	n, err := resource.NewRateLimitedWriter(ctx, w, rc).Write(frame)
	return int64(n), err
}

// ReadFrom reads one frame from r and rebuilds it like FromBytes.
func ReadFrom(ctx context.Context, r io.Reader, opts ...Option) (*Store, error) {
	const op = "ReadFrom"
	o := applyOptions(opts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := o.controller.AcquireEncode(ctx); err != nil {
		return nil, err
	}
	defer o.controller.ReleaseEncode()

	start := time.Now()
	buf, err := readFrame(op, resource.NewRateLimitedReader(ctx, r, o.controller))
	var s *Store
	if err == nil {
		s, err = fromBytes(op, buf, o)
	}
	o.metricsCollector.RecordDecode(len(buf), time.Since(start), err)
	o.logger.LogDecode(ctx, len(buf), err)
	return s, err
}

func readFrame(op string, r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, r, wire.FrameHeaderSize); err != nil {
		return nil, newError(op, ErrCorrupt, "reading frame header: %v", err)
	}
	h, err := wire.ParseHeader(buf.Bytes())
	if err != nil {
		return nil, translateError(op, err)
	}
	if _, err := io.CopyN(&buf, r, int64(h.BodyLen)); err != nil {
		return nil, newError(op, ErrCorrupt, "reading frame body: %v", err)
	}
	return buf.Bytes(), nil
}
