package structstore

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/hupe1980/structstore/internal/arena"
)

// Matrix is a handle to a dense n-dimensional array stored row-major.
type Matrix struct {
	node
}

// Fork returns a handle to the same matrix acting for a new lock owner.
func (m *Matrix) Fork() *Matrix {
	return &Matrix{node: m.fork()}
}

// ReadLock takes an explicit shared lock on the matrix.
func (m *Matrix) ReadLock() (*Guard, error) {
	return m.guard("Matrix.ReadLock", false)
}

// WriteLock takes an explicit exclusive lock on the matrix.
func (m *Matrix) WriteLock() (*Guard, error) {
	return m.guard("Matrix.WriteLock", true)
}

func (m *Matrix) hdr() *matrixHdr {
	return m.sp.matrixAt(m.ref)
}

func (m *Matrix) data(h *matrixHdr) []byte {
	if h.size == 0 {
		return nil
	}
	return m.sp.arena.Bytes(arena.Ref(h.data), int(h.size))
}

func (h *matrixHdr) dims() []int {
	out := make([]int, h.ndim)
	for i := range out {
		out[i] = int(h.shape[i])
	}
	return out
}

// view runs fn under the matrix's read lock.
func (m *Matrix) view(op string, fn func(h *matrixHdr) error) error {
	if err := m.sp.enter(op); err != nil {
		return err
	}
	defer m.sp.leave()

	g, err := m.read(op)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn(m.hdr())
}

// DType returns the element type.
func (m *Matrix) DType() (DType, error) {
	var d DType
	err := m.view("Matrix.DType", func(h *matrixHdr) error {
		d = h.dtype
		return nil
	})
	return d, err
}

// Shape returns the dimensions.
func (m *Matrix) Shape() ([]int, error) {
	var s []int
	err := m.view("Matrix.Shape", func(h *matrixHdr) error {
		s = h.dims()
		return nil
	})
	return s, err
}

// NDim returns the number of dimensions.
func (m *Matrix) NDim() (int, error) {
	var n int
	err := m.view("Matrix.NDim", func(h *matrixHdr) error {
		n = int(h.ndim)
		return nil
	})
	return n, err
}

// Len returns the number of elements. An empty matrix has none.
func (m *Matrix) Len() (int, error) {
	var n int
	err := m.view("Matrix.Len", func(h *matrixHdr) error {
		if h.size > 0 {
			n = int(h.size) / h.dtype.Size()
		}
		return nil
	})
	return n, err
}

// offset converts a multi-index to a flat element index.
func (h *matrixHdr) offset(op string, idx []int) (int, error) {
	if len(idx) != int(h.ndim) {
		return 0, newError(op, ErrIndexOutOfRange, "matrix has %d dimensions, got %d indices", h.ndim, len(idx))
	}
	if h.size == 0 {
		return 0, errIndex(op, 0, 0)
	}
	off := 0
	for d, i := range idx {
		n := int(h.shape[d])
		if i < 0 || i >= n {
			return 0, errIndex(op, i, n)
		}
		off = off*n + i
	}
	return off, nil
}

// At returns the element at idx converted to float64.
func (m *Matrix) At(idx ...int) (float64, error) {
	const op = "Matrix.At"
	var v float64
	err := m.view(op, func(h *matrixHdr) error {
		i, err := h.offset(op, idx)
		if err != nil {
			return err
		}
		v = elem(m.data(h), h.dtype, i)
		return nil
	})
	return v, err
}

// SetAt stores v at idx, converted to the matrix dtype.
func (m *Matrix) SetAt(v float64, idx ...int) error {
	const op = "Matrix.SetAt"
	if err := m.sp.enter(op); err != nil {
		return err
	}
	defer m.sp.leave()

	g, err := m.write(op)
	if err != nil {
		return err
	}
	defer g.Release()

	h := m.hdr()
	i, err := h.offset(op, idx)
	if err != nil {
		return err
	}
	putElem(m.data(h), h.dtype, i, v)
	return nil
}

// Float64s returns all elements converted to float64.
func (m *Matrix) Float64s() ([]float64, error) {
	var out []float64
	err := m.view("Matrix.Float64s", func(h *matrixHdr) error {
		data := m.data(h)
		if len(data) == 0 {
			return nil
		}
		out = make([]float64, len(data)/h.dtype.Size())
		for i := range out {
			out[i] = elem(data, h.dtype, i)
		}
		return nil
	})
	return out, err
}

// Bytes returns a copy of the raw little-endian payload.
func (m *Matrix) Bytes() ([]byte, error) {
	var out []byte
	err := m.view("Matrix.Bytes", func(h *matrixHdr) error {
		out = bytes.Clone(m.data(h))
		return nil
	})
	return out, err
}

// SetData replaces dtype, shape and payload in one step. The new payload
// is allocated before the old one is freed.
func (m *Matrix) SetData(dtype DType, shape []int, raw []byte) error {
	const op = "Matrix.SetData"
	a := &Array{DType: dtype, Shape: shape, Data: raw}
	if err := a.validate(op); err != nil {
		return err
	}
	if err := m.sp.enter(op); err != nil {
		return err
	}
	defer m.sp.leave()

	g, err := m.write(op)
	if err != nil {
		return err
	}
	defer g.Release()

	b := m.sp.newBuilder(op, arena.Null)
	data, err := b.bytes(raw)
	if err != nil {
		return err
	}
	h := m.hdr()
	old := arena.Ref(h.data)
	h.dtype, h.ndim = dtype, uint8(len(shape))
	h.shape = [MaxDims]uint32{}
	for i, d := range shape {
		h.shape[i] = uint32(d)
	}
	h.data, h.size = uint32(data), uint32(len(raw))
	m.sp.free(old)
	return nil
}

// DeepCopy returns a detached copy of the matrix.
func (m *Matrix) DeepCopy() (*Array, error) {
	var a *Array
	err := m.view("Matrix.DeepCopy", func(h *matrixHdr) error {
		a = m.array(h)
		return nil
	})
	return a, err
}

func (m *Matrix) array(h *matrixHdr) *Array {
	return &Array{DType: h.dtype, Shape: h.dims(), Data: bytes.Clone(m.data(h))}
}

// Equal reports whether the matrix equals other, which may be a *Matrix
// handle or an *Array.
func (m *Matrix) Equal(other any) (bool, error) {
	return equalNode("Matrix.Equal", &m.node, other)
}

// elem reads element i of a little-endian payload as float64.
func elem(data []byte, d DType, i int) float64 {
	switch d {
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:])))
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(data[8*i:])))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(data[4*i:])))
	case Uint8:
		return float64(data[i])
	case Bool:
		if data[i] != 0 {
			return 1
		}
		return 0
	default:
		return math.NaN()
	}
}

// putElem stores v as element i, converting to d.
func putElem(data []byte, d DType, i int, v float64) {
	switch d {
	case Float64:
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
	case Float32:
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(float32(v)))
	case Int64:
		binary.LittleEndian.PutUint64(data[8*i:], uint64(int64(v)))
	case Int32:
		binary.LittleEndian.PutUint32(data[4*i:], uint32(int32(v)))
	case Uint8:
		data[i] = uint8(v)
	case Bool:
		if v != 0 {
			data[i] = 1
		} else {
			data[i] = 0
		}
	}
}
