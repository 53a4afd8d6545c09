package structstore

import (
	"bytes"
	"fmt"
	"math"
	"slices"

	"github.com/hupe1980/structstore/codec"
)

// Map is a detached, insertion-ordered store tree. DeepCopy and Copy return
// Maps, and Set accepts them to build nested stores in one assignment.
type Map struct {
	keys  []string
	vals  []any
	index map[string]int
}

// NewMap returns a Map built from alternating keys and values.
// It panics if a key is not a string.
//
//	m := structstore.NewMap("num", 5, "value", 3.14)
func NewMap(kv ...any) *Map {
	m := &Map{index: make(map[string]int, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("structstore: NewMap key %d is %T, not string", i/2, kv[i]))
		}
		m.Set(k, kv[i+1])
	}
	return m
}

// Set assigns v to key, appending key if it is new.
func (m *Map) Set(key string, v any) *Map {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if i, ok := m.index[key]; ok {
		m.vals[i] = v
		return m
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, v)
	return m
}

// Get returns the value for key.
func (m *Map) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	i, ok := m.index[key]
	if !ok {
		return nil, false
	}
	return m.vals[i], true
}

// Delete removes key, keeping the order of the remaining keys.
func (m *Map) Delete(key string) {
	i, ok := m.index[key]
	if !ok {
		return
	}
	m.keys = slices.Delete(m.keys, i, i+1)
	m.vals = slices.Delete(m.vals, i, i+1)
	delete(m.index, key)
	for j := i; j < len(m.keys); j++ {
		m.index[m.keys[j]] = j
	}
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return slices.Clone(m.keys)
}

// Len returns the number of keys.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// All iterates the entries in insertion order.
func (m *Map) All() func(yield func(string, any) bool) {
	return func(yield func(string, any) bool) {
		if m == nil {
			return
		}
		for i, k := range m.keys {
			if !yield(k, m.vals[i]) {
				return
			}
		}
	}
}

// Equal reports whether o holds the same keys in the same order with
// structurally equal values.
func (m *Map) Equal(o *Map) bool {
	return plainEqual(m, o)
}

// MarshalJSON renders the map as a JSON object in insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := codec.Default.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := codec.Default.Marshal(m.vals[i])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Link is a detached pointer. Path addresses the target from the root of
// the tree the link was copied with: strings select store fields, ints
// select list elements. A nil Path is a null pointer, including pointers
// whose target lay outside the copied tree. Value is the deep copy of the
// target, shared with the copy at Path.
type Link struct {
	Path  []any
	Value any
}

// IsNull reports whether the link points nowhere.
func (l *Link) IsNull() bool { return l == nil || l.Path == nil }

// MarshalJSON renders the link as {"$ref": path}.
func (l *Link) MarshalJSON() ([]byte, error) {
	return codec.Default.Marshal(map[string]any{"$ref": l.Path})
}

// DType is the element type of a matrix.
type DType uint8

const (
	Float64 DType = iota + 1
	Float32
	Int64
	Int32
	Uint8
	Bool
)

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case Float64, Int64:
		return 8
	case Float32, Int32:
		return 4
	case Uint8, Bool:
		return 1
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case Float64:
		return "float64"
	case Float32:
		return "float32"
	case Int64:
		return "int64"
	case Int32:
		return "int32"
	case Uint8:
		return "uint8"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// ParseDType maps a dtype name back to its DType.
func ParseDType(s string) (DType, error) {
	for d := Float64; d <= Bool; d++ {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, newError("ParseDType", ErrInvalidArgument, "unknown dtype %q", s)
}

// Array is a detached matrix: row-major little-endian Data of
// DType.Size() * product(Shape) bytes.
type Array struct {
	DType DType
	Shape []int
	Data  []byte
}

// NewFloat64Array returns a float64 Array of the given shape holding vals.
func NewFloat64Array(vals []float64, shape ...int) *Array {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		putElem(data, Float64, i, v)
	}
	return &Array{DType: Float64, Shape: slices.Clone(shape), Data: data}
}

// Len returns the number of elements. An Array with neither shape nor data
// is an empty matrix.
func (a *Array) Len() int {
	if len(a.Shape) == 0 && len(a.Data) == 0 {
		return 0
	}
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// Float64s returns the elements converted to float64.
func (a *Array) Float64s() []float64 {
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = elem(a.Data, a.DType, i)
	}
	return out
}

// MarshalJSON renders the array as {"dtype", "shape", "data"}.
func (a *Array) MarshalJSON() ([]byte, error) {
	return codec.Default.Marshal(map[string]any{
		"dtype": a.DType.String(),
		"shape": a.Shape,
		"data":  a.Float64s(),
	})
}

func (a *Array) validate(op string) error {
	if a.DType.Size() == 0 {
		return newError(op, ErrTypeMismatch, "unsupported matrix dtype %d", uint8(a.DType))
	}
	if len(a.Shape) == 0 && len(a.Data) == 0 {
		return nil
	}
	if len(a.Shape) > MaxDims {
		return newError(op, ErrTypeMismatch, "matrix has %d dimensions, at most %d are supported", len(a.Shape), MaxDims)
	}
	n := uint64(1)
	for _, d := range a.Shape {
		if d < 0 || uint64(d) > math.MaxUint32 {
			return newError(op, ErrTypeMismatch, "invalid matrix dimension %d", d)
		}
		n *= uint64(d)
		if n*uint64(a.DType.Size()) > math.MaxUint32 {
			return newError(op, ErrTypeMismatch, "matrix of shape %v is too large", a.Shape)
		}
	}
	if want := n * uint64(a.DType.Size()); uint64(len(a.Data)) != want {
		return newError(op, ErrTypeMismatch, "matrix data has %d bytes, shape %v needs %d", len(a.Data), a.Shape, want)
	}
	return nil
}

func linkPathEqual(a, b *Link) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() == b.IsNull()
	}
	return slices.Equal(plainLink(a).Path, plainLink(b).Path)
}

// plainEqual compares detached trees. Kinds must match exactly.
func plainEqual(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case int64:
		y, ok := b.(int64)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && (x == y || (math.IsNaN(x) && math.IsNaN(y)))
	case string:
		y, ok := b.(string)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !plainEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case *Map:
		y, ok := b.(*Map)
		if !ok || x == nil || y == nil {
			return ok && x == y
		}
		if x.Len() != y.Len() {
			return false
		}
		for i, k := range x.keys {
			if y.keys[i] != k || !plainEqual(x.vals[i], y.vals[i]) {
				return false
			}
		}
		return true
	case *Array:
		y, ok := b.(*Array)
		return ok && x.DType == y.DType && slices.Equal(x.Shape, y.Shape) && bytes.Equal(x.Data, y.Data)
	case *Link:
		y, ok := b.(*Link)
		return ok && linkPathEqual(x, y)
	case ManagedObject:
		y, ok := b.(ManagedObject)
		return ok && x.TypeName() == y.TypeName() && x.Equal(y)
	default:
		return false
	}
}
