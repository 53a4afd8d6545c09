package structstore_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/structstore"
)

// pose is a test plugin: a 2D position plus an optional pointer to an
// anchor value stored elsewhere in the same arena.
type pose struct {
	X, Y   float64
	Anchor structstore.Ref
}

const poseType = "test.pose"

func init() {
	if err := structstore.RegisterManaged(poseType, decodePose); err != nil {
		panic(err)
	}
}

func decodePose(data []byte) (structstore.ManagedObject, error) {
	if len(data) != 16 {
		return nil, errors.New("pose payload must be 16 bytes")
	}
	return &pose{
		X: math.Float64frombits(binary.LittleEndian.Uint64(data)),
		Y: math.Float64frombits(binary.LittleEndian.Uint64(data[8:])),
	}, nil
}

func (p *pose) TypeName() string { return poseType }

func (p *pose) MarshalBinary() ([]byte, error) {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out, math.Float64bits(p.X))
	binary.LittleEndian.PutUint64(out[8:], math.Float64bits(p.Y))
	return out, nil
}

func (p *pose) Copy() structstore.ManagedObject { c := *p; return &c }

func (p *pose) DeepCopy() any { return p.Copy() }

func (p *pose) Equal(other structstore.ManagedObject) bool {
	o, ok := other.(*pose)
	return ok && o.X == p.X && o.Y == p.Y
}

func (p *pose) Pointers() []structstore.Ref {
	if p.Anchor.IsNull() {
		return nil
	}
	return []structstore.Ref{p.Anchor}
}

func TestManaged_StoreAndLoad(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("pose", &pose{X: 1, Y: 2}))

	v, err := s.Get("pose")
	require.NoError(t, err)
	p, ok := v.(*pose)
	require.True(t, ok, "got %T", v)
	assert.Equal(t, 1.0, p.X)
	assert.Equal(t, 2.0, p.Y)

	eq, err := s.Equal(structstore.NewMap("pose", &pose{X: 1, Y: 2}))
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = s.Equal(structstore.NewMap("pose", &pose{X: 1, Y: 3}))
	require.NoError(t, err)
	assert.False(t, eq)

	m, err := s.Copy()
	require.NoError(t, err)
	cv, _ := m.Get("pose")
	assert.NotSame(t, p, cv)
}

func TestManaged_RoundTrip(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("poses", []any{&pose{X: 1}, &pose{Y: -1}}))

	frame, err := s.ToBytes()
	require.NoError(t, err)
	out, err := structstore.FromBytes(frame)
	require.NoError(t, err)
	defer out.Close()

	eq, err := out.Equal(s)
	require.NoError(t, err)
	assert.True(t, eq)
}

type unregistered struct{ pose }

func (u *unregistered) TypeName() string { return "test.unregistered" }

func TestManaged_Registration(t *testing.T) {
	assert.ErrorIs(t, structstore.RegisterManaged(poseType, decodePose), structstore.ErrInvalidArgument)
	assert.ErrorIs(t, structstore.RegisterManaged("", decodePose), structstore.ErrInvalidArgument)
	assert.ErrorIs(t, structstore.RegisterManaged("test.nil", nil), structstore.ErrInvalidArgument)

	s := newStore(t)
	err := s.Set("u", &unregistered{})
	assert.ErrorIs(t, err, structstore.ErrTypeMismatch)
}

func TestManaged_CrossArenaPointers(t *testing.T) {
	a := newStore(t)
	b := newStore(t)
	require.NoError(t, a.Set("anchor", 1))
	ref, err := a.Ref("anchor")
	require.NoError(t, err)

	require.NoError(t, a.Set("pose", &pose{Anchor: ref}))
	err = b.Set("pose", &pose{Anchor: ref})
	assert.ErrorIs(t, err, structstore.ErrCrossArenaPointer)
}

func TestManaged_RawPassThrough(t *testing.T) {
	raw := &structstore.RawManaged{Type: "test.foreign", Data: []byte{1, 2, 3}}
	assert.Equal(t, "test.foreign", raw.TypeName())
	assert.True(t, raw.Equal(raw.Copy()))
	assert.False(t, raw.Equal(&structstore.RawManaged{Type: "test.foreign", Data: []byte{1}}))
}
