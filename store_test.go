package structstore_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/structstore"
)

func newStore(t *testing.T, opts ...structstore.Option) *structstore.Store {
	t.Helper()
	s, err := structstore.New(1<<16, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_ScalarsDeepCopy(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("num", 5))
	require.NoError(t, s.Set("value", 3.14))
	require.NoError(t, s.Set("mystr", "foo"))
	require.NoError(t, s.Set("flag", true))

	m, err := s.DeepCopy()
	require.NoError(t, err)
	want := structstore.NewMap("num", int64(5), "value", 3.14, "mystr", "foo", "flag", true)
	assert.True(t, m.Equal(want), "got %v", m.Keys())
	assert.Equal(t, []string{"num", "value", "mystr", "flag"}, m.Keys())

	eq, err := s.Equal(structstore.NewMap("num", 5, "value", 3.14, "mystr", "foo", "flag", true))
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestStore_TypedGetters(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("i", int32(-7)))
	require.NoError(t, s.Set("f", float32(0.5)))
	require.NoError(t, s.Set("b", false))
	require.NoError(t, s.Set("s", "txt"))
	require.NoError(t, s.Set("n", nil))

	i, err := s.Int("i")
	require.NoError(t, err)
	assert.Equal(t, int64(-7), i)

	f, err := s.Float("f")
	require.NoError(t, err)
	assert.Equal(t, 0.5, f)

	b, err := s.Bool("b")
	require.NoError(t, err)
	assert.False(t, b)

	str, err := s.String("s")
	require.NoError(t, err)
	assert.Equal(t, "txt", str)

	v, err := s.Get("n")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = s.Int("s")
	assert.ErrorIs(t, err, structstore.ErrTypeMismatch)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, structstore.ErrUnknownField)
	assert.EqualError(t, err, `unknown field "missing"`)
}

func TestStore_SetRejectsUnsupportedTypes(t *testing.T) {
	s := newStore(t)
	before, err := s.Stats()
	require.NoError(t, err)

	tests := []struct {
		name string
		v    any
	}{
		{"struct", struct{}{}},
		{"map", map[string]any{"a": 1}},
		{"nested", []any{1, []any{make(chan int)}}},
		{"overflow", uint64(1 << 63)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Set("x", tt.v)
			assert.ErrorIs(t, err, structstore.ErrTypeMismatch)
		})
	}

	after, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, before.UsedBytes, after.UsedBytes)
	n, err := s.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_KindSwitch(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("v", strings.Repeat("x", 200)))
	require.NoError(t, s.Set("v", []any{1, 2, 3}))
	require.NoError(t, s.Set("v", structstore.NewMap("a", 1)))
	require.NoError(t, s.Set("v", 1.5))

	f, err := s.Float("v")
	require.NoError(t, err)
	assert.Equal(t, 1.5, f)
	require.NoError(t, s.Check())

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_DeleteAndClear(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Set(fmt.Sprintf("k%d", i), i))
	}
	require.NoError(t, s.Delete("k3"))
	assert.ErrorIs(t, s.Delete("k3"), structstore.ErrUnknownField)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"k0", "k1", "k2", "k4", "k5", "k6", "k7", "k8", "k9"}, keys)

	ok, err := s.Has("k4")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Clear())
	n, err := s.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, s.Check())
}

func TestStore_Nested(t *testing.T) {
	s := newStore(t)
	sub, err := s.AddStore("sub")
	require.NoError(t, err)
	require.NoError(t, sub.Set("x", 1))

	got, err := s.Store("sub")
	require.NoError(t, err)
	x, err := got.Int("x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), x)

	lst, err := sub.AddList("items")
	require.NoError(t, err)
	require.NoError(t, lst.Append("a"))

	m, err := s.DeepCopy()
	require.NoError(t, err)
	want := structstore.NewMap("sub", structstore.NewMap("x", int64(1), "items", []any{"a"}))
	assert.True(t, m.Equal(want))

	// Replacing the parent field invalidates handles into the old subtree.
	require.NoError(t, s.Set("sub", 0))
	_, err = sub.Get("x")
	assert.ErrorIs(t, err, structstore.ErrInvalidReference)
	assert.ErrorIs(t, lst.Append("b"), structstore.ErrInvalidReference)
}

func TestStore_CopyAssignment(t *testing.T) {
	s := newStore(t)
	lst, err := s.AddList("lst")
	require.NoError(t, err)

	// An empty container may be assigned, to itself or elsewhere.
	require.NoError(t, s.Set("lst", lst))
	require.NoError(t, s.Set("other", lst))

	require.NoError(t, lst.Append(1))
	err = s.Set("lst", lst)
	require.ErrorIs(t, err, structstore.ErrUnsupportedOperation)
	assert.EqualError(t, err, "copy assignment of List is not supported")

	sub, err := s.AddStore("sub")
	require.NoError(t, err)
	require.NoError(t, sub.Set("a", 1))
	err = s.Set("copy", sub)
	require.ErrorIs(t, err, structstore.ErrUnsupportedOperation)
	assert.EqualError(t, err, "copy assignment of Store is not supported")

	mat, err := s.AddMatrix("m", structstore.Float64, 2)
	require.NoError(t, err)
	err = s.Set("m2", mat)
	require.ErrorIs(t, err, structstore.ErrUnsupportedOperation)
	assert.EqualError(t, err, "copy assignment of Matrix is not supported")

	v, err := s.Get("lst")
	require.NoError(t, err)
	require.IsType(t, &structstore.List{}, v)
	n, err := v.(*structstore.List).Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_OutOfMemory(t *testing.T) {
	s, err := structstore.New(4096)
	require.NoError(t, err)
	defer s.Close()

	var failed bool
	for i := 0; i < 1000 && !failed; i++ {
		before, err := s.DeepCopy()
		require.NoError(t, err)
		stats, err := s.Stats()
		require.NoError(t, err)

		err = s.Set(fmt.Sprintf("k%d", i), []any{strings.Repeat("x", 64), structstore.NewMap("n", i)})
		if err == nil {
			continue
		}
		failed = true
		require.ErrorIs(t, err, structstore.ErrOutOfMemory)

		eq, err := s.Equal(before)
		require.NoError(t, err)
		assert.True(t, eq, "failed assignment must leave the store unchanged")
		after, err := s.Stats()
		require.NoError(t, err)
		assert.Equal(t, stats.UsedBytes, after.UsedBytes)
		require.NoError(t, s.Check())
	}
	assert.True(t, failed, "arena never filled up")
}

func TestStore_CloseOnlyRoot(t *testing.T) {
	s, err := structstore.New(1 << 14)
	require.NoError(t, err)
	sub, err := s.AddStore("sub")
	require.NoError(t, err)

	assert.ErrorIs(t, sub.Close(), structstore.ErrUnsupportedOperation)
	require.NoError(t, s.Close())

	_, err = s.Get("sub")
	assert.ErrorIs(t, err, structstore.ErrClosed)
}

func TestStore_Iter(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("a", 1))
	require.NoError(t, s.Set("b", "two"))

	it, err := s.Iter()
	require.NoError(t, err)
	var names []string
	for it.Next() {
		names = append(names, it.Name())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"a", "b"}, names)

	// Exhausting the iterator released its lock.
	require.NoError(t, s.Set("c", 3))
}

func TestStore_NewInvalidCapacity(t *testing.T) {
	_, err := structstore.New(16)
	assert.ErrorIs(t, err, structstore.ErrInvalidArgument)
}
