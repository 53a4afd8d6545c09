package structstore_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/structstore"
)

func newList(t *testing.T, s *structstore.Store, vals ...any) *structstore.List {
	t.Helper()
	l, err := s.AddList("lst")
	require.NoError(t, err)
	require.NoError(t, l.ExtendValues(vals...))
	return l
}

func TestList_Operations(t *testing.T) {
	s := newStore(t)
	l := newList(t, s, 1, 2, 3)

	require.NoError(t, l.Append(4))
	require.NoError(t, l.Insert(0, 0))
	require.NoError(t, l.Insert(5, 5))
	require.NoError(t, l.Set(2, "two"))

	eq, err := l.Equal([]any{0, 1, "two", 3, 4, 5})
	require.NoError(t, err)
	assert.True(t, eq)

	v, err := l.Pop(2)
	require.NoError(t, err)
	assert.Equal(t, "two", v)
	require.NoError(t, l.Delete(0))

	got, err := l.DeepCopy()
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(3), int64(4), int64(5)}, got)

	n, err := l.Len()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, l.Clear())
	n, err = l.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, s.Check())
}

func TestList_IndexOutOfRange(t *testing.T) {
	s := newStore(t)
	l := newList(t, s, "a", "b")

	tests := []struct {
		name string
		op   func() error
	}{
		{"at", func() error { _, err := l.At(2); return err }},
		{"negative", func() error { _, err := l.At(-1); return err }},
		{"set", func() error { return l.Set(5, 1) }},
		{"insert", func() error { return l.Insert(3, 1) }},
		{"pop", func() error { _, err := l.Pop(2); return err }},
		{"delete", func() error { return l.Delete(9) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.op(), structstore.ErrIndexOutOfRange)
		})
	}

	_, err := l.At(2)
	assert.EqualError(t, err, "index 2 out of range [0:2]")
}

func TestList_AppendStoreUnderWriteLock(t *testing.T) {
	s := newStore(t)
	l := newList(t, s)

	g, err := s.WriteLock()
	require.NoError(t, err)
	lst, err := s.List("lst")
	require.NoError(t, err)
	sub, err := lst.AppendStore()
	require.NoError(t, err)
	require.NoError(t, sub.Set("x", 1))

	v, err := lst.At(0)
	require.NoError(t, err)
	require.IsType(t, &structstore.Store{}, v)
	g.Release()

	// No lock survives the read: another owner can write-lock the list.
	other := l.Fork()
	wg, err := other.WriteLock()
	require.NoError(t, err)
	wg.Release()
}

func TestList_AppendDuringIteration(t *testing.T) {
	s := newStore(t, structstore.WithLockTimeout(20*time.Millisecond))
	l := newList(t, s, 1, 2, 3)

	it, err := l.Iter()
	require.NoError(t, err)
	require.True(t, it.Next())

	err = l.Append(4)
	require.ErrorIs(t, err, structstore.ErrLockTimeout)
	assert.EqualError(t, err, "timeout while getting write lock")

	var seen []any
	seen = append(seen, it.Value())
	for it.Next() {
		seen = append(seen, it.Value())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, seen)

	require.NoError(t, l.Append(4))
}

func TestList_ExtendBySelf(t *testing.T) {
	s := newStore(t)
	l := newList(t, s, 1, 2)

	err := l.Extend(l)
	require.ErrorIs(t, err, structstore.ErrLockProtocolViolation)
	assert.EqualError(t, err, "trying to acquire read lock while current owner has write lock")

	n, err := l.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestList_Extend(t *testing.T) {
	s := newStore(t)
	l := newList(t, s, 1)

	src, err := s.AddList("src")
	require.NoError(t, err)
	require.NoError(t, src.ExtendValues("a", structstore.NewMap("k", 2), []any{3.5}))

	require.NoError(t, l.Extend(src))
	eq, err := l.Equal([]any{1, "a", structstore.NewMap("k", 2), []any{3.5}})
	require.NoError(t, err)
	assert.True(t, eq)

	// The new elements are copies, not aliases.
	require.NoError(t, src.Clear())
	n, err := l.Len()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// Another arena works too.
	other := newStore(t)
	ol, err := other.AddList("x")
	require.NoError(t, err)
	require.NoError(t, ol.ExtendValues(true))
	require.NoError(t, l.Extend(ol))
	v, err := l.At(4)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestList_ExtendValuesAtomic(t *testing.T) {
	s := newStore(t)
	l := newList(t, s, 1)

	err := l.ExtendValues(2, struct{}{})
	require.ErrorIs(t, err, structstore.ErrTypeMismatch)

	n, err := l.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestList_BorrowAt(t *testing.T) {
	s := newStore(t, structstore.WithLockTimeout(20*time.Millisecond))
	l := newList(t, s, "x")

	v, g, err := l.BorrowAt(0)
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	assert.ErrorIs(t, l.Fork().Append(1), structstore.ErrLockTimeout)
	g.Release()
	g.Release()
	require.NoError(t, l.Fork().Append(1))
}
