package structstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/structstore"
)

func TestCopy_ShallowKeepsHandles(t *testing.T) {
	s := newStore(t)
	sub, err := s.AddStore("sub")
	require.NoError(t, err)
	require.NoError(t, sub.Set("x", 1))
	require.NoError(t, s.Set("n", 2))

	m, err := s.Copy()
	require.NoError(t, err)
	v, ok := m.Get("sub")
	require.True(t, ok)
	h, ok := v.(*structstore.Store)
	require.True(t, ok, "nested store should stay a live handle, got %T", v)

	require.NoError(t, h.Set("x", 10))
	x, err := sub.Int("x")
	require.NoError(t, err)
	assert.Equal(t, int64(10), x)

	n, _ := m.Get("n")
	assert.Equal(t, int64(2), n)
}

func TestCopy_DeepIsDetached(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("tree", structstore.NewMap(
		"l", []any{1, structstore.NewMap("k", "v")},
		"m", structstore.NewFloat64Array([]float64{1, 2}, 2),
	)))

	m, err := s.DeepCopy()
	require.NoError(t, err)

	tree, err := s.Store("tree")
	require.NoError(t, err)
	require.NoError(t, tree.Set("l", "gone"))
	mat, err := s.Store("tree")
	require.NoError(t, err)
	require.NoError(t, mat.Delete("m"))

	want := structstore.NewMap("tree", structstore.NewMap(
		"l", []any{int64(1), structstore.NewMap("k", "v")},
		"m", structstore.NewFloat64Array([]float64{1, 2}, 2),
	))
	assert.True(t, m.Equal(want))

	// And the other way around: editing the copy leaves the store alone.
	m.Delete("tree")
	ok, err := s.Has("tree")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEqual_KindExact(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("m", structstore.NewFloat64Array([]float64{1, 2, 3, 4}, 4)))
	require.NoError(t, s.Set("l", []any{1.0, 2.0, 3.0, 4.0}))
	require.NoError(t, s.Set("a", structstore.NewMap("x", 1)))
	require.NoError(t, s.Set("b", structstore.NewMap("x", 1)))

	mat, err := s.Matrix("m")
	require.NoError(t, err)
	lst, err := s.List("l")
	require.NoError(t, err)
	a, err := s.Store("a")
	require.NoError(t, err)
	b, err := s.Store("b")
	require.NoError(t, err)

	tests := []struct {
		name string
		eq   func() (bool, error)
		want bool
	}{
		{"matrix vs list", func() (bool, error) { return mat.Equal(lst) }, false},
		{"list vs matrix", func() (bool, error) { return lst.Equal(mat) }, false},
		{"list vs plain", func() (bool, error) { return lst.Equal([]any{1.0, 2.0, 3.0, 4.0}) }, true},
		{"int vs float elements", func() (bool, error) { return lst.Equal([]any{1, 2, 3, 4}) }, false},
		{"store vs store", func() (bool, error) { return a.Equal(b) }, true},
		{"store vs map", func() (bool, error) { return a.Equal(structstore.NewMap("x", int64(1))) }, true},
		{"store vs list", func() (bool, error) { return a.Equal(lst) }, false},
		{"matrix vs array", func() (bool, error) {
			return mat.Equal(structstore.NewFloat64Array([]float64{1, 2, 3, 4}, 4))
		}, true},
		{"matrix vs reshaped array", func() (bool, error) {
			return mat.Equal(structstore.NewFloat64Array([]float64{1, 2, 3, 4}, 2, 2))
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.eq()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = a.Equal(struct{}{})
	assert.ErrorIs(t, err, structstore.ErrTypeMismatch)
}

func TestPointer_Deref(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("num", 42))
	ref, err := s.Ref("num")
	require.NoError(t, err)
	require.NoError(t, s.Set("ptr", ref))

	p, err := s.Pointer("ptr")
	require.NoError(t, err)
	require.False(t, p.IsNull())
	v, err := p.Deref()
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	// Pointers see updates of the target in place.
	require.NoError(t, s.Set("num", 43))
	v, err = p.Deref()
	require.NoError(t, err)
	assert.Equal(t, int64(43), v)

	// Copying a pointer value duplicates the reference.
	require.NoError(t, s.Set("ptr2", p))
	p2, err := s.Pointer("ptr2")
	require.NoError(t, err)
	t1, err := p.Target()
	require.NoError(t, err)
	t2, err := p2.Target()
	require.NoError(t, err)
	assert.Equal(t, t1, t2)
}

func TestPointer_Dangling(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("num", 1))
	ref, err := s.Ref("num")
	require.NoError(t, err)
	require.NoError(t, s.Set("ptr", ref))
	p, err := s.Pointer("ptr")
	require.NoError(t, err)

	require.NoError(t, s.Delete("num"))
	_, err = p.Deref()
	assert.ErrorIs(t, err, structstore.ErrInvalidReference)

	m, err := s.DeepCopy()
	require.NoError(t, err)
	v, _ := m.Get("ptr")
	l, ok := v.(*structstore.Link)
	require.True(t, ok)
	assert.True(t, l.IsNull())
}

func TestPointer_CrossArena(t *testing.T) {
	a := newStore(t)
	b := newStore(t)
	require.NoError(t, a.Set("x", 1))
	require.NoError(t, b.Set("x", 1))

	ref, err := a.Ref("x")
	require.NoError(t, err)
	err = b.Set("ptr", ref)
	assert.ErrorIs(t, err, structstore.ErrCrossArenaPointer)

	lst, err := b.AddList("l")
	require.NoError(t, err)
	assert.ErrorIs(t, lst.Append(ref), structstore.ErrCrossArenaPointer)
}

func TestPointer_DeepCopyLinks(t *testing.T) {
	s := newStore(t)
	sub, err := s.AddStore("sub")
	require.NoError(t, err)
	require.NoError(t, sub.Set("target", "hello"))
	ref, err := sub.Ref("target")
	require.NoError(t, err)
	require.NoError(t, s.Set("ptr", ref))

	m, err := s.DeepCopy()
	require.NoError(t, err)
	v, _ := m.Get("ptr")
	l, ok := v.(*structstore.Link)
	require.True(t, ok)
	assert.Equal(t, []any{"sub", "target"}, l.Path)
	assert.Equal(t, "hello", l.Value)

	// Copying only the pointer's side drops the link.
	require.NoError(t, s.Set("holder", structstore.NewMap()))
	holder, err := s.Store("holder")
	require.NoError(t, err)
	require.NoError(t, holder.Set("p", ref))
	hm, err := holder.DeepCopy()
	require.NoError(t, err)
	hv, _ := hm.Get("p")
	assert.True(t, hv.(*structstore.Link).IsNull())

	// Assigning the deep copy back rebuilds the pointer inside the new tree.
	require.NoError(t, s.Set("clone", m))
	clone, err := s.Store("clone")
	require.NoError(t, err)
	cp, err := clone.Pointer("ptr")
	require.NoError(t, err)
	target, err := cp.Deref()
	require.NoError(t, err)
	assert.Equal(t, "hello", target)

	orig, err := s.Pointer("ptr")
	require.NoError(t, err)
	ot, err := orig.Target()
	require.NoError(t, err)
	ct, err := cp.Target()
	require.NoError(t, err)
	assert.NotEqual(t, ot, ct)
}

func TestEqual_LinkPathIndexTypes(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("xs", []any{1, 2}))
	xs, err := s.List("xs")
	require.NoError(t, err)
	ref, err := xs.Ref(0)
	require.NoError(t, err)
	require.NoError(t, s.Set("ptr", ref))

	tests := []struct {
		name string
		path []any
		want bool
	}{
		{"int", []any{"xs", 0}, true},
		{"int64", []any{"xs", int64(0)}, true},
		{"other element", []any{"xs", int64(1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := structstore.NewMap("xs", []any{1, 2}, "ptr", &structstore.Link{Path: tt.path})
			eq, err := s.Equal(other)
			require.NoError(t, err)
			assert.Equal(t, tt.want, eq)

			m, err := s.DeepCopy()
			require.NoError(t, err)
			plain := structstore.NewMap("xs", []any{int64(1), int64(2)}, "ptr", &structstore.Link{Path: tt.path})
			assert.Equal(t, tt.want, m.Equal(plain))
		})
	}
}
