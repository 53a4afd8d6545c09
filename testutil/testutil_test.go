package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/structstore"
)

func TestTree_Deterministic(t *testing.T) {
	a := NewRNG(4711).Tree(3, 4)
	b := NewRNG(4711).Tree(3, 4)
	assert.True(t, a.Equal(b))
}

func TestTree_Shape(t *testing.T) {
	rng := NewRNG(7)
	for range 20 {
		tree := rng.Tree(3, 4)
		assert.LessOrEqual(t, tree.Len(), 4)
		for k, v := range tree.All() {
			assert.NotEmpty(t, k)
			if a, ok := v.(*structstore.Array); ok {
				assert.Len(t, a.Float64s(), a.Len())
			}
		}
	}
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	s1 := rng.String(16)
	rng.Reset()
	s2 := rng.String(16)
	assert.Equal(t, s1, s2)
	assert.Equal(t, int64(4711), rng.Seed())
}

func TestScalar_Kinds(t *testing.T) {
	rng := NewRNG(1)
	for range 100 {
		switch rng.Scalar().(type) {
		case nil, bool, int64, float64, string:
		default:
			t.Fatal("unexpected scalar type")
		}
	}
}

func TestSegment_Unique(t *testing.T) {
	n1, d1 := Segment(t)
	n2, _ := Segment(t)
	require.NotEqual(t, n1, n2)
	assert.False(t, strings.Contains(n1, "/"))
	assert.DirExists(t, d1)
}
