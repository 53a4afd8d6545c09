package testutil

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hupe1980/structstore"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// String returns a random lowercase string of length n.
func (r *RNG) String(n int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stringLocked(n)
}

func (r *RNG) stringLocked(n int) string {
	var b strings.Builder
	for range n {
		b.WriteByte(byte('a' + r.rand.Intn(26)))
	}
	return b.String()
}

// Scalar returns a random scalar in the form a deep copy yields:
// nil, bool, int64, float64 or string.
func (r *RNG) Scalar() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scalarLocked()
}

func (r *RNG) scalarLocked() any {
	switch r.rand.Intn(5) {
	case 0:
		return nil
	case 1:
		return r.rand.Intn(2) == 1
	case 2:
		return r.rand.Int63() - r.rand.Int63()
	case 3:
		return r.rand.NormFloat64()
	default:
		return r.stringLocked(r.rand.Intn(12))
	}
}

// Tree returns a random store tree of at most depth levels with up to
// width children per container. Leaves are scalars, float64 matrices and,
// one level down, lists.
func (r *RNG) Tree(depth, width int) *structstore.Map {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mapLocked(depth, width)
}

func (r *RNG) mapLocked(depth, width int) *structstore.Map {
	m := structstore.NewMap()
	for i := range r.rand.Intn(width + 1) {
		m.Set(fmt.Sprintf("%s_%d", r.stringLocked(1+r.rand.Intn(6)), i), r.valueLocked(depth-1, width))
	}
	return m
}

func (r *RNG) valueLocked(depth, width int) any {
	if depth <= 0 {
		return r.scalarLocked()
	}
	switch r.rand.Intn(4) {
	case 0:
		return r.mapLocked(depth, width)
	case 1:
		xs := make([]any, r.rand.Intn(width+1))
		for i := range xs {
			xs[i] = r.valueLocked(depth-1, width)
		}
		return xs
	case 2:
		rows, cols := 1+r.rand.Intn(3), 1+r.rand.Intn(3)
		vals := make([]float64, rows*cols)
		for i := range vals {
			vals[i] = r.rand.NormFloat64()
		}
		return structstore.NewFloat64Array(vals, rows, cols)
	default:
		return r.scalarLocked()
	}
}

var segmentSeq atomic.Int64

// Segment returns a segment name unique to the test and a temporary
// directory to back it. Any segment left in the directory disappears with
// the test's temp dir.
func Segment(t testing.TB) (name, dir string) {
	t.Helper()
	n := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("stst_%s_%d", n, segmentSeq.Add(1)), t.TempDir()
}
