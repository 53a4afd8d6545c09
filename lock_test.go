package structstore_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/structstore"
)

func TestLock_ReadUnderOwnWrite(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("a", 1))

	g, err := s.WriteLock()
	require.NoError(t, err)
	defer g.Release()

	start := time.Now()
	_, err = s.ReadLock()
	require.ErrorIs(t, err, structstore.ErrLockProtocolViolation)
	assert.EqualError(t, err, "trying to acquire read lock while current owner has write lock")
	assert.Less(t, time.Since(start), 500*time.Millisecond, "conflict must fail without waiting")

	_, err = s.Iter()
	assert.ErrorIs(t, err, structstore.ErrLockProtocolViolation)

	// Plain reads by the write owner go through.
	v, err := s.Int("a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestLock_WriteUnderOwnRead(t *testing.T) {
	s := newStore(t, structstore.WithLockTimeout(20*time.Millisecond))

	g, err := s.ReadLock()
	require.NoError(t, err)
	defer g.Release()

	err = s.Set("a", 1)
	require.ErrorIs(t, err, structstore.ErrLockTimeout)
	assert.EqualError(t, err, "timeout while getting write lock")
	_, err = s.WriteLock()
	assert.ErrorIs(t, err, structstore.ErrLockTimeout)
}

func TestLock_WriteReentrant(t *testing.T) {
	s := newStore(t)
	g1, err := s.WriteLock()
	require.NoError(t, err)
	g2, err := s.WriteLock()
	require.NoError(t, err)
	assert.True(t, g2.Write())

	require.NoError(t, s.Set("a", 1))
	g2.Release()
	require.NoError(t, s.Set("b", 2))
	g1.Release()

	// Fully released: a reader with another owner gets in.
	r, err := s.Fork().ReadLock()
	require.NoError(t, err)
	r.Release()
}

func TestLock_DestroyHeldContainer(t *testing.T) {
	s := newStore(t)
	sub, err := s.AddStore("sub")
	require.NoError(t, err)

	g, err := sub.WriteLock()
	require.NoError(t, err)
	err = s.Delete("sub")
	assert.ErrorIs(t, err, structstore.ErrLockProtocolViolation)
	g.Release()

	require.NoError(t, s.Delete("sub"))
}

func TestLock_OtherOwnerTimesOut(t *testing.T) {
	s := newStore(t, structstore.WithLockTimeout(20*time.Millisecond))
	other := s.Fork()

	g, err := s.WriteLock()
	require.NoError(t, err)

	_, err = other.Get("missing")
	require.ErrorIs(t, err, structstore.ErrLockTimeout)
	assert.EqualError(t, err, "timeout while getting read lock")
	g.Release()

	_, err = other.Get("missing")
	assert.ErrorIs(t, err, structstore.ErrUnknownField)
}

func TestLock_MutualExclusion(t *testing.T) {
	s := newStore(t, structstore.WithLockTimeout(5*time.Second))
	require.NoError(t, s.Set("n", 0))

	const workers, rounds = 8, 100
	var inside atomic.Int32
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		h := s.Fork()
		g.Go(func() error {
			for i := 0; i < rounds; i++ {
				lk, err := h.WriteLock()
				if err != nil {
					return err
				}
				if inside.Add(1) != 1 {
					t.Error("two writers inside the critical section")
				}
				n, err := h.Int("n")
				if err == nil {
					err = h.Set("n", n+1)
				}
				inside.Add(-1)
				lk.Release()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	n, err := s.Int("n")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*rounds), n)
}

func TestLock_ConcurrentReaders(t *testing.T) {
	s := newStore(t)

	const readers = 4
	var (
		wg      sync.WaitGroup
		holding sync.WaitGroup
		release = make(chan struct{})
	)
	holding.Add(readers)
	errs := make(chan error, readers)
	for i := 0; i < readers; i++ {
		h := s.Fork()
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := h.ReadLock()
			holding.Done()
			if err != nil {
				errs <- err
				return
			}
			<-release
			g.Release()
		}()
	}
	holding.Wait()
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestLock_Borrow(t *testing.T) {
	s := newStore(t, structstore.WithLockTimeout(20*time.Millisecond))
	sub, err := s.AddStore("sub")
	require.NoError(t, err)

	v, g, err := s.Borrow("sub")
	require.NoError(t, err)
	assert.IsType(t, &structstore.Store{}, v)

	assert.ErrorIs(t, s.Fork().Set("x", 1), structstore.ErrLockTimeout)
	// The child has its own lock.
	require.NoError(t, sub.Fork().Set("y", 1))

	g.Release()
	require.NoError(t, s.Fork().Set("x", 1))
}
