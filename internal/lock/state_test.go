package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const testTimeout = 20 * time.Millisecond

func TestState_ReadersShare(t *testing.T) {
	var s State
	a, b := NewOwner(), NewOwner()

	require.NoError(t, s.RLock(a, testTimeout))
	require.NoError(t, s.RLock(b, testTimeout))
	assert.Equal(t, 2, s.Readers())

	require.NoError(t, s.RUnlock())
	require.NoError(t, s.RUnlock())
	assert.False(t, s.Locked())
	assert.ErrorIs(t, s.RUnlock(), ErrNotHeld)
}

func TestState_WriteReentrant(t *testing.T) {
	var s State
	o := NewOwner()

	require.NoError(t, s.Lock(o, testTimeout))
	require.NoError(t, s.Lock(o, testTimeout))
	assert.True(t, s.WriteHeldBy(o))

	require.NoError(t, s.Unlock(o))
	assert.True(t, s.WriteHeldBy(o))
	require.NoError(t, s.Unlock(o))
	assert.False(t, s.Locked())
	assert.ErrorIs(t, s.Unlock(o), ErrNotHeld)
}

func TestState_ReadWhileWritingFailsImmediately(t *testing.T) {
	var s State
	o := NewOwner()
	require.NoError(t, s.Lock(o, testTimeout))
	defer s.Unlock(o)

	start := time.Now()
	err := s.RLock(o, time.Second)
	assert.ErrorIs(t, err, ErrReadWhileWriting)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestState_WriteAfterOwnReadTimesOut(t *testing.T) {
	var s State
	o := NewOwner()
	require.NoError(t, s.RLock(o, testTimeout))
	defer s.RUnlock()

	err := s.Lock(o, testTimeout)
	require.ErrorIs(t, err, ErrWriteTimeout)
	assert.Equal(t, "timeout while getting write lock", err.Error())
}

func TestState_ReadBlockedByOtherWriter(t *testing.T) {
	var s State
	writer, reader := NewOwner(), NewOwner()
	require.NoError(t, s.Lock(writer, testTimeout))

	err := s.RLock(reader, testTimeout)
	require.ErrorIs(t, err, ErrReadTimeout)

	done := make(chan error, 1)
	go func() { done <- s.RLock(reader, time.Second) }()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Unlock(writer))
	require.NoError(t, <-done)
	require.NoError(t, s.RUnlock())
}

func TestState_MutualExclusion(t *testing.T) {
	var s State
	var inside atomic.Int32
	var counter int

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			o := NewOwner()
			for j := 0; j < 200; j++ {
				if err := s.Lock(o, 5*time.Second); err != nil {
					return err
				}
				if inside.Add(1) != 1 {
					t.Error("two writers inside the critical section")
				}
				counter++
				inside.Add(-1)
				if err := s.Unlock(o); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 8*200, counter)
}

func TestState_ConcurrentReaders(t *testing.T) {
	var s State
	const n = 6
	var wg sync.WaitGroup
	start := make(chan struct{})
	hold := make(chan struct{})
	var held atomic.Int32

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			assert.NoError(t, s.RLock(NewOwner(), time.Second))
			held.Add(1)
			<-hold
			assert.NoError(t, s.RUnlock())
		}()
	}
	close(start)
	require.Eventually(t, func() bool { return held.Load() == n }, time.Second, time.Millisecond)
	assert.Equal(t, n, s.Readers())
	close(hold)
	wg.Wait()
	assert.False(t, s.Locked())
}

func TestGuard_ReleaseIdempotent(t *testing.T) {
	var s State
	o := NewOwner()
	g, err := s.AcquireWrite(o, testTimeout)
	require.NoError(t, err)
	assert.True(t, g.Write())

	g.Release()
	g.Release()
	assert.True(t, g.Released())
	assert.False(t, s.Locked())

	r, err := s.AcquireRead(o, testTimeout)
	require.NoError(t, err)
	r.Release()
	r.Release()
	assert.False(t, s.Locked())

	var nilGuard *Guard
	nilGuard.Release()
}

func TestMutex(t *testing.T) {
	var m Mutex
	var counter int
	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			for j := 0; j < 500; j++ {
				m.Lock()
				counter++
				m.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 2000, counter)

	assert.True(t, m.TryLock())
	assert.False(t, m.TryLock())
	m.Unlock()
}

func TestOwner_PID(t *testing.T) {
	a, b := NewOwner(), NewOwner()
	assert.NotEqual(t, a, b)
	assert.Equal(t, a.PID(), b.PID())
	assert.Positive(t, a.PID())
}
