package lock

import (
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	mutexUnlocked uint32 = iota
	mutexLocked
	mutexContended
)

// Mutex is an exclusive lock over a single 32-bit word of shared memory.
// It is not reentrant.
type Mutex struct {
	v atomic.Uint32
}

// Lock acquires the mutex, sleeping on the word once spinning stops paying off.
func (m *Mutex) Lock() {
	if m.v.CompareAndSwap(mutexUnlocked, mutexLocked) {
		return
	}
	for i := 0; i < spinAttempts; i++ {
		runtime.Gosched()
		if m.v.CompareAndSwap(mutexUnlocked, mutexLocked) {
			return
		}
	}
	for attempt := 0; m.v.Swap(mutexContended) != mutexUnlocked; attempt++ {
		sleep(m.word(), mutexContended, time.Millisecond, attempt)
	}
}

// TryLock acquires the mutex if it is free.
func (m *Mutex) TryLock() bool {
	return m.v.CompareAndSwap(mutexUnlocked, mutexLocked)
}

// Unlock releases the mutex.
func (m *Mutex) Unlock() {
	if m.v.Swap(mutexUnlocked) == mutexContended {
		wakeAll(m.word())
	}
}

func (m *Mutex) word() *uint32 {
	return (*uint32)(unsafe.Pointer(&m.v))
}
