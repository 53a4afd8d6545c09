package lock

import (
	"math"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Shared (non-private) futex operations, so waiters in other processes
// mapping the same page are woken too.
const (
	futexWait = 0
	futexWake = 1
)

// sleep waits on addr while it still holds val, at most for d.
// Spurious returns are fine: callers re-check their condition.
func sleep(addr *uint32, val uint32, d time.Duration, _ int) {
	if atomic.LoadUint32(addr) != val {
		return
	}
	ts := unix.NsecToTimespec(int64(d))
	// EAGAIN, EINTR and ETIMEDOUT all mean "re-check".
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWait,
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0,
		0,
	)
}

func wakeAll(addr *uint32) {
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWake,
		uintptr(math.MaxInt32),
		0,
		0,
		0,
	)
}
