//go:build !linux

package lock

import (
	"sync/atomic"
	"time"
)

const maxBackoff = 2 * time.Millisecond

// sleep backs off exponentially while addr still holds val.
func sleep(addr *uint32, val uint32, d time.Duration, attempt int) {
	if atomic.LoadUint32(addr) != val {
		return
	}
	backoff := 20 * time.Microsecond << min(attempt, 7)
	time.Sleep(min(backoff, maxBackoff, d))
}

func wakeAll(*uint32) {}
