package lock

import (
	"os"
	"sync/atomic"
)

// Owner identifies a lock holder. The upper 32 bits carry the process id so
// owners minted in different processes never collide.
type Owner uint64

var ownerSeq atomic.Uint32

// NewOwner returns a fresh owner identity for the current process.
func NewOwner() Owner {
	return Owner(uint64(uint32(os.Getpid()))<<32 | uint64(ownerSeq.Add(1)))
}

// PID returns the process id encoded in the owner.
func (o Owner) PID() int {
	return int(uint32(o >> 32))
}
