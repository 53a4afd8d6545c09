// Package arena implements a fixed-capacity allocator over a byte region.
//
// Every piece of allocator state (free-list heads, counters, the allocator
// mutex, the root reference and the arena identity) lives inside the region
// itself, so a region that is mapped by several processes, or copied to a
// different address, is a complete and usable arena. Allocations are handed
// out as Refs: byte offsets from the start of the region. A Ref is resolved to
// an address only at the point of use by adding the current base.
//
// # Layout
//
//	[header 256B][block][block]...[block][end sentinel 8B]
//
// Each block starts with an 8-byte boundary tag, {size uint32, prev uint32},
// where size is the payload size and prev holds the payload size of the
// physically preceding block with bit 0 set while the block is allocated.
// Free payloads carry their free-list links. Free blocks are kept in
// power-of-two size classes and neighbouring free blocks are coalesced on
// Free.
//
// # Concurrency
//
// Alloc, Free, Stats and Check serialize on a spin mutex stored in the
// header, which makes them safe across goroutines and across processes.
package arena
