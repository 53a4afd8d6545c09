// Package shm manages named shared-memory segments.
//
// A segment is a file, in /dev/shm by default, mapped MAP_SHARED by every
// process that opens it. The first 128 bytes hold a segment header with
// readiness, usage and invalidation state; the rest is handed to the caller
// as a raw region (the arena).
//
// Creation is exclusive (O_CREAT|O_EXCL) so exactly one opener formats a new
// segment. The creator publishes the segment by setting the ready flag and
// widening the file mode once the region is initialized; concurrent openers
// wait for that, bounded by a timeout, so they never observe a half-built
// arena.
package shm
