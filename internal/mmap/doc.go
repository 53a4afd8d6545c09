// Package mmap provides off-heap and shared memory mappings.
//
// # Overview
//
// Arenas live in memory obtained directly from the kernel rather than from
// the Go heap. Private arenas use anonymous mappings; shared arenas map a file
// in /dev/shm (or any directory) with MAP_SHARED so that every process
// mapping the same file observes the same bytes.
//
// # Usage
//
//	m, err := mmap.MapAnon(1 << 20)
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes()
//
//	// Shared mapping, optionally at a fixed address
//	m, err = mmap.MapFile(f, size, 0)
//
//	// A view into a specific region
//	region, _ := m.Region(offset, size)
//
// # Platform Support
//
//   - Unix: mmap(2) with madvise(2). Fixed-address requests use
//     MAP_FIXED_NOREPLACE on Linux and an address hint elsewhere.
//   - Windows: anonymous mappings via VirtualAlloc; shared file mappings
//     are not supported.
//
// # Thread Safety
//
// Mapping and Region may be read concurrently. Close is idempotent, but
// callers must ensure no goroutine touches Bytes() after Close returns.
package mmap
