package arena

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// Stats is a point-in-time view of allocator usage.
type Stats struct {
	Capacity    uint64 // region size
	HeapBytes   uint64 // bytes managed by the allocator, tags included
	UsedBytes   uint64 // bytes in allocated blocks, tags included
	FreeBytes   uint64 // payload bytes available in free blocks
	FreeBlocks  uint64
	LargestFree uint64 // largest single allocation that can currently succeed
	Allocs      uint64 // cumulative
	Frees       uint64 // cumulative
}

// Stats walks the free lists and returns current usage.
func (a *Arena) Stats() Stats {
	a.hdr.mu.Lock()
	defer a.hdr.mu.Unlock()

	h := a.hdr
	s := Stats{
		Capacity:  h.capacity,
		HeapBytes: uint64(h.heapEnd - h.heapStart),
		UsedBytes: h.used,
		Allocs:    h.allocs,
		Frees:     h.frees,
	}
	for _, head := range h.free {
		for b := head; b != 0; b = a.next(b) {
			sz := uint64(a.size(b))
			s.FreeBytes += sz
			s.FreeBlocks++
			s.LargestFree = max(s.LargestFree, sz)
		}
	}
	return s
}

// Check validates the header, every boundary tag and every free list.
// It reports the first inconsistency found, wrapped in ErrCorrupt.
func (a *Arena) Check() error {
	if err := a.validateHeader(); err != nil {
		return err
	}

	a.hdr.mu.Lock()
	defer a.hdr.mu.Unlock()

	h := a.hdr
	free := roaring.New()
	var used uint64
	var prevSize uint32
	prevFree := false

	b := h.heapStart
	for {
		if uint64(b)+tagSize > uint64(h.heapEnd) {
			return fmt.Errorf("%w: block at %d overruns heap", ErrCorrupt, b)
		}
		sz, tag := a.size(b), a.tag(b)
		if tag&^allocatedBit != prevSize {
			return fmt.Errorf("%w: boundary tag mismatch at %d", ErrCorrupt, b)
		}
		if b == h.heapEnd-tagSize {
			if sz != 0 || tag&allocatedBit == 0 {
				return fmt.Errorf("%w: bad end sentinel", ErrCorrupt)
			}
			break
		}
		if sz%Alignment != 0 || sz < minPayload || uint64(b)+2*tagSize+uint64(sz) > uint64(h.heapEnd) {
			return fmt.Errorf("%w: bad block size %d at %d", ErrCorrupt, sz, b)
		}

		isFree := tag&allocatedBit == 0
		if isFree {
			if prevFree {
				return fmt.Errorf("%w: uncoalesced free blocks at %d", ErrCorrupt, b)
			}
			free.Add(b)
		} else {
			used += uint64(sz + tagSize)
		}

		prevFree = isFree
		prevSize = sz
		b += tagSize + sz
	}

	if used != h.used {
		return fmt.Errorf("%w: used bytes %d, header says %d", ErrCorrupt, used, h.used)
	}

	listed := roaring.New()
	for c, head := range h.free {
		var prev uint32
		for n := head; n != 0; n = a.next(n) {
			if !free.Contains(n) {
				return fmt.Errorf("%w: free list %d references non-free block %d", ErrCorrupt, c, n)
			}
			if !listed.CheckedAdd(n) {
				return fmt.Errorf("%w: cycle in free list %d at %d", ErrCorrupt, c, n)
			}
			if class(a.size(n)) != c {
				return fmt.Errorf("%w: block %d filed in class %d", ErrCorrupt, n, c)
			}
			if a.prev(n) != prev {
				return fmt.Errorf("%w: broken back link at %d", ErrCorrupt, n)
			}
			prev = n
		}
	}
	if listed.GetCardinality() != free.GetCardinality() {
		return fmt.Errorf("%w: %d free blocks not on any list", ErrCorrupt, free.GetCardinality()-listed.GetCardinality())
	}
	return nil
}
