package heap

import (
	"fmt"
	"unsafe"

	"github.com/memheap/memheap/internal/sysmem"
)

// Allocate returns a pointer to at least size writable bytes, aligned to
// Alignment, that do not overlap any other live allocation. Its lifetime
// ends only at the matching Deallocate. size == 0 returns (nil, nil): no
// allocation is made and that is not an error.
func Allocate(size int) (unsafe.Pointer, error) {
	if size < 0 {
		err := fmt.Errorf("%w: negative size %d", ErrInvalidSize, size)
		setLastError(err)
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	return theHeap().allocate(uintptr(size))
}

func (h *Heap) allocate(size uintptr) (unsafe.Pointer, error) {
	e := effectiveSize(size)
	total := footprint(e)

	if total >= mmapThreshold {
		logAlloc("allocate: size=%d routed to page-map (footprint=%d)", size, total)
		return h.allocateLarge(e)
	}

	h.mu.Lock()
	if b := h.free.firstFit(h, e); b != nil {
		h.free.remove(b)
		b = h.takeForAllocation(b, e)
		h.mu.Unlock()
		return payloadPtr(b), nil
	}
	degraded := h.fragmentationRatio() > fragmentationDegradeThreshold
	h.mu.Unlock()

	if degraded {
		logAlloc("allocate: size=%d degraded-mode routing to page-map", size)
		if p, err := h.allocateLarge(e); err == nil {
			return p, nil
		}
		// OS refused the degraded-mode mmap route; fall through to the
		// ordinary heap-extension path below rather than failing outright.
	}

	b, err := h.acquireHeapExtensionBlock(total)
	if err != nil {
		return nil, err
	}
	logAlloc("allocate: size=%d served from heap extension", size)

	h.mu.Lock()
	h.stats.TotalFree += b.size
	b = h.takeForAllocation(b, e)
	h.mu.Unlock()
	return payloadPtr(b), nil
}

// takeForAllocation turns a free block b, whose size is already reflected
// in h.stats.TotalFree, into an allocated block of at least need payload
// bytes — splitting off a remainder onto the free list when the leftover
// is large enough to be worth it (splitSlack). Must be called with h.mu
// held.
func (h *Heap) takeForAllocation(b *BlockHeader, need uintptr) *BlockHeader {
	h.stats.TotalFree -= b.size
	if b.size >= need+splitSlack {
		remainderAddr := headerAddr(b) + HeaderSize + need
		remainderSize := b.size - need - HeaderSize
		b.size = need
		rem := initBlock(remainderAddr, remainderSize)
		h.free.insert(rem)
		h.stats.SplitCount++
		h.stats.TotalFree += remainderSize
	}
	b.isFree = 0
	h.stats.TotalAllocated += b.size
	h.stats.AllocationCount++
	h.stats.AllocCalls++
	if h.stats.TotalAllocated > h.stats.PeakAllocated {
		h.stats.PeakAllocated = h.stats.TotalAllocated
	}
	return b
}

// allocateLarge serves a request whose total footprint is at or above the
// page-map threshold directly from a fresh page-mapped region: the whole
// region becomes one block, never placed on the free list, never split,
// never coalesced.
func (h *Heap) allocateLarge(e uintptr) (unsafe.Pointer, error) {
	total := footprint(e)
	reg, err := sysmem.MapPages(total)
	if err != nil {
		h.recordFailure()
		wrapped := fmt.Errorf("%w: %v", ErrOutOfMemory, err)
		setLastError(wrapped)
		return nil, wrapped
	}
	base := uintptr(reg.Base)
	h.regions.add(region{base: base, length: reg.Length, origin: originPageMap})

	b := initBlock(base, reg.Length-HeaderSize)
	h.mu.Lock()
	b.isFree = 0
	h.stats.TotalAllocated += b.size
	h.stats.AllocationCount++
	h.stats.AllocCalls++
	if h.stats.TotalAllocated > h.stats.PeakAllocated {
		h.stats.PeakAllocated = h.stats.TotalAllocated
	}
	h.mu.Unlock()
	return payloadPtr(b), nil
}

// acquireHeapExtensionBlock services a free-list miss below the page-map
// threshold. It draws from the current heap-extension chunk's remaining
// pool when there's enough left, and asks sysmem for a fresh chunk of at
// least minHeapExtend bytes otherwise. Either way it returns one fresh,
// not-yet-linked free block covering whatever extent it carved out; the
// caller is responsible for splitting/accounting it (takeForAllocation).
func (h *Heap) acquireHeapExtensionBlock(totalNeeded uintptr) (*BlockHeader, error) {
	h.poolMu.Lock()

	if h.poolRemaining < totalNeeded {
		chunk := totalNeeded
		if chunk < minHeapExtend {
			chunk = minHeapExtend
		}
		reg, err := sysmem.ExtendHeap(chunk)
		if err != nil {
			// recordFailure takes mu, which must never be acquired while
			// poolMu is held.
			h.poolMu.Unlock()
			h.recordFailure()
			wrapped := fmt.Errorf("%w: %v", ErrOutOfMemory, err)
			setLastError(wrapped)
			return nil, wrapped
		}
		base := uintptr(reg.Base)
		h.regions.add(region{base: base, length: reg.Length, origin: originHeapExtend})
		h.poolBase = base
		h.poolRemaining = reg.Length
	}

	blockBase := h.poolBase
	blockTotal := h.poolRemaining
	h.poolBase += blockTotal
	h.poolRemaining = 0
	h.poolMu.Unlock()

	return initBlock(blockBase, blockTotal-HeaderSize), nil
}
