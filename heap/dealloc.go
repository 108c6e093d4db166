package heap

import (
	"unsafe"

	"github.com/memheap/memheap/internal/sysmem"
)

// Deallocate releases a pointer previously returned by Allocate,
// AllocateZeroed, or AllocateAligned. A nil pointer is a silent no-op. Any
// other pointer not owned by this heap, or one whose header fails
// integrity validation, is a fatal error: see InstallCorruptionHandler.
func Deallocate(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	theHeap().deallocate(ptr)
}

func (h *Heap) deallocate(ptr unsafe.Pointer) {
	ptr, b, ok := h.resolveAllocation(ptr)
	if !ok {
		fatal(KindInvalidPointer, ptr, "pointer is not owned by this heap or is misaligned")
		return
	}

	reg, ok := h.regions.find(headerAddr(b))
	if !ok {
		fatal(KindInvalidPointer, ptr, "pointer's region is not registered")
		return
	}

	status := validateBlock(b, reg.base, reg.end())
	switch status {
	case blockCorruptMagic, blockInvalidSize, blockMisaligned, blockOutOfBounds:
		fatal(KindCorruption, ptr, status.String())
		return
	case blockInvalidFreeState:
		fatal(KindCorruption, ptr, "is_free flag holds neither 0 nor 1")
		return
	}
	if b.isFree == 1 {
		fatal(KindDoubleFree, ptr, "block is already free")
		return
	}
	logAlloc("deallocate: ptr=%p size=%d", ptr, b.size)

	if reg.origin == originPageMap {
		h.mu.Lock()
		h.stats.TotalAllocated -= b.size
		h.stats.AllocationCount--
		h.stats.FreeCalls++
		h.mu.Unlock()
		h.regions.remove(reg.base)
		osReg := sysmem.Region{Base: unsafe.Pointer(reg.base), Length: reg.length}
		sysmem.Advise(osReg)
		if err := sysmem.UnmapPages(osReg); err != nil {
			// Unmap failures leak the region but must not corrupt heap
			// state or crash the caller: the memory is simply never
			// returned to the OS, same as a heap-extension region.
			_ = err
		}
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.TotalAllocated -= b.size
	h.stats.AllocationCount--
	h.stats.FreeCalls++

	merged := h.coalesce(b, reg)
	h.free.insert(merged)
	h.stats.TotalFree += merged.size
}

// resolveAllocation recovers the real block header for ptr, transparently
// following the indirection tag AllocateAligned writes for over-aligned
// requests. ok is false when ptr isn't even header-alignment-compatible.
func (h *Heap) resolveAllocation(ptr unsafe.Pointer) (unsafe.Pointer, *BlockHeader, bool) {
	if real, wasAligned := followAlignedTag(ptr); wasAligned {
		ptr = real
	}
	addr := uintptr(ptr)
	if addr < HeaderSize || addr%Alignment != 0 {
		return ptr, nil, false
	}
	return ptr, blockFromPayload(ptr), true
}

// coalesce merges b with its physically adjacent free neighbors, forward
// first (direct header read) and then backward (O(1) end-address index
// lookup), applying both transitively — up to two neighbors merge into b
// in one call, per the deallocation contract. b itself is returned,
// possibly with an enlarged size and a shifted address if a backward merge
// occurred. Neighbors that are merged in are first removed from the free
// list; b itself is not re-inserted — the caller does that once.
//
// Both directions are bounded to reg, b's own region: the forward neighbor
// must end before reg.end(), and the backward candidate (found purely by
// end-address, which carries no region tag of its own) must start at or
// after reg.base. Two independently acquired regions can be placed
// address-adjacent by the OS; without this check a block from one region
// could be mistaken for the physically previous block of another, merging
// across a region boundary that must never be split or merged.
func (h *Heap) coalesce(b *BlockHeader, reg region) *BlockHeader {
	b.isFree = 1 // so blocks_are_adjacent-style checks below see a consistent flag

	if end := nextBlockAddr(b); end < reg.end() {
		next := (*BlockHeader)(unsafe.Pointer(end))
		if next.magic == blockMagic && next.isFree == 1 {
			h.free.remove(next)
			h.stats.TotalFree -= next.size
			b.size += HeaderSize + next.size
			h.stats.CoalesceForward++
		}
	}

	if prev, ok := h.free.findEndingAt(headerAddr(b)); ok && headerAddr(prev) >= reg.base {
		h.free.remove(prev)
		h.stats.TotalFree -= prev.size
		prev.size += HeaderSize + b.size
		h.stats.CoalesceBackward++
		b = prev
	}

	b.isFree = 1
	return b
}

func alignedTagAt(alignedPtr unsafe.Pointer) *alignedTag {
	return (*alignedTag)(unsafe.Add(alignedPtr, -int(alignedTagSize)))
}

// followAlignedTag checks whether ptr was returned by AllocateAligned with
// a non-trivial offset, and if so returns the real allocation pointer
// (what Allocate itself returned) along with true.
func followAlignedTag(ptr unsafe.Pointer) (unsafe.Pointer, bool) {
	addr := uintptr(ptr)
	if addr < alignedTagSize {
		return ptr, false
	}
	tag := alignedTagAt(ptr)
	if tag.magic != alignedTagMagic {
		return ptr, false
	}
	return unsafe.Add(ptr, -int(tag.offset)), true
}
