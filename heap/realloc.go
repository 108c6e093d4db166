package heap

import (
	"fmt"
	"unsafe"

	"github.com/memheap/memheap/internal/sysmem"
)

// alignedTag is written immediately before the pointer AllocateAligned
// returns whenever that pointer doesn't coincide with the underlying
// allocation's own payload pointer (which is always 16-byte aligned, so
// this only happens for alignments greater than 16). It lives inside the
// slack the oversized underlying allocation reserved, recording how far
// back to walk to recover the real block.
type alignedTag struct {
	magic  uint32
	_      uint32
	offset uintptr
}

const alignedTagSize = unsafe.Sizeof(alignedTag{})

// UsableSize returns the actual payload capacity of the block backing
// ptr — always >= the size it was allocated with, and a multiple of
// Alignment. ptr must have been returned by Allocate, AllocateZeroed, or
// AllocateAligned; nil returns 0.
func UsableSize(ptr unsafe.Pointer) uintptr {
	if ptr == nil {
		return 0
	}
	h := theHeap()
	real, _ := followAlignedTag(ptr)
	b := blockFromPayload(real)
	h.mu.Lock()
	defer h.mu.Unlock()
	return b.size
}

// AllocateZeroed allocates space for n elements of size bytes each,
// overflow-checked, and zero-fills the result. Either n or size being 0
// behaves like Allocate(0): (nil, nil).
func AllocateZeroed(n, size int) (unsafe.Pointer, error) {
	if n < 0 || size < 0 {
		err := fmt.Errorf("%w: negative count or size", ErrInvalidSize)
		setLastError(err)
		return nil, err
	}
	if n == 0 || size == 0 {
		return nil, nil
	}
	un, us := uintptr(n), uintptr(size)
	if un > ^uintptr(0)/us {
		err := fmt.Errorf("%w: %d * %d overflows", ErrInvalidSize, n, size)
		setLastError(err)
		return nil, err
	}
	total := un * us
	ptr, err := Allocate(int(total))
	if err != nil || ptr == nil {
		return ptr, err
	}
	clear(unsafe.Slice((*byte)(ptr), total))
	return ptr, nil
}

// AllocateAligned returns a pointer to at least size bytes aligned to
// align, which must be a power of two; size must be a multiple of align.
// Alignments at or below the platform page size are served by
// over-allocating through the normal engine and recording an offset back
// to the real block; alignments above it go straight to the page-map
// path, which maps align extra bytes and places the block so that its
// payload starts at an aligned address inside the mapping.
func AllocateAligned(align, size int) (unsafe.Pointer, error) {
	if align <= 0 || size < 0 || !isPowerOfTwo(uintptr(align)) {
		err := fmt.Errorf("%w: alignment %d is not a power of two", ErrInvalidSize, align)
		setLastError(err)
		return nil, err
	}
	a := uintptr(align)
	s := uintptr(size)
	if s%a != 0 {
		err := fmt.Errorf("%w: size %d is not a multiple of alignment %d", ErrInvalidSize, size, align)
		setLastError(err)
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}

	if a > sysmem.PageSize {
		return theHeap().allocateAlignedLarge(a, s)
	}

	rawSize := s + a - 1 + HeaderSize
	rawPtr, err := Allocate(int(rawSize))
	if err != nil {
		return nil, err
	}
	alignedAddr := alignUpTo(uintptr(rawPtr), a)
	if alignedAddr == uintptr(rawPtr) {
		return rawPtr, nil
	}
	tag := (*alignedTag)(unsafe.Add(unsafe.Pointer(alignedAddr), -int(alignedTagSize)))
	tag.magic = alignedTagMagic
	tag.offset = alignedAddr - uintptr(rawPtr)
	return unsafe.Pointer(alignedAddr), nil
}

// allocateAlignedLarge serves an alignment request coarser than the page
// size directly through the page-map primitive, over-mapping enough to
// guarantee an aligned address exists within the region.
func (h *Heap) allocateAlignedLarge(a, s uintptr) (unsafe.Pointer, error) {
	mapSize := s + a
	reg, err := sysmem.MapPages(mapSize)
	if err != nil {
		h.recordFailure()
		wrapped := fmt.Errorf("%w: %v", ErrOutOfMemory, err)
		setLastError(wrapped)
		return nil, wrapped
	}
	base := uintptr(reg.Base)
	h.regions.add(region{base: base, length: reg.Length, origin: originPageMap})

	alignedAddr := alignUpTo(base+HeaderSize, a)
	b := initBlock(alignedAddr-HeaderSize, reg.Length-(alignedAddr-HeaderSize-base)-HeaderSize)
	h.mu.Lock()
	b.isFree = 0
	h.stats.TotalAllocated += b.size
	h.stats.AllocationCount++
	h.stats.AllocCalls++
	if h.stats.TotalAllocated > h.stats.PeakAllocated {
		h.stats.PeakAllocated = h.stats.TotalAllocated
	}
	h.mu.Unlock()

	// Unlike the small-alignment path, no indirection tag is needed here:
	// the block header always sits exactly at alignedAddr-HeaderSize by
	// construction, so blockFromPayload(alignedAddr) already recovers it.
	return unsafe.Pointer(alignedAddr), nil
}

// Reallocate resizes the allocation at ptr to size bytes, preserving
// min(old, new) bytes of content. A nil ptr behaves like Allocate; size
// == 0 behaves like Deallocate and returns nil. On failure the original
// pointer remains valid and owned by the caller.
func Reallocate(ptr unsafe.Pointer, size int) (unsafe.Pointer, error) {
	if ptr == nil {
		return Allocate(size)
	}
	if size == 0 {
		Deallocate(ptr)
		return nil, nil
	}
	if size < 0 {
		err := fmt.Errorf("%w: negative size %d", ErrInvalidSize, size)
		setLastError(err)
		return nil, err
	}
	return theHeap().reallocate(ptr, uintptr(size))
}

func (h *Heap) reallocate(ptr unsafe.Pointer, size uintptr) (unsafe.Pointer, error) {
	e := effectiveSize(size)
	_, b, ok := h.resolveAllocation(ptr)
	if !ok {
		fatal(KindInvalidPointer, ptr, "pointer is not owned by this heap or is misaligned")
		return nil, nil
	}
	reg, ok := h.regions.find(headerAddr(b))
	if !ok {
		fatal(KindInvalidPointer, ptr, "pointer's region is not registered")
		return nil, nil
	}
	if status := validateBlock(b, reg.base, reg.end()); status != blockValid {
		fatal(KindCorruption, ptr, status.String())
		return nil, nil
	}

	if e <= b.size {
		return payloadPtr(b), nil
	}

	if reg.origin != originPageMap {
		h.mu.Lock()
		if end := nextBlockAddr(b); end < reg.end() {
			next := (*BlockHeader)(unsafe.Pointer(end))
			if next.magic == blockMagic && next.isFree == 1 && b.size+HeaderSize+next.size >= e {
				h.free.remove(next)
				h.stats.TotalFree -= next.size
				merged := b.size + HeaderSize + next.size
				oldSize := b.size
				if merged >= e+splitSlack {
					remainderAddr := headerAddr(b) + HeaderSize + e
					remainderSize := merged - e - HeaderSize
					b.size = e
					rem := initBlock(remainderAddr, remainderSize)
					h.free.insert(rem)
					h.stats.SplitCount++
					h.stats.TotalFree += remainderSize
				} else {
					b.size = merged
				}
				h.stats.TotalAllocated += b.size - oldSize
				h.mu.Unlock()
				return payloadPtr(b), nil
			}
		}
		h.mu.Unlock()
	}

	newPtr, err := Allocate(int(size))
	if err != nil {
		return nil, err
	}
	copySize := b.size
	if size < copySize {
		copySize = size
	}
	copy(unsafe.Slice((*byte)(newPtr), copySize), unsafe.Slice((*byte)(payloadPtr(b)), copySize))
	Deallocate(payloadPtr(b))
	return newPtr, nil
}
