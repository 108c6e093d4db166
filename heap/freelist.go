package heap

import "unsafe"

// freeList is the single process-global doubly linked list of free blocks.
// There is deliberately one of these, not one per size class: a segregated
// or bucketed free structure is explicitly out of scope here, in exchange
// for one simple, auditable data structure and first-fit search.
//
// byEnd indexes free blocks by the address immediately past them
// (headerAddr(b)+HeaderSize+b.size), so that freeing a block can discover
// in O(1) whether the physically previous block is free and merge with it,
// without a boundary-tag footer stealing bytes from every allocated
// block's payload. Only free blocks are ever present in this index.
//
// byEnd is not scoped by region: two independently acquired OS regions can
// be address-adjacent, so a hit in byEnd only means some free block ends at
// that address, not that it shares a region with the block being freed.
// Callers must confirm the candidate lies within the same region as the
// block being coalesced before merging — see coalesce's backward-merge
// branch — the same way the forward-merge branch already bounds its
// neighbor lookup by reg.end().
type freeList struct {
	head  *BlockHeader
	count int
	byEnd map[uintptr]*BlockHeader
}

func newFreeList() *freeList {
	return &freeList{byEnd: make(map[uintptr]*BlockHeader)}
}

// insert adds b to the head of the list. O(1).
func (fl *freeList) insert(b *BlockHeader) {
	b.isFree = 1
	b.prevFree = nil
	b.nextFree = fl.head
	if fl.head != nil {
		fl.head.prevFree = b
	}
	fl.head = b
	fl.count++
	fl.byEnd[nextBlockAddr(b)] = b
}

// remove unlinks b from the list. O(1): b already carries its own
// predecessor/successor pointers.
func (fl *freeList) remove(b *BlockHeader) {
	if b.prevFree != nil {
		b.prevFree.nextFree = b.nextFree
	} else {
		fl.head = b.nextFree
	}
	if b.nextFree != nil {
		b.nextFree.prevFree = b.prevFree
	}
	b.prevFree = nil
	b.nextFree = nil
	fl.count--
	delete(fl.byEnd, nextBlockAddr(b))
}

// firstFit returns the first free block whose payload is at least need
// bytes, or nil. O(n) in the length of the free list — first-fit, not
// best-fit, per the allocation engine's contract.
//
// Every node walked is validated against its own region before its size is
// even trusted, matching deallocate's validate-before-use discipline: a
// free list corrupted by a wild write is caught here instead of silently
// handing out a bad block, deferring the failure to a much harder to
// diagnose later deallocate. A validation failure is routed to fatal and
// the walk stops — mirroring deallocate's fatal-then-return handling,
// since a corrupt node's own nextFree pointer can no longer be trusted
// either.
func (fl *freeList) firstFit(h *Heap, need uintptr) *BlockHeader {
	for b := fl.head; b != nil; b = b.nextFree {
		reg, ok := h.regions.find(headerAddr(b))
		if !ok {
			fatal(KindInvalidPointer, unsafe.Pointer(b), "free-list node's region is not registered")
			return nil
		}
		if status := validateBlock(b, reg.base, reg.end()); status != blockValid {
			fatal(KindCorruption, unsafe.Pointer(b), status.String())
			return nil
		}
		if b.size >= need {
			return b
		}
	}
	return nil
}

// findEndingAt returns the free block whose footprint ends exactly at
// addr, i.e. the physically previous block if it happens to be free. O(1).
// The candidate is not guaranteed to share a region with addr's owner; see
// the byEnd doc comment above.
func (fl *freeList) findEndingAt(addr uintptr) (*BlockHeader, bool) {
	b, ok := fl.byEnd[addr]
	return b, ok
}
