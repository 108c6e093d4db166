package heap

import (
	"sync"
	"unsafe"
)

// Heap is the process-wide allocator state. There is exactly one per
// process, reached only through the package-level functions (Allocate,
// Deallocate, Stats, Teardown, ...), each of which initializes it on first
// use; Heap itself has no exported methods.
//
// Lock order is fixed and never reversed: mu, then poolMu, then the region
// registry's own internal mutex. The only operation that can block while a
// lock is held is the OS memory-source call in acquireHeapExtensionBlock
// (made with poolMu held); allocateLarge and allocateAlignedLarge make it
// with no lock held, and none of these calls is made with mu held.
type Heap struct {
	mu   sync.Mutex
	free *freeList
	stats Stats

	poolMu        sync.Mutex
	poolBase      uintptr
	poolRemaining uintptr

	regions *regionRegistry
}

func newHeapState() *Heap {
	return &Heap{
		free:    newFreeList(),
		regions: &regionRegistry{},
	}
}

var (
	singletonOnce sync.Once
	singleton     *Heap
)

// theHeap returns the process singleton, initializing it on first use.
func theHeap() *Heap {
	singletonOnce.Do(func() {
		singleton = newHeapState()
	})
	return singleton
}

// Init is an idempotent no-op entry point kept for parity with the
// original allocator_init: every other public function in this package
// already initializes the heap lazily, so Init exists purely for callers
// that want to pay initialization cost up front rather than on first
// Allocate.
func Init() {
	theHeap()
}

// Teardown tears the process heap down for test harnesses. It requires
// that no live allocations remain and returns false without making any
// change if that precondition does not hold. It is not meant to be called
// from anywhere but tests: a real process never tears its heap down during
// normal lifetime.
func Teardown() bool {
	h := theHeap()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stats.AllocationCount != 0 {
		return false
	}
	singletonOnce = sync.Once{}
	singleton = nil
	return true
}

// Stats returns a snapshot of the process heap's counters.
func Stats() (s Stats) {
	h := theHeap()
	h.mu.Lock()
	s = h.stats
	h.mu.Unlock()
	s.RegionCount = h.regions.count()
	return s
}

// EfficiencyReport returns the k regions with the most wasted bytes (bytes
// of the region not covered by a live allocation's header and payload),
// most-wasted first. It walks
// the region registry and, for heap-extension regions, every block in
// them; page-mapped regions are always either fully allocated or about to
// be unmapped, so they contribute trivially.
func EfficiencyReport(k int) []RegionUtilization {
	h := theHeap()
	regions := h.regions.snapshot()
	w := newWorstRegions(k)
	h.mu.Lock()
	for _, r := range regions {
		if r.origin == originPageMap {
			w.consider(RegionUtilization{Base: r.base, Length: r.length, Allocated: r.length, Efficiency: 1})
			continue
		}
		allocated := uintptr(0)
		addr := r.base
		for addr < r.end() {
			b := (*BlockHeader)(unsafe.Pointer(addr))
			if b.isFree == 0 {
				allocated += HeaderSize + b.size
			}
			addr = nextBlockAddr(b)
		}
		eff := 0.0
		if r.length > 0 {
			eff = float64(allocated) / float64(r.length)
		}
		w.consider(RegionUtilization{Base: r.base, Length: r.length, Allocated: allocated, Efficiency: eff})
	}
	h.mu.Unlock()
	return w.result()
}

// recordFailure bumps the OS-source failure counter and flips the
// emergency flag once it crosses maxFailuresBeforeEmergency. This flag is
// used only for logging/stats — there is no automatic retry.
func (h *Heap) recordFailure() {
	h.mu.Lock()
	h.stats.FailureCount++
	if h.stats.FailureCount >= maxFailuresBeforeEmergency {
		h.stats.EmergencyMode = true
	}
	h.mu.Unlock()
}

// fragmentationRatio reports total_free/(total_allocated+total_free) under
// mu, for the degraded-mode routing decision in the allocation engine.
func (h *Heap) fragmentationRatio() float64 {
	denom := h.stats.TotalAllocated + h.stats.TotalFree
	if denom == 0 {
		return 0
	}
	return float64(h.stats.TotalFree) / float64(denom)
}
