package heap

import (
	"container/heap"
	"fmt"
)

// Stats is a point-in-time snapshot of heap counters, returned by the
// package-level Stats function. Every counter is updated under the heap mutex, so a
// snapshot is internally consistent even though it may be stale by the
// time the caller reads it.
type Stats struct {
	TotalAllocated  uint64
	TotalFree       uint64
	AllocationCount uint64
	PeakAllocated   uint64
	AllocCalls      uint64
	FreeCalls       uint64
	SplitCount      uint64
	CoalesceForward uint64
	CoalesceBackward uint64
	RegionCount     int
	FailureCount    uint64
	EmergencyMode   bool
}

// FragmentationPct returns total_free / (total_allocated + total_free) as a
// percentage, or 0 when the heap holds no memory at all.
func (s Stats) FragmentationPct() float64 {
	denom := s.TotalAllocated + s.TotalFree
	if denom == 0 {
		return 0
	}
	return 100 * float64(s.TotalFree) / float64(denom)
}

func (s Stats) String() string {
	return fmt.Sprintf(
		"allocated=%d free=%d count=%d peak=%d allocs=%d frees=%d splits=%d coalesce(fwd=%d,back=%d) regions=%d fragmentation=%.2f%% failures=%d emergency=%v",
		s.TotalAllocated, s.TotalFree, s.AllocationCount, s.PeakAllocated,
		s.AllocCalls, s.FreeCalls, s.SplitCount, s.CoalesceForward, s.CoalesceBackward,
		s.RegionCount, s.FragmentationPct(), s.FailureCount, s.EmergencyMode,
	)
}

// RegionUtilization describes how much of one region's footprint is
// currently allocated, for the efficiency report below.
type RegionUtilization struct {
	Base       uintptr
	Length     uintptr
	Allocated  uintptr
	Efficiency float64 // Allocated / Length, 0..1
}

// regionUtilHeap is a min-heap on wasted bytes (Length-Allocated), letting
// EfficiencyReport keep only the k worst regions while scanning the full
// registry once. Mirrors the worst-bin max-heap pattern the core free list
// deliberately does not use (this is read-only reporting, not allocation).
type regionUtilHeap []RegionUtilization

func (h regionUtilHeap) Len() int { return len(h) }
func (h regionUtilHeap) Less(i, j int) bool {
	wastedI := h[i].Length - h[i].Allocated
	wastedJ := h[j].Length - h[j].Allocated
	return wastedI < wastedJ // min-heap on wasted bytes; pop smallest to keep the k largest
}
func (h regionUtilHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *regionUtilHeap) Push(x any)        { *h = append(*h, x.(RegionUtilization)) }
func (h *regionUtilHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// worstRegions keeps, via a bounded min-heap, the k regions with the most
// wasted (non-allocated) bytes out of all candidates pushed to it.
type worstRegions struct {
	k int
	h regionUtilHeap
}

func newWorstRegions(k int) *worstRegions {
	w := &worstRegions{k: k}
	heap.Init(&w.h)
	return w
}

func (w *worstRegions) consider(u RegionUtilization) {
	if w.k <= 0 {
		return
	}
	if w.h.Len() < w.k {
		heap.Push(&w.h, u)
		return
	}
	if w.h.Len() > 0 {
		wasted := u.Length - u.Allocated
		smallestWasted := w.h[0].Length - w.h[0].Allocated
		if wasted > smallestWasted {
			heap.Pop(&w.h)
			heap.Push(&w.h, u)
		}
	}
}

// result returns the considered regions, worst (most wasted) first.
func (w *worstRegions) result() []RegionUtilization {
	h := make(regionUtilHeap, len(w.h))
	copy(h, w.h)
	items := make([]RegionUtilization, len(h))
	// Pop yields the least wasted first, so fill from the back.
	for i := len(items) - 1; i >= 0; i-- {
		items[i] = heap.Pop(&h).(RegionUtilization)
	}
	return items
}
