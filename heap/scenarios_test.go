package heap

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// freshHeap gives each test its own singleton by resetting the package-level
// state directly — Teardown() refuses to run with live allocations, which
// every test here starts from zero for anyway.
func freshHeap(t *testing.T) *Heap {
	t.Helper()
	singletonOnce = sync.Once{}
	singleton = nil
	return theHeap()
}

func TestScenarioFreeBlockReused(t *testing.T) {
	freshHeap(t)
	p1, err := Allocate(64)
	require.NoError(t, err)
	p2, err := Allocate(64)
	require.NoError(t, err)
	p3, err := Allocate(64)
	require.NoError(t, err)
	Deallocate(p2)
	p4, err := Allocate(64)
	require.NoError(t, err)
	require.Equal(t, p2, p4)
	Deallocate(p1)
	Deallocate(p3)
	Deallocate(p4)
}

func TestScenarioSplitReuse(t *testing.T) {
	freshHeap(t)
	p1, err := Allocate(1024)
	require.NoError(t, err)
	base := uintptr(p1)
	Deallocate(p1)

	var q [8]unsafe.Pointer
	for i := range q {
		p, err := Allocate(64)
		require.NoError(t, err)
		q[i] = p
	}
	require.Equal(t, base, uintptr(q[0]))
	for _, p := range q {
		Deallocate(p)
	}
}

func TestScenarioTripleCoalesce(t *testing.T) {
	freshHeap(t)
	p1, err := Allocate(64)
	require.NoError(t, err)
	p2, err := Allocate(64)
	require.NoError(t, err)
	p3, err := Allocate(64)
	require.NoError(t, err)

	Deallocate(p1)
	Deallocate(p3)
	Deallocate(p2)

	// The three blocks merge into one span of 64+32+64+32+64 = 256 bytes,
	// and because p3 was also merged with the free remainder of the chunk
	// that follows it, that span extends to the end of the chunk. Either
	// way the merged block starts at p1's header, so an allocation of the
	// whole 256-byte span is served from the same base address as p1.
	p4, err := Allocate(256)
	require.NoError(t, err)
	require.Equal(t, p1, p4)
	Deallocate(p4)
}

func TestScenarioPageMapLifecycle(t *testing.T) {
	freshHeap(t)
	before := Stats().RegionCount
	p, err := Allocate(256 * 1024)
	require.NoError(t, err)
	mid := Stats()
	require.Equal(t, before+1, mid.RegionCount)
	Deallocate(p)
	after := Stats()
	require.Equal(t, before, after.RegionCount)
}

func TestScenarioOverflowThenCorruption(t *testing.T) {
	freshHeap(t)
	fired := make(chan string, 1)
	InstallCorruptionHandler(func(kind ErrorKind, addr unsafe.Pointer, msg string) {
		fired <- kind.String()
	})
	defer InstallCorruptionHandler(nil)

	p, err := Allocate(100)
	require.NoError(t, err)
	next, err := Allocate(64)
	require.NoError(t, err)

	usable := int(UsableSize(p))
	overflow := unsafe.Slice((*byte)(unsafe.Add(p, usable)), 32)
	for i := range overflow {
		overflow[i] = 0xCC
	}

	Deallocate(next)
	select {
	case kind := <-fired:
		require.Equal(t, KindCorruption.String(), kind)
	default:
		t.Fatal("corruption handler did not fire")
	}
}

func TestScenarioConcurrentChurn(t *testing.T) {
	freshHeap(t)
	const workers = 8
	const iterations = 1000

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			r := uint32(seed*2654435761 + 1)
			for i := 0; i < iterations; i++ {
				r = r*1664525 + 1013904223
				size := int(r%1024) + 1
				p, err := Allocate(size)
				if err != nil {
					continue
				}
				Deallocate(p)
			}
		}(w)
	}
	wg.Wait()

	s := Stats()
	require.EqualValues(t, 0, s.TotalAllocated)
	require.EqualValues(t, 0, s.AllocationCount)
}

func TestDoubleFreeIsFatal(t *testing.T) {
	freshHeap(t)
	fired := make(chan string, 1)
	InstallCorruptionHandler(func(kind ErrorKind, addr unsafe.Pointer, msg string) {
		fired <- kind.String()
	})
	defer InstallCorruptionHandler(nil)

	p, err := Allocate(32)
	require.NoError(t, err)
	Deallocate(p)
	Deallocate(p)

	select {
	case kind := <-fired:
		require.Equal(t, KindDoubleFree.String(), kind)
	default:
		t.Fatal("corruption handler did not fire on double free")
	}
}

func TestAllocateZeroReturnsNil(t *testing.T) {
	freshHeap(t)
	p, err := Allocate(0)
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestDeallocateNilIsNoop(t *testing.T) {
	freshHeap(t)
	require.NotPanics(t, func() { Deallocate(nil) })
}

func TestAllocateZeroedOverflowIsInvalidSize(t *testing.T) {
	freshHeap(t)
	p, err := AllocateZeroed(int(^uint(0)>>1), int(^uint(0)>>1))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidSize)
	require.Nil(t, p)
}

func TestAllocateAlignedRejectsNonPowerOfTwo(t *testing.T) {
	freshHeap(t)
	p, err := AllocateAligned(48, 48)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidSize)
	require.Nil(t, p)
}

func TestPageMapThresholdBoundary(t *testing.T) {
	h := freshHeap(t)

	// Both paths register a region, so the path taken is read from the
	// origin of the region that holds the returned pointer.

	// size chosen so footprint (HeaderSize+size) == mmapThreshold-16 exactly.
	underSize := int(mmapThreshold) - 16 - int(HeaderSize)
	small, err := Allocate(underSize)
	require.NoError(t, err)
	smallReg, ok := h.regions.find(uintptr(small))
	require.True(t, ok)
	require.Equal(t, originHeapExtend, smallReg.origin, "footprint of mmapThreshold-16 must use heap extension")
	Deallocate(small)

	// size chosen so footprint == mmapThreshold exactly.
	atSize := int(mmapThreshold) - int(HeaderSize)
	large, err := Allocate(atSize)
	require.NoError(t, err)
	largeReg, ok := h.regions.find(uintptr(large))
	require.True(t, ok)
	require.Equal(t, originPageMap, largeReg.origin, "footprint of exactly mmapThreshold must page-map")
	Deallocate(large)
}
