package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegionRegistryAddFindRemove(t *testing.T) {
	rr := &regionRegistry{}

	rr.add(region{base: 0x2000, length: 0x100, origin: originHeapExtend})
	rr.add(region{base: 0x1000, length: 0x100, origin: originPageMap})
	rr.add(region{base: 0x3000, length: 0x100, origin: originHeapExtend})

	require.Equal(t, 3, rr.count())

	got, ok := rr.find(0x1050)
	require.True(t, ok)
	require.Equal(t, uintptr(0x1000), got.base)
	require.Equal(t, originPageMap, got.origin)

	got, ok = rr.find(0x2080)
	require.True(t, ok)
	require.Equal(t, uintptr(0x2000), got.base)

	_, ok = rr.find(0x1100) // exactly at the boundary, not inside [0x1000,0x1100)
	require.False(t, ok)

	_, ok = rr.find(0x500)
	require.False(t, ok, "address before every region")

	_, ok = rr.find(0x5000)
	require.False(t, ok, "address after every region")

	require.True(t, rr.remove(0x2000))
	require.Equal(t, 2, rr.count())
	_, ok = rr.find(0x2080)
	require.False(t, ok)

	require.False(t, rr.remove(0x2000), "already removed")
}

func TestRegionRegistrySnapshotIsCopy(t *testing.T) {
	rr := &regionRegistry{}
	rr.add(region{base: 0x1000, length: 0x10, origin: originPageMap})

	snap := rr.snapshot()
	require.Len(t, snap, 1)

	rr.add(region{base: 0x2000, length: 0x10, origin: originPageMap})
	require.Len(t, snap, 1, "snapshot must not observe later mutations")
	require.Equal(t, 2, rr.count())
}

func TestRegionEnd(t *testing.T) {
	r := region{base: 0x1000, length: 0x200}
	require.Equal(t, uintptr(0x1200), r.end())
}
