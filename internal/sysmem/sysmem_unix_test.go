//go:build unix

package sysmem

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestExtendHeapReturnsWritableZeroedMemory(t *testing.T) {
	reg, err := ExtendHeap(4096)
	require.NoError(t, err)
	require.NotNil(t, reg.Base)
	require.GreaterOrEqual(t, reg.Length, uintptr(4096))

	b := unsafe.Slice((*byte)(reg.Base), int(reg.Length))
	for i, v := range b {
		require.Zero(t, v, "byte %d not zeroed", i)
	}
	b[0] = 0xAB
	require.Equal(t, byte(0xAB), b[0])

	require.NoError(t, UnmapPages(reg))
}

func TestMapPagesIsPageAligned(t *testing.T) {
	reg, err := MapPages(1)
	require.NoError(t, err)
	require.Zero(t, uintptr(reg.Base)%pageSize)
	require.GreaterOrEqual(t, reg.Length, pageSize)
	require.NoError(t, UnmapPages(reg))
}

func TestAdviseDoesNotPanicBeforeUnmap(t *testing.T) {
	reg, err := MapPages(4096)
	require.NoError(t, err)
	require.NotPanics(t, func() { Advise(reg) })
	require.NoError(t, UnmapPages(reg))
}
