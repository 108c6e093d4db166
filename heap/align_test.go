package heap

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestAlignUp(t *testing.T) {
	cases := []struct{ in, want uintptr }{
		{0, 0},
		{1, 16},
		{15, 16},
		{16, 16},
		{17, 32},
		{128, 128},
		{129, 144},
	}
	for _, c := range cases {
		require.Equal(t, c.want, alignUp(c.in), "alignUp(%d)", c.in)
	}
}

func TestEffectiveSizeContract(t *testing.T) {
	for s := uintptr(1); s < 300; s++ {
		e := effectiveSize(s)
		require.Zero(t, e%Alignment, "size=%d effective=%d not 16-aligned", s, e)
		require.GreaterOrEqual(t, e, s, "size=%d effective=%d shrank requested size", s, e)
		require.Less(t, e-s, uintptr(Alignment), "size=%d effective=%d slack too large", s, e)
		require.GreaterOrEqual(t, e, uintptr(MinPayload))
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	require.True(t, isPowerOfTwo(1))
	require.True(t, isPowerOfTwo(2))
	require.True(t, isPowerOfTwo(1024))
	require.False(t, isPowerOfTwo(0))
	require.False(t, isPowerOfTwo(3))
	require.False(t, isPowerOfTwo(100))
}

func TestHeaderSizeMatchesStruct(t *testing.T) {
	// init() in block.go already panics at package load if this drifts;
	// this test exists so a drift shows up as a normal test failure too.
	require.EqualValues(t, HeaderSize, 32)
	require.EqualValues(t, HeaderSize, unsafe.Sizeof(BlockHeader{}))
}
