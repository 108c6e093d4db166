//go:build unix

package sysmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pageSize caches the platform page size, queried once.
var pageSize = uintptr(unix.Getpagesize())

// alignToPage rounds n up to the next multiple of the real platform page
// size, not the conservative PageSize floor the engine's threshold math
// assumes.
func alignToPage(n uintptr) uintptr {
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// ExtendHeap acquires n bytes of fresh, zero-filled, writable memory. It
// never shrinks and is never released before process exit.
func ExtendHeap(n uintptr) (Region, error) {
	return mapAnonymous(n)
}

// MapPages acquires a page-aligned anonymous mapping of at least n bytes.
func MapPages(n uintptr) (Region, error) {
	return mapAnonymous(alignToPage(n))
}

func mapAnonymous(n uintptr) (Region, error) {
	b, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return Region{}, fmt.Errorf("sysmem: mmap %d bytes: %w", n, err)
	}
	return Region{Base: unsafe.Pointer(&b[0]), Length: uintptr(len(b))}, nil
}

// UnmapPages releases a region previously returned by MapPages (or, for
// the heap-extension arena, never — that memory is only unmapped at
// process exit by the OS itself).
func UnmapPages(r Region) error {
	b := unsafe.Slice((*byte)(r.Base), int(r.Length))
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("sysmem: munmap %d bytes at %p: %w", r.Length, r.Base, err)
	}
	return nil
}

// Advise hints that a just-unmapped-in-spirit region's pages may be
// reclaimed immediately rather than waiting on the kernel's own page
// reclaim pass. Used ahead of UnmapPages for very large regions where
// releasing physical pages promptly matters.
func Advise(r Region) {
	b := unsafe.Slice((*byte)(r.Base), int(r.Length))
	_ = unix.Madvise(b, unix.MADV_DONTNEED)
}
