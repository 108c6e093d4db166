//go:build windows

package sysmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

const pageSize = uintptr(4096)

func alignToPage(n uintptr) uintptr {
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// ExtendHeap acquires n bytes of fresh, zero-filled, writable memory via
// VirtualAlloc. Like the unix implementation, this is never released
// before process exit.
func ExtendHeap(n uintptr) (Region, error) {
	return virtualAlloc(n)
}

// MapPages acquires a page-aligned anonymous mapping of at least n bytes.
func MapPages(n uintptr) (Region, error) {
	return virtualAlloc(alignToPage(n))
}

func virtualAlloc(n uintptr) (Region, error) {
	addr, err := windows.VirtualAlloc(0, n, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return Region{}, fmt.Errorf("sysmem: VirtualAlloc %d bytes: %w", n, err)
	}
	return Region{Base: unsafe.Pointer(addr), Length: n}, nil
}

// UnmapPages releases a region previously returned by MapPages.
func UnmapPages(r Region) error {
	if err := windows.VirtualFree(uintptr(r.Base), 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("sysmem: VirtualFree %p: %w", r.Base, err)
	}
	return nil
}

// Advise is a no-op on Windows: VirtualFree with MEM_DECOMMIT would serve a
// similar purpose but isn't needed by anything in this package today.
func Advise(Region) {}
