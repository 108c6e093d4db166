// Package heap implements a general-purpose, thread-safe dynamic memory
// allocator in the style of a hand-rolled malloc/free pair: a global heap
// singleton carves raw address space obtained from the operating system into
// variably sized blocks, hands them out on Allocate, and reclaims them on
// Deallocate by coalescing with physically adjacent free neighbors.
//
// # Design
//
// Every block is prefixed by a fixed 32-byte header (size, free flag, magic,
// free-list links) and is 16-byte aligned, matching the alignment guarantee
// handed out to callers. Free blocks live on a single process-global doubly
// linked list — there is deliberately no segregated-by-size-class structure
// here; first-fit search accepts its O(n) cost in exchange for one simple,
// auditable data structure.
//
// Requests below 128 KiB (total footprint, header included) are served from
// a heap-extension arena that grows in chunks of at least 64 KiB to amortize
// the cost of acquiring memory from the OS. Requests at or above that
// threshold bypass the free list entirely: each gets its own page-mapped
// region, returned whole and released on its own Deallocate rather than ever
// being split or coalesced.
//
// # Thread safety
//
// All mutating operations are serialized by a single heap mutex. A separate
// pool mutex guards the heap-extension arena's bump cursor, and a third
// guards the region registry; the three are always acquired in that order
// (mu, then poolMu, then regionMu) to rule out deadlock. Call Init to force
// the singleton to exist before the first allocation; every public entry
// point does this lazily anyway.
//
// # Corruption
//
// A pointer that was never returned by Allocate, a double free, or a stomped
// header is never recoverable: by the time it is observed the heap state may
// already be inconsistent, so these paths call the installed corruption
// handler (InstallCorruptionHandler) rather than returning an error. With no
// handler installed, the default prints a diagnostic to stderr and exits the
// process.
package heap
