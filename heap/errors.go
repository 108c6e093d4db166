package heap

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"
)

// ErrorKind classifies every failure this package can produce. Each one
// maps to exactly one disposition: the first two are recoverable (the call
// that hit them returns an error and the heap is left consistent); the last
// three are fatal (arbitrary memory may already be compromised by the time
// they're observed, so they go to the corruption handler instead of being
// returned).
type ErrorKind int

const (
	// KindOutOfMemory means the OS memory source refused a request.
	KindOutOfMemory ErrorKind = iota
	// KindInvalidSize means a negative or otherwise unsatisfiable size was
	// requested, including an AllocateZeroed multiplication that overflows
	// — AllocateAligned with a non-power-of-two alignment or a size that
	// isn't a multiple of it also lands here. A size of 0 is not an error.
	KindInvalidSize
	// KindInvalidPointer means Deallocate or Reallocate was handed a
	// pointer outside every registered region, or a misaligned one.
	KindInvalidPointer
	// KindCorruption means a header's magic, size, or free-state flag
	// failed validation.
	KindCorruption
	// KindDoubleFree means Deallocate observed isFree == 1 on the block it
	// was asked to free.
	KindDoubleFree
)

func (k ErrorKind) String() string {
	switch k {
	case KindOutOfMemory:
		return "out of memory"
	case KindInvalidSize:
		return "invalid size"
	case KindInvalidPointer:
		return "invalid pointer"
	case KindCorruption:
		return "corruption"
	case KindDoubleFree:
		return "double free"
	default:
		return "unknown"
	}
}

// Recoverable error sentinels, usable with errors.Is.
var (
	ErrOutOfMemory  = errors.New("heap: out of memory")
	ErrInvalidSize  = errors.New("heap: invalid size")
	ErrNotInstalled = errors.New("heap: not initialized")
)

// CorruptionHandler is called for every fatal error: invalid pointer,
// corruption, and double free. addr is the offending pointer when known
// (nil otherwise). A handler that returns is expected to have already
// decided how the process should end; the default handler logs and exits.
type CorruptionHandler func(kind ErrorKind, addr unsafe.Pointer, msg string)

var corruptionHandler atomic.Pointer[CorruptionHandler]

// InstallCorruptionHandler replaces the handler invoked on fatal errors.
// Passing nil restores the default stderr-and-exit handler.
func InstallCorruptionHandler(h CorruptionHandler) {
	if h == nil {
		corruptionHandler.Store(nil)
		return
	}
	corruptionHandler.Store(&h)
}

func defaultCorruptionHandler(kind ErrorKind, addr unsafe.Pointer, msg string) {
	fmt.Fprintf(os.Stderr, "heap: fatal %s at %p: %s\n", kind, addr, msg)
	os.Exit(2)
}

// fatal dispatches a fatal error to the installed handler, or the default
// if none was installed. It never returns when the default handler runs
// (os.Exit), but a caller-installed handler is free to return control to
// its caller — in which case behavior past this point is undefined, as
// documented on CorruptionHandler.
func fatal(kind ErrorKind, addr unsafe.Pointer, msg string) {
	if h := corruptionHandler.Load(); h != nil {
		(*h)(kind, addr, msg)
		return
	}
	defaultCorruptionHandler(kind, addr, msg)
}

// lastRecoverableError approximates the thread-local "last error" cell: Go
// has no portable per-goroutine storage, so this is a single process-wide
// atomic cell. It is weaker than a true thread-local
// under concurrent recoverable failures from different goroutines, but
// matches the single-caller access pattern the rest of this package's API
// is built around (every call also returns its error directly).
var lastRecoverableError atomic.Value // stores error

func setLastError(err error) {
	lastRecoverableError.Store(err)
}

// LastError returns the most recently recorded recoverable error
// (KindOutOfMemory or KindInvalidSize), or nil if none has occurred yet in
// this process.
func LastError() error {
	v := lastRecoverableError.Load()
	if v == nil {
		return nil
	}
	return v.(error)
}
