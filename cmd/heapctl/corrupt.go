package main

import (
	"unsafe"

	"github.com/memheap/memheap/heap"
	"github.com/spf13/cobra"
)

var corruptMode string

func init() {
	cmd := newCorruptCmd()
	cmd.Flags().StringVar(&corruptMode, "mode", "double-free", "One of: double-free, overwrite-magic")
	rootCmd.AddCommand(cmd)
}

func newCorruptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "corrupt",
		Short: "Demonstrate the corruption handler without killing the process",
		Long: `The corrupt command installs a handler that records the fatal
error instead of exiting, deliberately triggers one of the heap's fatal
conditions, and prints what was caught.

Example:
  heapctl corrupt --mode double-free
  heapctl corrupt --mode overwrite-magic`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorrupt()
		},
	}
}

func runCorrupt() error {
	caught := make(chan string, 1)
	heap.InstallCorruptionHandler(func(kind heap.ErrorKind, addr unsafe.Pointer, msg string) {
		caught <- kind.String() + ": " + msg
	})
	defer heap.InstallCorruptionHandler(nil)

	ptr, err := heap.Allocate(64)
	if err != nil {
		return err
	}

	switch corruptMode {
	case "double-free":
		heap.Deallocate(ptr)
		heap.Deallocate(ptr)
	case "overwrite-magic":
		// ptr and next land in the same freshly split heap-extension chunk,
		// so next's header sits immediately past ptr's declared payload.
		// Overflowing ptr by a header's worth of bytes smashes next's
		// magic along with the rest of its header, which trips validation
		// the moment next is freed.
		next, nerr := heap.Allocate(64)
		if nerr != nil {
			return nerr
		}
		usable := int(heap.UsableSize(ptr))
		overflow := unsafe.Slice((*byte)(unsafe.Add(ptr, usable)), 32)
		for i := range overflow {
			overflow[i] = 0xFF
		}
		heap.Deallocate(next)
	default:
		heap.Deallocate(ptr)
		printInfo("unknown --mode %q, ran double-free\n", corruptMode)
		heap.Deallocate(ptr)
	}

	select {
	case msg := <-caught:
		printInfo("corruption handler fired: %s\n", msg)
	default:
		printInfo("no corruption detected (this mode may not reliably trigger one)\n")
	}
	return nil
}
