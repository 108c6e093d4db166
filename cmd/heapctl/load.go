package main

import (
	"fmt"
	"math/rand"
	"sync"
	"unsafe"

	"github.com/memheap/memheap/heap"
	"github.com/spf13/cobra"
)

var (
	loadCount   int
	loadMinSize int
	loadMaxSize int
	loadSeed    int64
	loadThreads int
)

func init() {
	cmd := newLoadCmd()
	cmd.Flags().IntVar(&loadCount, "count", 10000, "Allocations to perform per worker")
	cmd.Flags().IntVar(&loadMinSize, "min-size", 8, "Minimum allocation size in bytes")
	cmd.Flags().IntVar(&loadMaxSize, "max-size", 4096, "Maximum allocation size in bytes")
	cmd.Flags().Int64Var(&loadSeed, "seed", 1, "PRNG seed")
	cmd.Flags().IntVar(&loadThreads, "threads", 1, "Concurrent workers")
	rootCmd.AddCommand(cmd)
}

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Run a synthetic random allocate/free workload",
		Long: `The load command repeatedly allocates a random size in
[min-size, max-size], holds the pointer for a random number of further
iterations, and then frees it — a churn pattern meant to exercise
splitting and coalescing under concurrency.

Example:
  heapctl load --count 50000 --threads 8 --max-size 65536`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad()
		},
	}
}

func runLoad() error {
	if loadMinSize <= 0 || loadMaxSize < loadMinSize {
		return fmt.Errorf("invalid size range [%d, %d]", loadMinSize, loadMaxSize)
	}

	var wg sync.WaitGroup
	for w := 0; w < loadThreads; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			runWorker(loadSeed + int64(worker))
		}(w)
	}
	wg.Wait()

	printInfo("done: %s\n", heap.Stats())
	return nil
}

// liveSlot tracks a held allocation and the iteration it should be freed on,
// so a single pass can hold a bounded working set of pointers at once
// instead of immediately freeing every allocation it makes.
type liveSlot struct {
	ptr    unsafe.Pointer
	freeAt int
}

func runWorker(seed int64) {
	r := rand.New(rand.NewSource(seed))
	span := loadMaxSize - loadMinSize + 1

	live := make([]liveSlot, 0, 256)
	for i := 0; i < loadCount; i++ {
		kept := live[:0]
		for _, slot := range live {
			if slot.freeAt <= i {
				heap.Deallocate(slot.ptr)
			} else {
				kept = append(kept, slot)
			}
		}
		live = kept

		size := loadMinSize + r.Intn(span)
		ptr, err := heap.Allocate(size)
		if err != nil {
			printVerbose("allocate(%d) failed: %v\n", size, err)
			continue
		}
		holdFor := 1 + r.Intn(64)
		live = append(live, liveSlot{ptr: ptr, freeAt: i + holdFor})
	}

	for _, slot := range live {
		heap.Deallocate(slot.ptr)
	}
}
