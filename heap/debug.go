package heap

import (
	"fmt"
	"os"
)

// debugAlloc is a compile-time escape hatch: flip to true in a local build
// to get every logAlloc call compiled in without the env var check. Left
// false in committed code.
const debugAlloc = false

// logAlloc is gated at runtime by HEAP_LOG_ALLOC so production builds never
// pay for fmt.Fprintf on the allocation hot path unless explicitly asked.
var logAllocEnabled = os.Getenv("HEAP_LOG_ALLOC") != ""

func logAlloc(format string, args ...any) {
	if debugAlloc || logAllocEnabled {
		fmt.Fprintf(os.Stderr, "heap: "+format+"\n", args...)
	}
}
