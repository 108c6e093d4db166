// Command heapctl drives the heap engine from outside a test binary: it can
// print live counters, run a synthetic allocation workload against it, and
// demonstrate the corruption handler without crashing a real process.
package main

func main() {
	execute()
}
