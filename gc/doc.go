// Package gc provides the public API of a tracing garbage collector kernel.
//
// The collector works on a reference heap of explicitly allocated objects.
// Mutator threads attach to the process-wide instance, allocate objects,
// keep them alive from stack and thread-local slots, and the collector
// reclaims everything that is no longer reachable from those slots, the
// global table or stable references.
//
// # Quick Start
//
//	func main() {
//		gc.Init()
//		defer gc.Fini()
//
//		t := gc.Attach()
//		defer gc.Detach(t)
//
//		node := t.Allocate("Node", 32, 1)
//		t.Push(node)
//		t.Allocate("Garbage", 16, 0)
//
//		res, _ := gc.Collect(context.Background())
//		fmt.Println(res.Sweep.Erased) // 1
//	}
//
// # API Overview
//
// The package provides functions for:
//   - Lifecycle: [Init], [Fini]
//   - Threads and objects: [Attach], [Detach], [Allocate], [RegisterGlobal], [NewWeakReference]
//   - Collection: [Collect]
//   - Statistics: [Snapshot], [Fill], [GetSummary]
//   - Profiling: [WriteHeapProfile]
//   - Version information: [GetInfo], [Version]
//
// # Cycle Protocol
//
// Every cycle stops the world, enumerates roots, marks to a fixed point,
// sweeps extra object data and then the heap, and resumes the threads.
// Objects with finalizers or foreign attachments are not freed right away:
// they move to a finalizer queue processed in the background, and their
// extra data is reclaimed by the next cycle. Weak references to a dead
// object read nil before the object's memory is reused.
//
// # Configuration
//
// Settings come from the GCDEBUG environment variable, a comma-separated
// list of key=value pairs in the style of GODEBUG:
//
//	GCDEBUG=gctrace=1            one log line per cycle
//	GCDEBUG=gctrace=2            per-phase detail
//	GCDEBUG=checkmark=1          verify marks against a reachability oracle
//	GCDEBUG=worklist=parallel    serial, parallel or incremental marking
//	GCDEBUG=markworkers=4        workers for parallel marking
//	GCDEBUG=allocsites=1         record allocation stacks for heap profiles
//
// # Statistics
//
// The collector keeps two cycle records: the last finished cycle and the
// one in progress. [Snapshot] copies one of them; [Fill] reports the fields
// that were set to a [Builder], in a fixed order, skipping the rest.
package gc
