// Package memory is the allocation authority of the runtime. It is split by
// concern:
//
//   - manager.go: Manager lifecycle (Initialize/Shutdown), pool registry,
//     global stats, ForceGC and the text report.
//   - pool.go: ObjectPool[T], a slot-indexed freelist of *T handed out as
//     Object[T] handles.
//   - allocator.go: Allocator, a size-class byte allocator bounded by a
//     capacity. Failure is reported as a nil slice, never a panic.
//   - health.go: invariant violation tracking shared by pools and allocator.
//   - mapper_*.go: read-only file and anonymous mappings.
//
// Everything is safe for concurrent use. A Manager must be initialized before
// use; after Shutdown every accessor returns ErrNotInitialized.
package memory
