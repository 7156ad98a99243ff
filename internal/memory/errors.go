package memory

import "errors"

var (
	// ErrNotInitialized is returned before Initialize and after Shutdown.
	ErrNotInitialized = errors.New("memory: not initialized")
	// ErrAllocationFailure is returned when a pool cannot construct an object.
	ErrAllocationFailure = errors.New("memory: allocation failure")
	// ErrDoubleRelease marks a handle released after its slot was already returned.
	ErrDoubleRelease = errors.New("memory: object released twice")
	// ErrForeignHandle marks a handle that was not issued by the receiving pool.
	ErrForeignHandle = errors.New("memory: handle not issued by this pool")
	// ErrDoubleFree marks a block freed while it already sits on a freelist.
	ErrDoubleFree = errors.New("memory: block freed twice")
	// ErrUnknownBlock marks a block the allocator has no record of.
	ErrUnknownBlock = errors.New("memory: unknown block")
	// ErrSizeMismatch is returned when a free names a size outside the block's size class.
	ErrSizeMismatch = errors.New("memory: size does not match allocation")
	// ErrCorruptionDetected is reported by CheckHealth after an invariant violation.
	ErrCorruptionDetected = errors.New("memory: corruption detected")
)
