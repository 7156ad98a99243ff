package memory

import (
	"fmt"
	"math/bits"
	"sync"
	"unsafe"

	"github.com/rs/zerolog"
)

const (
	minClassShift = 4  // 16 B
	maxClassShift = 20 // 1 MiB
	numClasses    = maxClassShift - minClassShift + 1

	defaultCapacity        = 64 << 20
	defaultMaxFreePerClass = 256

	largeClass = -1
)

// AllocatorStats is a snapshot of allocator counters.
type AllocatorStats struct {
	AllocationCount   uint64  `json:"allocation_count"`
	DeallocationCount uint64  `json:"deallocation_count"`
	FailedAllocations uint64  `json:"failed_allocations"`
	RejectedFrees     uint64  `json:"rejected_frees"`
	ClampedFrees      uint64  `json:"clamped_frees"`
	DoubleFrees       uint64  `json:"double_frees"`
	LiveBlocks        int     `json:"live_blocks"`
	BytesInUse        int64   `json:"bytes_in_use"`
	PeakBytes         int64   `json:"peak_bytes"`
	FreeListBytes     int64   `json:"free_list_bytes"`
	Capacity          int64   `json:"capacity"`
	Fragmentation     float64 `json:"fragmentation_ratio"`
}

type block struct {
	buf   []byte // full block, len == block size
	class int
	size  int
}

// Allocator hands out byte slices from power-of-two size classes between
// 16 B and 1 MiB; larger requests get an exact-size block. Bytes outstanding
// never exceed the capacity: a request that would cross it yields nil.
type Allocator struct {
	health *health
	log    zerolog.Logger

	mu              sync.Mutex
	capacity        int64
	maxFreePerClass int
	live            map[uintptr]*block
	free            [numClasses][][]byte
	idle            map[uintptr]int
	closed          bool

	inUse     int64
	peak      int64
	freeBytes int64

	allocs, frees, failed, rejected, clamped, doubleFrees uint64
}

// NewAllocator builds a standalone allocator. capacity <= 0 selects 64 MiB.
func NewAllocator(capacity int64) *Allocator {
	return newAllocator(capacity, defaultMaxFreePerClass, newHealth(zerolog.Nop()), zerolog.Nop())
}

func newAllocator(capacity int64, maxFree int, h *health, log zerolog.Logger) *Allocator {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if maxFree <= 0 {
		maxFree = defaultMaxFreePerClass
	}
	return &Allocator{
		health:          h,
		log:             log,
		capacity:        capacity,
		maxFreePerClass: maxFree,
		live:            make(map[uintptr]*block),
		idle:            make(map[uintptr]int),
	}
}

// sizeClass maps a request size to its class index, or largeClass when the
// request is above the biggest class.
func sizeClass(size int) int {
	if size <= 1<<minClassShift {
		return 0
	}
	shift := bits.Len(uint(size - 1))
	if shift > maxClassShift {
		return largeClass
	}
	return shift - minClassShift
}

func classSize(class int) int { return 1 << (class + minClassShift) }

func addrOf(b []byte) uintptr { return uintptr(unsafe.Pointer(unsafe.SliceData(b))) }

// Allocate returns a zeroed slice of exactly size bytes, or nil if the request
// cannot be satisfied. It never panics on oversized requests.
func (a *Allocator) Allocate(size int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || size <= 0 {
		a.failed++
		return nil
	}
	class := sizeClass(size)
	need := size
	if class != largeClass {
		need = classSize(class)
	}
	if int64(need) > a.capacity-a.inUse {
		a.failed++
		a.log.Debug().Int("size", size).Int64("in_use", a.inUse).Int64("capacity", a.capacity).Msg("allocation refused")
		return nil
	}

	var buf []byte
	if class != largeClass {
		if n := len(a.free[class]); n > 0 {
			buf = a.free[class][n-1]
			a.free[class] = a.free[class][:n-1]
			delete(a.idle, addrOf(buf))
			a.freeBytes -= int64(need)
			clear(buf)
		}
	}
	if buf == nil {
		buf = make([]byte, need)
	}
	a.live[addrOf(buf)] = &block{buf: buf, class: class, size: size}
	a.allocs++
	a.inUse += int64(need)
	if a.inUse > a.peak {
		a.peak = a.inUse
	}
	return buf[:size:size]
}

// Deallocate returns a block obtained from Allocate. len(buf) is the size the
// caller claims to free. A size in the same class as the original request is
// accepted; anything else is rejected with ErrSizeMismatch and the block stays
// live. Freeing a block that sits on a freelist is a double free and marks the
// allocator unhealthy. A nil slice is a no-op.
func (a *Allocator) Deallocate(buf []byte) error {
	if buf == nil {
		return nil
	}
	addr := addrOf(buf)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrNotInitialized
	}
	rec, ok := a.live[addr]
	if !ok {
		if _, isIdle := a.idle[addr]; isIdle {
			a.doubleFrees++
			a.health.flag("allocator: double free of block %#x", addr)
			return ErrDoubleFree
		}
		a.rejected++
		return fmt.Errorf("%w: %#x", ErrUnknownBlock, addr)
	}
	if n := len(buf); n != rec.size {
		if rec.class == largeClass || sizeClass(n) != rec.class {
			a.rejected++
			return fmt.Errorf("%w: freed %d bytes, allocated %d", ErrSizeMismatch, n, rec.size)
		}
		a.clamped++
	}
	delete(a.live, addr)
	a.frees++
	blockSize := int64(len(rec.buf))
	a.inUse -= blockSize
	if rec.class != largeClass && len(a.free[rec.class]) < a.maxFreePerClass {
		a.free[rec.class] = append(a.free[rec.class], rec.buf)
		a.idle[addr] = rec.class
		a.freeBytes += blockSize
	}
	if a.frees > a.allocs {
		a.health.flag("allocator: deallocation count %d exceeds allocation count %d", a.frees, a.allocs)
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (a *Allocator) Stats() AllocatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := AllocatorStats{
		AllocationCount:   a.allocs,
		DeallocationCount: a.frees,
		FailedAllocations: a.failed,
		RejectedFrees:     a.rejected,
		ClampedFrees:      a.clamped,
		DoubleFrees:       a.doubleFrees,
		LiveBlocks:        len(a.live),
		BytesInUse:        a.inUse,
		PeakBytes:         a.peak,
		FreeListBytes:     a.freeBytes,
		Capacity:          a.capacity,
	}
	if total := a.inUse + a.freeBytes; total > 0 {
		st.Fragmentation = float64(a.freeBytes) / float64(total)
	}
	return st
}

// Trim drops every cached free block and returns the bytes released to the
// Go heap. Live blocks are untouched.
func (a *Allocator) Trim() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.trimLocked()
}

func (a *Allocator) trimLocked() int64 {
	released := a.freeBytes
	for i := range a.free {
		a.free[i] = nil
	}
	clear(a.idle)
	a.freeBytes = 0
	return released
}

func (a *Allocator) setCapacity(capacity int64) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	a.mu.Lock()
	a.capacity = capacity
	a.mu.Unlock()
}

// close invalidates the allocator. Outstanding blocks remain usable memory
// for their holders but can no longer be returned.
func (a *Allocator) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if n := len(a.live); n > 0 {
		a.log.Warn().Int("live_blocks", n).Int64("bytes", a.inUse).Msg("allocator closed with outstanding blocks")
	}
	a.trimLocked()
	clear(a.live)
	a.closed = true
}
