package memory

import (
	"errors"
	"math"
	"sync"
	"testing"
)

func TestSizeClass(t *testing.T) {
	cases := []struct {
		size  int
		class int
	}{
		{1, 0}, {16, 0}, {17, 1}, {32, 1}, {33, 2}, {1024, 6}, {1 << 20, numClasses - 1}, {1<<20 + 1, largeClass},
	}
	for _, c := range cases {
		if got := sizeClass(c.size); got != c.class {
			t.Fatalf("sizeClass(%d)=%d want %d", c.size, got, c.class)
		}
	}
}

func TestAllocator_WriteReadRoundTrip(t *testing.T) {
	a := NewAllocator(0)
	for _, size := range []int{1, 15, 64, 1000, 4096, 1 << 20, 3 << 20} {
		buf := a.Allocate(size)
		if len(buf) != size {
			t.Fatalf("size %d: got len %d", size, len(buf))
		}
		for i := range buf {
			buf[i] = byte(i * 31)
		}
		for i := range buf {
			if buf[i] != byte(i*31) {
				t.Fatalf("size %d: mismatch at %d", size, i)
			}
		}
		if err := a.Deallocate(buf); err != nil {
			t.Fatalf("deallocate %d: %v", size, err)
		}
	}
	st := a.Stats()
	if st.AllocationCount != 7 || st.DeallocationCount != 7 || st.BytesInUse != 0 || st.LiveBlocks != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestAllocator_OversizedReturnsNil(t *testing.T) {
	a := NewAllocator(1 << 20)
	if buf := a.Allocate(math.MaxInt / 2); buf != nil {
		t.Fatalf("expected nil for half the address space")
	}
	if buf := a.Allocate(2 << 20); buf != nil {
		t.Fatalf("expected nil above capacity")
	}
	if buf := a.Allocate(0); buf != nil {
		t.Fatalf("expected nil for zero size")
	}
	st := a.Stats()
	if st.FailedAllocations != 3 || st.AllocationCount != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestAllocator_ReusesFreedBlock(t *testing.T) {
	a := NewAllocator(0)
	b1 := a.Allocate(100)
	b1[0] = 0xff
	addr := addrOf(b1)
	_ = a.Deallocate(b1)
	b2 := a.Allocate(120)
	if addrOf(b2) != addr {
		t.Fatalf("expected same-class block to be reused")
	}
	if b2[0] != 0 {
		t.Fatalf("reused block not zeroed")
	}
	if st := a.Stats(); st.FreeListBytes != 0 {
		t.Fatalf("free list should be empty: %+v", st)
	}
}

func TestAllocator_SizeMismatch(t *testing.T) {
	a := NewAllocator(0)
	buf := a.Allocate(100) // 128 B class
	if err := a.Deallocate(buf[:10]); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	if st := a.Stats(); st.DeallocationCount != 0 || st.LiveBlocks != 1 || st.RejectedFrees != 1 {
		t.Fatalf("rejected free changed state: %+v", st)
	}
	// Same class is clamped and accepted.
	if err := a.Deallocate(buf[:70]); err != nil {
		t.Fatalf("same-class free: %v", err)
	}
	st := a.Stats()
	if st.ClampedFrees != 1 || st.DeallocationCount != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	big := a.Allocate(2 << 20)
	if err := a.Deallocate(big[:1<<20+5]); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("large blocks require the exact size: %v", err)
	}
	if err := a.Deallocate(big); err != nil {
		t.Fatalf("large free: %v", err)
	}
}

func TestAllocator_DoubleFreeMarksUnhealthy(t *testing.T) {
	h := newHealth(nopLogger())
	a := newAllocator(0, 0, h, nopLogger())
	buf := a.Allocate(64)
	if err := a.Deallocate(buf); err != nil {
		t.Fatalf("free: %v", err)
	}
	if err := a.Deallocate(buf); !errors.Is(err, ErrDoubleFree) {
		t.Fatalf("expected ErrDoubleFree, got %v", err)
	}
	if h.ok() {
		t.Fatalf("double free must flag health")
	}
	if st := a.Stats(); st.DeallocationCount != 1 || st.DoubleFrees != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestAllocator_UnknownBlock(t *testing.T) {
	h := newHealth(nopLogger())
	a := newAllocator(0, 0, h, nopLogger())
	if err := a.Deallocate(make([]byte, 8)); !errors.Is(err, ErrUnknownBlock) {
		t.Fatalf("expected ErrUnknownBlock, got %v", err)
	}
	if !h.ok() {
		t.Fatalf("foreign slices do not indicate corruption")
	}
	if err := a.Deallocate(nil); err != nil {
		t.Fatalf("nil free: %v", err)
	}
}

func TestAllocator_CapacityIsReleasedOnFree(t *testing.T) {
	a := NewAllocator(256)
	b1 := a.Allocate(256)
	if b1 == nil {
		t.Fatalf("first allocation failed")
	}
	if a.Allocate(1) != nil {
		t.Fatalf("capacity exceeded")
	}
	_ = a.Deallocate(b1)
	if a.Allocate(200) == nil {
		t.Fatalf("allocation after free failed")
	}
}

func TestAllocator_Concurrent(t *testing.T) {
	a := NewAllocator(0)
	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				size := 1 + (g*100+i)%5000
				buf := a.Allocate(size)
				if buf == nil {
					t.Errorf("allocate %d failed", size)
					return
				}
				buf[0], buf[size-1] = byte(g), byte(i)
				if buf[0] != byte(g) || buf[size-1] != byte(i) {
					t.Errorf("corrupted write")
				}
				if err := a.Deallocate(buf); err != nil {
					t.Errorf("deallocate: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	st := a.Stats()
	if st.AllocationCount != 2000 || st.DeallocationCount != 2000 || st.BytesInUse != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestAllocator_Close(t *testing.T) {
	a := NewAllocator(0)
	buf := a.Allocate(10)
	a.close()
	if a.Allocate(10) != nil {
		t.Fatalf("closed allocator must refuse")
	}
	if err := a.Deallocate(buf); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}
