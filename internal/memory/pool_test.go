package memory

import (
	"errors"
	"sync"
	"testing"
)

type widget struct {
	n    int
	tags []string
}

func (w *widget) Reset() {
	w.n = 0
	w.tags = w.tags[:0]
}

func TestObjectPool_MatchedCycles(t *testing.T) {
	p := NewObjectPool[widget](nil, 0)
	const n = 100
	for i := 0; i < n; i++ {
		o, err := p.Acquire()
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		o.Value.n = i
		o.Value.tags = append(o.Value.tags, "x")
		if err := p.Release(o); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
	st := p.Stats()
	if st.AllocatedCount != n || st.ReleasedCount != n {
		t.Fatalf("allocated=%d released=%d, want %d", st.AllocatedCount, st.ReleasedCount, n)
	}
	if st.ConstructedCount != 1 {
		t.Fatalf("expected a single construction with reuse, got %d", st.ConstructedCount)
	}
	if st.InUse != 0 || st.Idle != 1 {
		t.Fatalf("unexpected occupancy: %+v", st)
	}
}

func TestObjectPool_HeldThenReleased(t *testing.T) {
	p := NewObjectPool[widget](nil, 0)
	var held []Object[widget]
	for i := 0; i < 100; i++ {
		o, err := p.Acquire()
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		held = append(held, o)
	}
	seen := map[*widget]bool{}
	for _, o := range held {
		if seen[o.Value] {
			t.Fatalf("same value handed out twice")
		}
		seen[o.Value] = true
	}
	for _, o := range held {
		if err := p.Release(o); err != nil {
			t.Fatalf("release: %v", err)
		}
	}
	st := p.Stats()
	if st.AllocatedCount != 100 || st.ReleasedCount != 100 || st.ConstructedCount != 100 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestObjectPool_ResetOnRelease(t *testing.T) {
	p := NewObjectPool[widget](nil, 0)
	o, _ := p.Acquire()
	o.Value.n = 7
	o.Value.tags = append(o.Value.tags, "a", "b")
	_ = p.Release(o)
	o2, _ := p.Acquire()
	if o2.Value.n != 0 || len(o2.Value.tags) != 0 {
		t.Fatalf("value not reset: %+v", *o2.Value)
	}
}

func TestObjectPool_DoubleReleaseDetected(t *testing.T) {
	h := newHealth(nopLogger())
	p := newObjectPool[widget](nil, 0, h)
	o, _ := p.Acquire()
	if err := p.Release(o); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := p.Release(o); !errors.Is(err, ErrDoubleRelease) {
		t.Fatalf("expected ErrDoubleRelease, got %v", err)
	}
	// A stale handle must not release the slot's next owner.
	o2, _ := p.Acquire()
	if err := p.Release(o); !errors.Is(err, ErrDoubleRelease) {
		t.Fatalf("stale handle accepted: %v", err)
	}
	if err := p.Release(o2); err != nil {
		t.Fatalf("live handle rejected: %v", err)
	}
	if h.ok() {
		t.Fatalf("health should record the double release")
	}
	if st := p.Stats(); st.ReleasedCount != 2 || st.DoubleReleases != 2 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestObjectPool_ForeignHandle(t *testing.T) {
	a := NewObjectPool[widget](nil, 0)
	b := NewObjectPool[widget](nil, 0)
	o, _ := a.Acquire()
	if err := b.Release(o); !errors.Is(err, ErrForeignHandle) {
		t.Fatalf("expected ErrForeignHandle, got %v", err)
	}
	if err := b.Release(Object[widget]{}); !errors.Is(err, ErrForeignHandle) {
		t.Fatalf("zero handle: %v", err)
	}
}

func TestObjectPool_ConstructorFailure(t *testing.T) {
	boom := errors.New("boom")
	p := NewObjectPool(func() (*widget, error) { return nil, boom }, 0)
	o, err := p.Acquire()
	if !errors.Is(err, ErrAllocationFailure) {
		t.Fatalf("expected ErrAllocationFailure, got %v", err)
	}
	if o.Valid() {
		t.Fatalf("failed acquire returned a valid handle")
	}
	pp := NewObjectPool(func() (*widget, error) { panic("ctor") }, 0)
	if _, err := pp.Acquire(); !errors.Is(err, ErrAllocationFailure) {
		t.Fatalf("panicking constructor: %v", err)
	}
}

func TestObjectPool_MaxIdleAndTrim(t *testing.T) {
	p := NewObjectPool[widget](nil, 2)
	var held []Object[widget]
	for i := 0; i < 5; i++ {
		o, _ := p.Acquire()
		held = append(held, o)
	}
	for _, o := range held {
		_ = p.Release(o)
	}
	if st := p.Stats(); st.Idle != 2 {
		t.Fatalf("idle=%d, want 2", st.Idle)
	}
	if n := p.Trim(0); n != 2 {
		t.Fatalf("trimmed %d, want 2", n)
	}
	o, err := p.Acquire()
	if err != nil || o.Value == nil {
		t.Fatalf("acquire after trim: %v", err)
	}
}

func TestObjectPool_Concurrent(t *testing.T) {
	p := NewObjectPool[widget](nil, 0)
	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				o, err := p.Acquire()
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				o.Value.n++
				if err := p.Release(o); err != nil {
					t.Errorf("release: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	st := p.Stats()
	if st.AllocatedCount != 2000 || st.ReleasedCount != 2000 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestObjectPool_Close(t *testing.T) {
	p := NewObjectPool[widget](nil, 0)
	o, _ := p.Acquire()
	p.close()
	if _, err := p.Acquire(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("acquire after close: %v", err)
	}
	if err := p.Release(o); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("release after close: %v", err)
	}
	if st := p.Stats(); st.LeakedCount != 1 {
		t.Fatalf("leaked=%d, want 1", st.LeakedCount)
	}
}
