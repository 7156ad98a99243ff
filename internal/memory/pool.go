package memory

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const defaultPoolMaxIdle = 1000

var poolIDs atomic.Uint64

// Resetter is implemented by pooled types that need scrubbing before reuse.
// Reset is called on release while the pool lock is held.
type Resetter interface {
	Reset()
}

// Object is a handle to a pooled value. The pool keeps the value in a slot;
// the handle records the slot index and the slot generation at acquisition so
// a stale handle can be told apart from a live one.
type Object[T any] struct {
	Value *T
	slot  int32
	gen   uint32
	owner uint64
}

// Valid reports whether the handle was issued by a pool.
func (o Object[T]) Valid() bool { return o.owner != 0 && o.Value != nil }

// PoolStats is a snapshot of a pool's counters.
type PoolStats struct {
	Name             string `json:"name"`
	AllocatedCount   uint64 `json:"allocated_count"`
	ReleasedCount    uint64 `json:"released_count"`
	ConstructedCount uint64 `json:"constructed_count"`
	DoubleReleases   uint64 `json:"double_releases"`
	LeakedCount      uint64 `json:"leaked_count"`
	InUse            int    `json:"in_use_count"`
	Idle             int    `json:"idle_count"`
	Capacity         int    `json:"capacity"`
}

type slot[T any] struct {
	obj   *T
	gen   uint32
	inUse bool
}

// ObjectPool is a freelist of *T addressed by slot index.
type ObjectPool[T any] struct {
	id      uint64
	name    string
	newFn   func() (*T, error)
	health  *health
	mu      sync.Mutex
	slots   []slot[T]
	free    []int32
	maxIdle int
	closed  bool

	allocated      uint64
	released       uint64
	constructed    uint64
	doubleReleases uint64
	leaked         uint64
}

// NewObjectPool builds a standalone pool outside of any Manager. newFn may be
// nil, in which case new(T) is used. maxIdle <= 0 selects the default of 1000.
func NewObjectPool[T any](newFn func() (*T, error), maxIdle int) *ObjectPool[T] {
	return newObjectPool(newFn, maxIdle, newHealth(zerolog.Nop()))
}

func newObjectPool[T any](newFn func() (*T, error), maxIdle int, h *health) *ObjectPool[T] {
	if maxIdle <= 0 {
		maxIdle = defaultPoolMaxIdle
	}
	return &ObjectPool[T]{
		id:      poolIDs.Add(1),
		name:    reflect.TypeFor[T]().String(),
		newFn:   newFn,
		health:  h,
		maxIdle: maxIdle,
	}
}

// Name returns the Go type name of the pooled values.
func (p *ObjectPool[T]) Name() string { return p.name }

// Acquire hands out a value, reusing an idle slot when one is available.
func (p *ObjectPool[T]) Acquire() (Object[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Object[T]{}, ErrNotInitialized
	}
	idx := int32(-1)
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
	}
	if idx < 0 || p.slots[idx].obj == nil {
		obj, err := p.construct()
		if err != nil {
			if idx >= 0 {
				p.free = append(p.free, idx)
			}
			return Object[T]{}, fmt.Errorf("%w: %s: %v", ErrAllocationFailure, p.name, err)
		}
		if idx < 0 {
			p.slots = append(p.slots, slot[T]{})
			idx = int32(len(p.slots) - 1)
		}
		p.slots[idx].obj = obj
		p.constructed++
	}
	s := &p.slots[idx]
	s.inUse = true
	p.allocated++
	return Object[T]{Value: s.obj, slot: idx, gen: s.gen, owner: p.id}, nil
}

func (p *ObjectPool[T]) construct() (obj *T, err error) {
	if p.newFn == nil {
		return new(T), nil
	}
	defer func() {
		if r := recover(); r != nil {
			obj, err = nil, fmt.Errorf("constructor panic: %v", r)
		}
	}()
	obj, err = p.newFn()
	if err == nil && obj == nil {
		err = fmt.Errorf("constructor returned nil")
	}
	return obj, err
}

// Release returns the handle's value to the pool. The caller must not use
// o.Value afterwards. A second release of the same handle is rejected with
// ErrDoubleRelease and recorded as a corruption event.
func (p *ObjectPool[T]) Release(o Object[T]) error {
	if o.owner != p.id {
		return ErrForeignHandle
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrNotInitialized
	}
	if o.slot < 0 || int(o.slot) >= len(p.slots) {
		return ErrForeignHandle
	}
	s := &p.slots[o.slot]
	if !s.inUse || s.gen != o.gen {
		p.doubleReleases++
		p.health.flag("pool %s: double release of slot %d (gen %d, current %d)", p.name, o.slot, o.gen, s.gen)
		return ErrDoubleRelease
	}
	if r, ok := any(s.obj).(Resetter); ok {
		r.Reset()
	}
	s.inUse = false
	s.gen++
	p.released++
	if len(p.free) >= p.maxIdle {
		s.obj = nil
	}
	p.free = append(p.free, o.slot)
	return nil
}

// Stats returns the current counters.
func (p *ObjectPool[T]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle := 0
	for _, i := range p.free {
		if p.slots[i].obj != nil {
			idle++
		}
	}
	return PoolStats{
		Name:             p.name,
		AllocatedCount:   p.allocated,
		ReleasedCount:    p.released,
		ConstructedCount: p.constructed,
		DoubleReleases:   p.doubleReleases,
		LeakedCount:      p.leaked,
		InUse:            len(p.slots) - len(p.free),
		Idle:             idle,
		Capacity:         p.maxIdle,
	}
}

// Trim drops idle values beyond keep, oldest first, and returns how many were
// dropped. Slots and generations survive so outstanding handles stay valid.
func (p *ObjectPool[T]) Trim(keep int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trimLocked(keep)
}

func (p *ObjectPool[T]) trimLocked(keep int) int {
	if keep < 0 {
		keep = 0
	}
	dropped := 0
	cut := len(p.free) - keep
	for i := 0; i < cut; i++ {
		s := &p.slots[p.free[i]]
		if s.obj != nil {
			s.obj = nil
			dropped++
		}
	}
	return dropped
}

func (p *ObjectPool[T]) setMaxIdle(n int) {
	if n <= 0 {
		n = defaultPoolMaxIdle
	}
	p.mu.Lock()
	p.maxIdle = n
	p.trimLocked(n)
	p.mu.Unlock()
}

// close drops every idle value, counts outstanding handles as leaked and
// rejects further use.
func (p *ObjectPool[T]) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.trimLocked(0)
	p.leaked += uint64(len(p.slots) - len(p.free))
	p.slots = nil
	p.free = nil
	p.closed = true
}

// poolEntry is the type-erased view the Manager keeps of each pool.
type poolEntry interface {
	Name() string
	Stats() PoolStats
	Trim(keep int) int
	setMaxIdle(n int)
	close()
}
