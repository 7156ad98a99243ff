package scheduler

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter caps how many holders may proceed at once.
type Limiter struct {
	sem   *semaphore.Weighted
	max   int64
	inUse atomic.Int64
}

// NewLimiter builds a Limiter with n permits. n < 1 is treated as 1.
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), max: int64(n)}
}

// Acquire blocks for a permit or until ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.inUse.Add(1)
	return nil
}

// TryAcquire takes a permit without blocking.
func (l *Limiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.inUse.Add(1)
	return true
}

// Release returns a permit.
func (l *Limiter) Release() {
	l.inUse.Add(-1)
	l.sem.Release(1)
}

// Max returns the permit count.
func (l *Limiter) Max() int { return int(l.max) }

// InUse returns the permits currently held.
func (l *Limiter) InUse() int { return int(l.inUse.Load()) }

// Available returns the permits currently free.
func (l *Limiter) Available() int { return int(l.max - l.inUse.Load()) }
