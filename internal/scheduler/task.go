package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of a Task.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s >= StateCompleted }

// Task is the handle to a scheduled unit of work. Every waiter observes the
// same result and the same error value.
type Task[R any] struct {
	id        string
	state     atomic.Int32
	done      chan struct{}
	submitted time.Time

	mu        sync.Mutex
	result    R
	err       error
	callbacks []func(R, error)
}

func newTask[R any]() *Task[R] {
	return &Task[R]{id: uuid.NewString(), done: make(chan struct{}), submitted: time.Now()}
}

// Resolved returns a task that has already finished with r and err.
func Resolved[R any](r R, err error) *Task[R] {
	t := newTask[R]()
	st := StateCompleted
	if err != nil {
		st = StateFailed
	}
	t.finish(st, r, err)
	return t
}

// ID returns the task's unique identifier.
func (t *Task[R]) ID() string { return t.id }

// State returns the current state.
func (t *Task[R]) State() State { return State(t.state.Load()) }

// Done is closed once the task reaches a terminal state.
func (t *Task[R]) Done() <-chan struct{} { return t.done }

// Get blocks until the task finishes and returns its outcome.
func (t *Task[R]) Get() (R, error) {
	<-t.done
	return t.result, t.err
}

// Await blocks until the task finishes or ctx is done. A ctx error does not
// cancel the task.
func (t *Task[R]) Await(ctx context.Context) (R, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// AwaitTimeout is Await bounded by d.
func (t *Task[R]) AwaitTimeout(d time.Duration) (R, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return t.Await(ctx)
}

// OnComplete registers cb to run once with the outcome. If the task already
// finished, cb runs immediately on the calling goroutine; otherwise it runs on
// the goroutine that finishes the task.
func (t *Task[R]) OnComplete(cb func(R, error)) {
	t.mu.Lock()
	select {
	case <-t.done:
		t.mu.Unlock()
		cb(t.result, t.err)
		return
	default:
	}
	t.callbacks = append(t.callbacks, cb)
	t.mu.Unlock()
}

// Cancel stops a task that has not started yet. It returns false once the task
// is running or finished; running work is never interrupted.
func (t *Task[R]) Cancel() bool {
	if !t.state.CompareAndSwap(int32(StatePending), int32(StateCancelled)) {
		return false
	}
	var zero R
	t.finish(StateCancelled, zero, ErrCancelled)
	return true
}

func (t *Task[R]) start() bool {
	return t.state.CompareAndSwap(int32(StatePending), int32(StateRunning))
}

func (t *Task[R]) finish(st State, r R, err error) {
	t.mu.Lock()
	t.result, t.err = r, err
	t.state.Store(int32(st))
	cbs := t.callbacks
	t.callbacks = nil
	close(t.done)
	t.mu.Unlock()
	for _, cb := range cbs {
		cb(r, err)
	}
}

// abort finishes a pending task with err, used when a scheduler closes with
// work still queued.
func (t *Task[R]) abort(err error) {
	if !t.state.CompareAndSwap(int32(StatePending), int32(StateCancelled)) {
		return
	}
	var zero R
	t.finish(StateCancelled, zero, err)
}

// Then schedules fn on s with the result of t once t completes successfully.
// A failure of t is passed through without running fn.
func Then[R, S any](t *Task[R], s *Scheduler, fn func(R) (S, error)) *Task[S] {
	next := newTask[S]()
	t.OnComplete(func(r R, err error) {
		if err != nil {
			var zero S
			if next.start() {
				next.finish(StateFailed, zero, err)
			}
			return
		}
		inner := Schedule(s, func() (S, error) { return fn(r) })
		inner.OnComplete(func(v S, err error) {
			st := StateCompleted
			if err != nil {
				st = StateFailed
			}
			if next.start() {
				next.finish(st, v, err)
			}
		})
	})
	return next
}
