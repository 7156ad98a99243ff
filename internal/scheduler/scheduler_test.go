package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nexrt/internal/memory"
)

func newTestScheduler(t *testing.T, threads int) *Scheduler {
	t.Helper()
	s, err := New(Options{Name: "test", Threads: threads, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func TestSchedule_DistinctResults(t *testing.T) {
	s := newTestScheduler(t, 4)
	ti := Schedule(s, func() (int, error) { return 42, nil })
	ts := Schedule(s, func() (string, error) { return "Hello World", nil })
	tf := Schedule(s, func() (float64, error) { return 3.14159, nil })

	// Await in reverse submission order.
	if v, err := tf.Get(); err != nil || v != 3.14159 {
		t.Fatalf("float task: %v %v", v, err)
	}
	if v, err := ts.Get(); err != nil || v != "Hello World" {
		t.Fatalf("string task: %v %v", v, err)
	}
	if v, err := ti.Get(); err != nil || v != 42 {
		t.Fatalf("int task: %v %v", v, err)
	}
}

func TestSchedule_FailureIsSurfacedVerbatim(t *testing.T) {
	s := newTestScheduler(t, 2)
	want := errors.New("Test exception")
	task := Schedule(s, func() (int, error) { return 0, want })
	_, err := task.Get()
	if err != want {
		t.Fatalf("expected the same error value, got %v", err)
	}
	if task.State() != StateFailed {
		t.Fatalf("state=%s", task.State())
	}
	// The pool must keep working after a failure.
	if v, err := Schedule(s, func() (int, error) { return 1, nil }).Get(); err != nil || v != 1 {
		t.Fatalf("follow-up task: %v %v", v, err)
	}
}

func TestSchedule_PanicRecovered(t *testing.T) {
	s := newTestScheduler(t, 1)
	_, err := Schedule(s, func() (int, error) { panic("kaboom") }).Get()
	if !IsPanic(err) {
		t.Fatalf("expected PanicError, got %v", err)
	}
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "kaboom" || len(pe.Stack) == 0 {
		t.Fatalf("unexpected panic error: %+v", pe)
	}
	sentinel := errors.New("typed")
	_, err = Schedule(s, func() (int, error) { panic(sentinel) }).Get()
	if !errors.Is(err, sentinel) {
		t.Fatalf("panic with error value should unwrap: %v", err)
	}
	if v, err := Schedule(s, func() (int, error) { return 5, nil }).Get(); err != nil || v != 5 {
		t.Fatalf("worker did not survive panic: %v %v", v, err)
	}
}

func TestTask_MultipleWaitersSeeSameOutcome(t *testing.T) {
	s := newTestScheduler(t, 1)
	release := make(chan struct{})
	want := errors.New("shared")
	task := Schedule(s, func() (string, error) {
		<-release
		return "partial", want
	})
	var wg sync.WaitGroup
	errs := make([]error, 8)
	vals := make([]string, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vals[i], errs[i] = task.Get()
		}(i)
	}
	var cbErr atomic.Value
	task.OnComplete(func(_ string, err error) { cbErr.Store(err) })
	close(release)
	wg.Wait()
	for i := range errs {
		if errs[i] != want || vals[i] != "partial" {
			t.Fatalf("waiter %d saw %q %v", i, vals[i], errs[i])
		}
	}
	if got, _ := cbErr.Load().(error); got != want {
		t.Fatalf("callback saw %v", got)
	}
	// Late callback runs immediately.
	called := false
	task.OnComplete(func(string, error) { called = true })
	if !called {
		t.Fatalf("late callback not invoked")
	}
}

func TestTask_CancelQueuedOnly(t *testing.T) {
	s := newTestScheduler(t, 1)
	started := make(chan struct{})
	release := make(chan struct{})
	running := Schedule(s, func() (int, error) {
		close(started)
		<-release
		return 1, nil
	})
	<-started
	var ran atomic.Bool
	queued := Schedule(s, func() (int, error) {
		ran.Store(true)
		return 2, nil
	})
	if running.Cancel() {
		t.Fatalf("running task must not be cancellable")
	}
	if !queued.Cancel() {
		t.Fatalf("queued task should be cancellable")
	}
	if queued.Cancel() {
		t.Fatalf("second cancel must report false")
	}
	close(release)
	if v, err := running.Get(); err != nil || v != 1 {
		t.Fatalf("running task: %v %v", v, err)
	}
	if _, err := queued.Get(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("cancelled task: %v", err)
	}
	if err := s.WaitIdle(context.Background()); err != nil {
		t.Fatalf("wait idle: %v", err)
	}
	if ran.Load() {
		t.Fatalf("cancelled work ran")
	}
	if st := s.Stats(); st.Cancelled != 1 {
		t.Fatalf("cancelled=%d", st.Cancelled)
	}
}

func TestAwait_ContextDeadline(t *testing.T) {
	s := newTestScheduler(t, 1)
	release := make(chan struct{})
	task := Schedule(s, func() (int, error) {
		<-release
		return 9, nil
	})
	if _, err := task.AwaitTimeout(20 * time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	close(release)
	if v, err := task.Await(context.Background()); err != nil || v != 9 {
		t.Fatalf("await after timeout: %v %v", v, err)
	}
}

func TestPriority_HigherFirst(t *testing.T) {
	s := newTestScheduler(t, 1)
	gate := make(chan struct{})
	blocker := Schedule(s, func() (int, error) { <-gate; return 0, nil })
	var mu sync.Mutex
	var order []Priority
	record := func(p Priority) func() (int, error) {
		return func() (int, error) {
			mu.Lock()
			order = append(order, p)
			mu.Unlock()
			return 0, nil
		}
	}
	// Give the single worker time to pick up the blocker.
	time.Sleep(10 * time.Millisecond)
	tl := SchedulePriority(s, PriorityLow, record(PriorityLow))
	tc := SchedulePriority(s, PriorityCritical, record(PriorityCritical))
	th := SchedulePriority(s, PriorityHigh, record(PriorityHigh))
	close(gate)
	for _, tk := range []*Task[int]{blocker, tl, tc, th} {
		_, _ = tk.Get()
	}
	want := []Priority{PriorityCritical, PriorityHigh, PriorityLow}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order=%v want %v", order, want)
		}
	}
}

func TestStats(t *testing.T) {
	s := newTestScheduler(t, 3)
	gate := make(chan struct{})
	var tasks []*Task[int]
	for i := 0; i < 6; i++ {
		tasks = append(tasks, Schedule(s, func() (int, error) { <-gate; return 0, nil }))
	}
	time.Sleep(20 * time.Millisecond)
	st := s.Stats()
	if st.TotalThreads != 3 {
		t.Fatalf("total_threads=%d", st.TotalThreads)
	}
	if st.QueueDepth != 3 || st.ActiveThreads != 3 {
		t.Fatalf("unexpected snapshot: %+v", st)
	}
	close(gate)
	if _, err := WaitAll(context.Background(), tasks...); err != nil {
		t.Fatalf("wait all: %v", err)
	}
	st = s.Stats()
	if st.Completed != 6 || st.Submitted != 6 || st.QueueDepth != 0 {
		t.Fatalf("unexpected final stats: %+v", st)
	}
}

func TestShutdown_AbortsQueuedAndJoins(t *testing.T) {
	s, err := New(Options{Threads: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	started := make(chan struct{})
	release := make(chan struct{})
	running := Schedule(s, func() (int, error) { close(started); <-release; return 7, nil })
	<-started
	queued := Schedule(s, func() (int, error) { return 8, nil })

	done := make(chan error, 1)
	go func() { done <- s.Shutdown(context.Background()) }()
	if _, err := queued.Get(); !errors.Is(err, ErrClosed) {
		t.Fatalf("queued task after shutdown: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if v, err := running.Get(); err != nil || v != 7 {
		t.Fatalf("running task should complete: %v %v", v, err)
	}
	if _, err := Schedule(s, func() (int, error) { return 1, nil }).Get(); !errors.Is(err, ErrClosed) {
		t.Fatalf("submit after shutdown: %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestThen(t *testing.T) {
	s := newTestScheduler(t, 2)
	base := Schedule(s, func() (int, error) { return 20, nil })
	next := Then(base, s, func(v int) (string, error) {
		if v != 20 {
			return "", errors.New("bad input")
		}
		return "twenty", nil
	})
	if v, err := next.Get(); err != nil || v != "twenty" {
		t.Fatalf("then: %v %v", v, err)
	}
	want := errors.New("upstream")
	failed := Then(Schedule(s, func() (int, error) { return 0, want }), s, func(int) (int, error) { return 1, nil })
	if _, err := failed.Get(); err != want {
		t.Fatalf("upstream failure not propagated: %v", err)
	}
}

func TestWaitAll_FirstError(t *testing.T) {
	s := newTestScheduler(t, 4)
	want := errors.New("one failed")
	ts := []*Task[int]{
		Schedule(s, func() (int, error) { return 1, nil }),
		Schedule(s, func() (int, error) { return 0, want }),
		Schedule(s, func() (int, error) { return 3, nil }),
	}
	if _, err := WaitAll(context.Background(), ts...); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	vals, err := WaitAll(context.Background(), Resolved(1, nil), Resolved(2, nil))
	if err != nil || vals[0] != 1 || vals[1] != 2 {
		t.Fatalf("resolved: %v %v", vals, err)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	s, err := New(Options{Threads: 4, ConcurrencyLimit: 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Shutdown(context.Background())
	var cur, peak atomic.Int32
	var tasks []*Task[struct{}]
	for i := 0; i < 12; i++ {
		tasks = append(tasks, s.Go(func() error {
			n := cur.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			cur.Add(-1)
			return nil
		}))
	}
	if _, err := WaitAll(context.Background(), tasks...); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d exceeds limit", peak.Load())
	}
}

func TestScheduler_UsesMemoryPool(t *testing.T) {
	mm := memory.New(memory.Config{})
	if err := mm.Initialize(); err != nil {
		t.Fatalf("memory init: %v", err)
	}
	defer mm.Shutdown()
	s, err := New(Options{Threads: 2, Memory: mm})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Shutdown(context.Background())
	for i := 0; i < 10; i++ {
		if _, err := Schedule(s, func() (int, error) { return i, nil }).Get(); err != nil {
			t.Fatalf("task: %v", err)
		}
	}
	gs, err := mm.GlobalStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if gs.PoolCount != 1 || gs.TotalAcquired != 10 || gs.TotalReleased != 10 {
		t.Fatalf("job pool not exercised: %+v", gs)
	}
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(2)
	if !l.TryAcquire() || !l.TryAcquire() {
		t.Fatalf("expected two permits")
	}
	if l.TryAcquire() {
		t.Fatalf("third permit granted")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatalf("acquire should time out")
	}
	l.Release()
	if l.Available() != 1 || l.InUse() != 1 || l.Max() != 2 {
		t.Fatalf("counts: avail=%d inuse=%d", l.Available(), l.InUse())
	}
}
