package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"

	"nexrt/internal/memory"
)

// Priority orders queued work. Higher priorities are dequeued first; work of
// equal priority is FIFO, but no ordering is promised across tasks.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical

	numPriorities = int(PriorityCritical) + 1
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

const (
	defaultIdlePoll = 5 * time.Millisecond
)

// Options configures a Scheduler.
type Options struct {
	Name string
	// Threads is the worker count. Zero uses runtime.NumCPU().
	Threads int
	// ConcurrencyLimit caps concurrently running tasks below Threads. Zero disables it.
	ConcurrencyLimit int
	// Memory, when set and initialized, backs the queue entries with a pooled
	// allocation. Otherwise the scheduler keeps a private pool.
	Memory *memory.Manager
	Logger zerolog.Logger
}

// Stats is a point-in-time snapshot.
type Stats struct {
	Name            string        `json:"name"`
	TotalThreads    int           `json:"total_threads"`
	ActiveThreads   int           `json:"active_threads"`
	QueueDepth      int           `json:"queue_depth"`
	Submitted       uint64        `json:"submitted"`
	Completed       uint64        `json:"completed"`
	Failed          uint64        `json:"failed"`
	Cancelled       uint64        `json:"cancelled"`
	AvgTaskDuration time.Duration `json:"avg_task_duration_ns"`
	Closed          bool          `json:"closed"`
}

// job is a queue entry. It is drawn from an object pool and reset on release.
type job struct {
	run   func()
	abort func(error)
}

func (j *job) Reset() { *j = job{} }

// Scheduler runs submitted work on a fixed set of worker goroutines.
type Scheduler struct {
	name    string
	threads int
	log     zerolog.Logger
	jobs    *memory.ObjectPool[job]
	limiter *Limiter

	mu     sync.Mutex
	cond   *sync.Cond
	queues [numPriorities]*queue.Queue
	depth  int
	closed bool
	wg     sync.WaitGroup

	active    atomic.Int64
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64
	runNanos  atomic.Int64
	finished  atomic.Uint64
}

// New starts a Scheduler with opts.Threads workers.
func New(opts Options) (*Scheduler, error) {
	if opts.Threads <= 0 {
		opts.Threads = runtime.NumCPU()
	}
	if opts.Name == "" {
		opts.Name = defaultSchedulerName
	}
	s := &Scheduler{
		name:    opts.Name,
		threads: opts.Threads,
		log:     opts.Logger.With().Str("component", "scheduler").Str("scheduler", opts.Name).Logger(),
	}
	if opts.Memory != nil && opts.Memory.Initialized() {
		p, err := memory.GetObjectPool[job](opts.Memory)
		if err != nil {
			return nil, fmt.Errorf("job pool: %w", err)
		}
		s.jobs = p
	} else {
		s.jobs = memory.NewObjectPool[job](nil, 0)
	}
	if opts.ConcurrencyLimit > 0 && opts.ConcurrencyLimit < opts.Threads {
		s.limiter = NewLimiter(opts.ConcurrencyLimit)
	}
	s.cond = sync.NewCond(&s.mu)
	for i := range s.queues {
		s.queues[i] = queue.New()
	}
	s.wg.Add(s.threads)
	for i := 0; i < s.threads; i++ {
		go s.worker()
	}
	s.log.Debug().Int("threads", s.threads).Msg("scheduler started")
	return s, nil
}

// Name returns the scheduler name.
func (s *Scheduler) Name() string { return s.name }

// Schedule submits work at normal priority and returns immediately.
func Schedule[R any](s *Scheduler, work func() (R, error)) *Task[R] {
	return SchedulePriority(s, PriorityNormal, work)
}

// SchedulePriority submits work at priority p. If s is closed the returned
// task has already failed with ErrClosed.
func SchedulePriority[R any](s *Scheduler, p Priority, work func() (R, error)) *Task[R] {
	t := newTask[R]()
	if p < PriorityLow || p > PriorityCritical {
		p = PriorityNormal
	}
	h, err := s.jobs.Acquire()
	if err != nil {
		t.abort(fmt.Errorf("enqueue: %w", err))
		return t
	}
	h.Value.run = func() { s.execute(func() bool { return runTask(s, t, work) }) }
	h.Value.abort = t.abort

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = s.jobs.Release(h)
		t.abort(ErrClosed)
		return t
	}
	s.queues[p].Add(h)
	s.depth++
	s.submitted.Add(1)
	s.cond.Signal()
	s.mu.Unlock()
	return t
}

// Go submits a function that only reports an error.
func (s *Scheduler) Go(work func() error) *Task[struct{}] {
	return Schedule(s, func() (struct{}, error) { return struct{}{}, work() })
}

func runTask[R any](s *Scheduler, t *Task[R], work func() (R, error)) bool {
	if !t.start() {
		s.cancelled.Add(1)
		return true
	}
	r, err := safeCall(t.id, work)
	if pe, ok := err.(*PanicError); ok {
		s.log.Error().Str("task", t.id).Interface("panic", pe.Value).Bytes("stack", pe.Stack).Msg("task panicked")
	}
	st := StateCompleted
	if err != nil {
		st = StateFailed
		s.failed.Add(1)
	} else {
		s.completed.Add(1)
	}
	t.finish(st, r, err)
	return false
}

func safeCall[R any](id string, work func() (R, error)) (r R, err error) {
	defer func() {
		if v := recover(); v != nil {
			var zero R
			r, err = zero, &PanicError{TaskID: id, Value: v, Stack: debug.Stack()}
		}
	}()
	return work()
}

// execute runs one dequeued job under the optional concurrency limit and
// records its duration.
func (s *Scheduler) execute(run func() (skipped bool)) {
	if s.limiter != nil {
		_ = s.limiter.Acquire(context.Background())
		defer s.limiter.Release()
	}
	start := time.Now()
	if skipped := run(); skipped {
		return
	}
	s.runNanos.Add(int64(time.Since(start)))
	s.finished.Add(1)
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for s.depth == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.depth == 0 {
			s.mu.Unlock()
			return
		}
		h := s.popLocked()
		s.active.Add(1)
		s.mu.Unlock()

		run := h.Value.run
		_ = s.jobs.Release(h)
		s.runJob(run)
	}
}

// runJob keeps a worker alive when a completion callback panics; work
// functions themselves are already guarded by safeCall.
func (s *Scheduler) runJob(run func()) {
	defer func() {
		if v := recover(); v != nil {
			s.log.Error().Interface("panic", v).Msg("completion callback panicked")
		}
		s.active.Add(-1)
	}()
	run()
}

func (s *Scheduler) popLocked() memory.Object[job] {
	for p := numPriorities - 1; p >= 0; p-- {
		if s.queues[p].Length() > 0 {
			s.depth--
			return s.queues[p].Remove().(memory.Object[job])
		}
	}
	panic("scheduler: depth out of sync with queues")
}

// Stats returns a snapshot of the scheduler's counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	depth, closed := s.depth, s.closed
	s.mu.Unlock()
	st := Stats{
		Name:          s.name,
		TotalThreads:  s.threads,
		ActiveThreads: int(s.active.Load()),
		QueueDepth:    depth,
		Submitted:     s.submitted.Load(),
		Completed:     s.completed.Load(),
		Failed:        s.failed.Load(),
		Cancelled:     s.cancelled.Load(),
		Closed:        closed,
	}
	if n := s.finished.Load(); n > 0 {
		st.AvgTaskDuration = time.Duration(s.runNanos.Load() / int64(n))
	}
	return st
}

// WaitIdle blocks until the queue is empty and no worker is running a task,
// or ctx is done.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(defaultIdlePoll)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		idle := s.depth == 0 && s.active.Load() == 0
		s.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown stops accepting work, fails every queued task with ErrClosed and
// waits for running tasks and all workers to exit. If ctx ends first the
// workers keep draining in the background and ctx.Err() is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.join(ctx)
	}
	s.closed = true
	var pending []memory.Object[job]
	for _, q := range s.queues {
		for q.Length() > 0 {
			pending = append(pending, q.Remove().(memory.Object[job]))
		}
	}
	s.depth = 0
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, h := range pending {
		abort := h.Value.abort
		_ = s.jobs.Release(h)
		abort(ErrClosed)
		s.cancelled.Add(1)
	}
	if len(pending) > 0 {
		s.log.Info().Int("aborted", len(pending)).Msg("queued tasks aborted on shutdown")
	}
	return s.join(ctx)
}

func (s *Scheduler) join(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Debug().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
