package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"nexrt/internal/memory"
)

const defaultSchedulerName = "default"

// ManagerConfig configures the set of schedulers.
type ManagerConfig struct {
	// DefaultThreads sizes the default scheduler. Zero uses runtime.NumCPU().
	DefaultThreads int
	// ConcurrencyLimit is applied to the default scheduler.
	ConcurrencyLimit int
	// Memory must be initialized before Initialize when set.
	Memory *memory.Manager
	Logger zerolog.Logger
}

// GlobalStats aggregates every managed scheduler.
type GlobalStats struct {
	Schedulers   []Stats `json:"schedulers"`
	TotalThreads int     `json:"total_threads"`
	QueueDepth   int     `json:"queue_depth"`
	Completed    uint64  `json:"completed"`
	Failed       uint64  `json:"failed"`
}

// Manager owns named schedulers, including the default one.
type Manager struct {
	cfg ManagerConfig
	log zerolog.Logger

	mu          sync.RWMutex
	initialized bool
	schedulers  map[string]*Scheduler
}

// NewManager builds a Manager. Call Initialize before use.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{cfg: cfg, log: cfg.Logger.With().Str("component", "scheduler").Logger()}
}

// Initialize starts the default scheduler. It is a no-op when already initialized.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}
	if m.cfg.Memory != nil && !m.cfg.Memory.Initialized() {
		return fmt.Errorf("scheduler depends on memory manager: %w", memory.ErrNotInitialized)
	}
	def, err := New(Options{
		Name:             defaultSchedulerName,
		Threads:          m.cfg.DefaultThreads,
		ConcurrencyLimit: m.cfg.ConcurrencyLimit,
		Memory:           m.cfg.Memory,
		Logger:           m.cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("default scheduler: %w", err)
	}
	m.schedulers = map[string]*Scheduler{defaultSchedulerName: def}
	m.initialized = true
	m.log.Info().Int("threads", def.threads).Msg("scheduler manager initialized")
	return nil
}

// Default returns the default scheduler.
func (m *Manager) Default() (*Scheduler, error) { return m.Get(defaultSchedulerName) }

// Initialized reports whether Initialize has run without a later ShutdownAll.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Get returns the scheduler registered under name.
func (m *Manager) Get(name string) (*Scheduler, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	s, ok := m.schedulers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheduler, name)
	}
	return s, nil
}

// CreateDedicated starts a scheduler with its own worker pool under name.
func (m *Manager) CreateDedicated(name string, threads int) (*Scheduler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	if _, ok := m.schedulers[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateScheduler, name)
	}
	s, err := New(Options{Name: name, Threads: threads, Memory: m.cfg.Memory, Logger: m.cfg.Logger})
	if err != nil {
		return nil, err
	}
	m.schedulers[name] = s
	m.log.Info().Str("scheduler", name).Int("threads", s.threads).Msg("dedicated scheduler created")
	return s, nil
}

// Names returns the registered scheduler names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.schedulers))
	for n := range m.schedulers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Stats returns the default scheduler's stats.
func (m *Manager) Stats() (Stats, error) {
	s, err := m.Default()
	if err != nil {
		return Stats{}, err
	}
	return s.Stats(), nil
}

// GlobalStats aggregates all schedulers.
func (m *Manager) GlobalStats() (GlobalStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return GlobalStats{}, ErrNotInitialized
	}
	var gs GlobalStats
	for _, s := range m.schedulers {
		st := s.Stats()
		gs.Schedulers = append(gs.Schedulers, st)
		gs.TotalThreads += st.TotalThreads
		gs.QueueDepth += st.QueueDepth
		gs.Completed += st.Completed
		gs.Failed += st.Failed
	}
	sort.Slice(gs.Schedulers, func(i, j int) bool { return gs.Schedulers[i].Name < gs.Schedulers[j].Name })
	return gs, nil
}

// ShutdownAll shuts down every scheduler and joins its workers. The Manager
// can be initialized again afterwards. The registry is released before the
// workers are joined, so running tasks that call Get or Default see
// ErrNotInitialized instead of blocking.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return nil
	}
	scheds := m.schedulers
	m.schedulers = nil
	m.initialized = false
	m.mu.Unlock()

	var errs error
	for name, s := range scheds {
		if err := s.Shutdown(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("scheduler %s: %w", name, err))
		}
	}
	m.log.Info().Msg("scheduler manager shut down")
	return errs
}
