package memory

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config holds Manager tunables. Zero values select defaults.
type Config struct {
	// AllocatorCapacity bounds the bytes the allocator may have outstanding.
	AllocatorCapacity int64
	// PoolMaxIdle bounds the idle values each object pool retains.
	PoolMaxIdle int
	// MaxFreeBlocksPerClass bounds the allocator's cached blocks per size class.
	MaxFreeBlocksPerClass int
	// PoolKeepOnGC is how many idle values ForceGC leaves in each pool.
	PoolKeepOnGC int
	Logger       zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.AllocatorCapacity <= 0 {
		c.AllocatorCapacity = defaultCapacity
	}
	if c.PoolMaxIdle <= 0 {
		c.PoolMaxIdle = defaultPoolMaxIdle
	}
	if c.MaxFreeBlocksPerClass <= 0 {
		c.MaxFreeBlocksPerClass = defaultMaxFreePerClass
	}
	if c.PoolKeepOnGC < 0 {
		c.PoolKeepOnGC = 0
	}
	return c
}

// GlobalStats aggregates every pool and the allocator.
type GlobalStats struct {
	Pools            []PoolStats    `json:"pools"`
	Allocator        AllocatorStats `json:"allocator"`
	PoolCount        int            `json:"pool_count"`
	TotalAcquired    uint64         `json:"total_acquired"`
	TotalReleased    uint64         `json:"total_released"`
	MappedBytes      int64          `json:"mapped_bytes"`
	CorruptionEvents uint64         `json:"corruption_events"`
	Healthy          bool           `json:"healthy"`
	Uptime           time.Duration  `json:"uptime_ns"`
}

// GCResult reports what ForceGC reclaimed.
type GCResult struct {
	PoolObjectsDropped int   `json:"pool_objects_dropped"`
	AllocatorBytes     int64 `json:"allocator_bytes"`
}

// Manager owns the process' object pools and general allocator.
type Manager struct {
	mu          sync.RWMutex
	cfg         Config
	log         zerolog.Logger
	initialized bool
	health      *health
	allocator   *Allocator
	pools       map[reflect.Type]poolEntry
	started     time.Time
	mapped      atomic.Int64
}

// New builds a Manager. Call Initialize before use.
func New(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "memory").Logger(),
	}
}

// Initialize creates the allocator and an empty pool registry. Calling it on
// an initialized Manager is a no-op.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}
	m.health = newHealth(m.log)
	m.allocator = newAllocator(m.cfg.AllocatorCapacity, m.cfg.MaxFreeBlocksPerClass, m.health, m.log)
	m.pools = make(map[reflect.Type]poolEntry)
	m.started = time.Now()
	m.initialized = true
	m.log.Info().Int64("allocator_capacity", m.cfg.AllocatorCapacity).Int("pool_max_idle", m.cfg.PoolMaxIdle).Msg("memory manager initialized")
	return nil
}

// Shutdown drops every pool's idle capacity and invalidates the allocator.
// Calling it more than once is a no-op.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil
	}
	for _, p := range m.pools {
		p.close()
	}
	m.allocator.close()
	m.pools = nil
	m.initialized = false
	m.log.Info().Msg("memory manager shut down")
	return nil
}

// Initialized reports whether the Manager is between Initialize and Shutdown.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Allocator returns the general-purpose allocator.
func (m *Manager) Allocator() (*Allocator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	return m.allocator, nil
}

// GetObjectPool returns the Manager's pool for T, creating it on first use.
func GetObjectPool[T any](m *Manager) (*ObjectPool[T], error) {
	return GetObjectPoolWith[T](m, nil)
}

// GetObjectPoolWith is GetObjectPool with a constructor. The constructor is
// only used when this call creates the pool.
func GetObjectPoolWith[T any](m *Manager, newFn func() (*T, error)) (*ObjectPool[T], error) {
	key := reflect.TypeFor[T]()
	m.mu.RLock()
	if !m.initialized {
		m.mu.RUnlock()
		return nil, ErrNotInitialized
	}
	if p, ok := m.pools[key]; ok {
		m.mu.RUnlock()
		return p.(*ObjectPool[T]), nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	if p, ok := m.pools[key]; ok {
		return p.(*ObjectPool[T]), nil
	}
	p := newObjectPool(newFn, m.cfg.PoolMaxIdle, m.health)
	m.pools[key] = p
	m.log.Debug().Str("pool", p.Name()).Msg("object pool created")
	return p, nil
}

// MapFile maps path read-only and accounts the mapping in GlobalStats.
func (m *Manager) MapFile(path string) (*Mapping, error) {
	if !m.Initialized() {
		return nil, ErrNotInitialized
	}
	mp, err := MapFile(path)
	if err != nil {
		return nil, err
	}
	m.track(mp)
	return mp, nil
}

// MapAnonymous maps size zeroed bytes and accounts the mapping in GlobalStats.
func (m *Manager) MapAnonymous(size int) (*Mapping, error) {
	if !m.Initialized() {
		return nil, ErrNotInitialized
	}
	mp, err := MapAnonymous(size)
	if err != nil {
		return nil, err
	}
	m.track(mp)
	return mp, nil
}

func (m *Manager) track(mp *Mapping) {
	m.mapped.Add(int64(mp.Len()))
	mp.onClose = func(n int) { m.mapped.Add(-int64(n)) }
}

// GlobalStats aggregates pool and allocator counters.
func (m *Manager) GlobalStats() (GlobalStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return GlobalStats{}, ErrNotInitialized
	}
	gs := GlobalStats{
		Allocator:        m.allocator.Stats(),
		PoolCount:        len(m.pools),
		MappedBytes:      m.mapped.Load(),
		CorruptionEvents: m.health.violations.Load(),
		Healthy:          m.health.ok(),
		Uptime:           time.Since(m.started),
	}
	for _, p := range m.pools {
		ps := p.Stats()
		gs.Pools = append(gs.Pools, ps)
		gs.TotalAcquired += ps.AllocatedCount
		gs.TotalReleased += ps.ReleasedCount
	}
	sort.Slice(gs.Pools, func(i, j int) bool { return gs.Pools[i].Name < gs.Pools[j].Name })
	return gs, nil
}

// ForceGC trims idle pool values and cached allocator blocks, then asks the Go
// runtime to return freed memory to the OS. Values and blocks held by callers
// are never touched.
func (m *Manager) ForceGC() (GCResult, error) {
	m.mu.RLock()
	if !m.initialized {
		m.mu.RUnlock()
		return GCResult{}, ErrNotInitialized
	}
	var res GCResult
	for _, p := range m.pools {
		res.PoolObjectsDropped += p.Trim(m.cfg.PoolKeepOnGC)
	}
	res.AllocatorBytes = m.allocator.Trim()
	m.mu.RUnlock()
	debug.FreeOSMemory()
	m.log.Debug().Int("pool_objects", res.PoolObjectsDropped).Int64("allocator_bytes", res.AllocatorBytes).Msg("force gc")
	return res, nil
}

// IsMemoryHealthy is false once a double free, double release or counter
// inversion has been observed. Load never affects it.
func (m *Manager) IsMemoryHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.health == nil {
		return true
	}
	return m.health.ok()
}

// CheckHealth returns a wrapped ErrCorruptionDetected describing the most
// recent violation, or nil.
func (m *Manager) CheckHealth() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.health == nil {
		return nil
	}
	return m.health.err()
}

// Config returns the active configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// UpdateConfig applies new capacity and idle limits to the live allocator and
// to every existing pool.
func (m *Manager) UpdateConfig(cfg Config) error {
	cfg.Logger = m.cfg.Logger
	cfg = cfg.withDefaults()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	m.cfg = cfg
	m.allocator.setCapacity(cfg.AllocatorCapacity)
	for _, p := range m.pools {
		p.setMaxIdle(cfg.PoolMaxIdle)
	}
	return nil
}

// Report renders GlobalStats as a plain-text report.
func (m *Manager) Report() (string, error) {
	gs, err := m.GlobalStats()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "memory report (uptime %s)\n", gs.Uptime.Truncate(time.Millisecond))
	fmt.Fprintf(&b, "  healthy: %t (corruption events: %d)\n", gs.Healthy, gs.CorruptionEvents)
	a := gs.Allocator
	fmt.Fprintf(&b, "  allocator: %d allocs, %d frees, %d failed, %d rejected frees\n",
		a.AllocationCount, a.DeallocationCount, a.FailedAllocations, a.RejectedFrees)
	fmt.Fprintf(&b, "    in use %s / %s, peak %s, cached %s, fragmentation %.2f\n",
		humanBytes(a.BytesInUse), humanBytes(a.Capacity), humanBytes(a.PeakBytes), humanBytes(a.FreeListBytes), a.Fragmentation)
	fmt.Fprintf(&b, "  mapped: %s\n", humanBytes(gs.MappedBytes))
	fmt.Fprintf(&b, "  pools: %d\n", gs.PoolCount)
	for _, p := range gs.Pools {
		fmt.Fprintf(&b, "    %-32s acquired=%d released=%d constructed=%d in_use=%d idle=%d\n",
			p.Name, p.AllocatedCount, p.ReleasedCount, p.ConstructedCount, p.InUse, p.Idle)
	}
	return b.String(), nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
