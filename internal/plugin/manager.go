package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"nexrt/internal/memory"
	"nexrt/internal/scheduler"
)

const defaultOpTimeout = 30 * time.Second

// Options configures a Manager. Zero values select defaults.
type Options struct {
	// Scheduler runs LoadAsync work. Without it LoadAsync loads inline.
	Scheduler *scheduler.Scheduler
	// Memory backs instance records and the plugin Context allocator.
	Memory    *memory.Manager
	Publisher EventPublisher
	Logger    zerolog.Logger

	// CoreVersion is matched against manifest min_core_version.
	CoreVersion string
	// Platform is matched against manifest platforms. Empty uses runtime.GOOS.
	Platform string

	// DataDir and TempDir are per-plugin roots; each plugin gets <root>/<name>.
	DataDir string
	TempDir string

	// Recursive makes scans descend into subdirectories.
	Recursive bool
	// AutoStart starts each plugin right after a successful Init.
	AutoStart bool
	// Loaders are registered after the default manifest loader.
	Loaders []Loader
	// Config overlays manifest config, keyed by plugin name.
	Config map[string]map[string]any

	Breaker BreakerSettings
	// OpTimeout bounds each Init, Start and Stop call. Zero selects 30s.
	OpTimeout time.Duration
}

// instance is the registry record of one loaded plugin. Records are drawn
// from an object pool and reset when the plugin is removed.
type instance struct {
	id       string
	name     string
	plugin   Plugin
	meta     Metadata
	loader   Loader
	desc     Descriptor
	status   Status
	lastErr  string
	loadedAt time.Time
	pctx     *Context
	breaker  *gobreaker.CircuitBreaker
}

func (i *instance) Reset() { *i = instance{} }

func (i *instance) info() Info {
	return Info{
		ID:           i.id,
		Name:         i.name,
		Version:      i.meta.Version,
		Path:         i.desc.Path,
		Loader:       i.loader.Name(),
		Status:       i.status,
		Healthy:      i.status != StatusError && i.plugin.Healthy(),
		Breaker:      i.breaker.State().String(),
		LastError:    i.lastErr,
		LoadedAt:     i.loadedAt,
		Capabilities: append([]string(nil), i.meta.Capabilities...),
	}
}

// Manager is the plugin registry. Structural operations (load, unload,
// reload, start, stop, shutdown) are serialized by opMu; reads and calls only
// take mu briefly and never wait on a structural operation in progress.
type Manager struct {
	opts Options
	log  zerolog.Logger
	pub  EventPublisher

	opMu sync.Mutex

	mu          sync.RWMutex
	initialized bool
	loaders     []Loader
	manifest    *ManifestLoader
	records     *memory.ObjectPool[instance]
	plugins     map[string]memory.Object[instance]
	order       []string
	started     time.Time
	teardown    error

	failedLoads      atomic.Uint64
	teardownFailures atomic.Uint64
}

// NewManager builds a Manager. Call Initialize before use.
func NewManager(opts Options) *Manager {
	if opts.Platform == "" {
		opts.Platform = runtime.GOOS
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	pub := opts.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	return &Manager{
		opts: opts,
		log:  opts.Logger.With().Str("component", "plugin").Logger(),
		pub:  pub,
	}
}

// Initialize registers the default manifest loader and any configured
// loaders. It is a no-op when already initialized.
func (m *Manager) Initialize() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}
	if m.opts.Memory != nil && m.opts.Memory.Initialized() {
		p, err := memory.GetObjectPool[instance](m.opts.Memory)
		if err != nil {
			return fmt.Errorf("instance pool: %w", err)
		}
		m.records = p
	} else {
		m.records = memory.NewObjectPool[instance](nil, 0)
	}
	m.manifest = NewManifestLoader()
	m.loaders = []Loader{m.manifest}
	for _, l := range m.opts.Loaders {
		if err := m.addLoaderLocked(l); err != nil {
			return err
		}
	}
	m.plugins = make(map[string]memory.Object[instance])
	m.order = nil
	m.teardown = nil
	m.started = time.Now()
	m.initialized = true
	m.log.Info().Strs("loaders", m.loaderNamesLocked()).Msg("plugin manager initialized")
	return nil
}

// RegisterLoader adds l to the registry. Loader names are unique.
func (m *Manager) RegisterLoader(l Loader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	return m.addLoaderLocked(l)
}

func (m *Manager) addLoaderLocked(l Loader) error {
	if l == nil {
		return fmt.Errorf("register loader: nil loader")
	}
	for _, have := range m.loaders {
		if have.Name() == l.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateLoader, l.Name())
		}
	}
	m.loaders = append(m.loaders, l)
	return nil
}

// LoaderNames lists the registered loaders in registration order.
func (m *Manager) LoaderNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaderNamesLocked()
}

func (m *Manager) loaderNamesLocked() []string {
	out := make([]string, len(m.loaders))
	for i, l := range m.loaders {
		out[i] = l.Name()
	}
	return out
}

// ManifestLoader returns the default loader so callers can register builtin
// factories.
func (m *Manager) ManifestLoader() (*ManifestLoader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	return m.manifest, nil
}

func (m *Manager) snapshotLoaders() ([]Loader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	return append([]Loader(nil), m.loaders...), nil
}

// ScanPlugins lists load candidates under dir without instantiating anything.
func (m *Manager) ScanPlugins(dir string) ([]Descriptor, error) {
	loaders, err := m.snapshotLoaders()
	if err != nil {
		return nil, err
	}
	return Scan(dir, m.opts.Recursive, loaders)
}

// Load instantiates, validates and initializes the candidate d. On failure
// nothing is registered and the returned error is a *LoadError.
func (m *Manager) Load(ctx context.Context, d Descriptor) (Info, error) {
	loaders, err := m.snapshotLoaders()
	if err != nil {
		return Info{}, err
	}
	m.pub.Publish(Event{Name: EventLoadStart, Time: time.Now(), Fields: map[string]any{"path": d.Path}})
	l, p, err := m.instantiate(ctx, d, loaders)
	if err != nil {
		return Info{}, m.loadFailed(d, l, err)
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.registerOne(ctx, d, l, p)
}

// registerOne is register for a single candidate: nothing will retry a
// missing dependency, so the plugin is disposed of on every failure.
func (m *Manager) registerOne(ctx context.Context, d Descriptor, l Loader, p Plugin) (Info, error) {
	info, err := m.register(ctx, d, l, p)
	if err != nil {
		if errors.Is(err, ErrMissingDependency) {
			m.dispose(l, p)
		}
		return Info{}, m.loadFailed(d, l, err)
	}
	return info, nil
}

// LoadAsync runs Load on the configured scheduler.
func (m *Manager) LoadAsync(ctx context.Context, d Descriptor) *scheduler.Task[Info] {
	if m.opts.Scheduler == nil {
		info, err := m.Load(ctx, d)
		return scheduler.Resolved(info, err)
	}
	return scheduler.Schedule(m.opts.Scheduler, func() (Info, error) { return m.Load(ctx, d) })
}

// LoadAll scans dir and loads every candidate. Loaders run concurrently;
// registration is serialized and retried while it makes progress so a plugin
// may depend on one that sorts after it. A failing candidate never affects
// the others: per-candidate outcomes are in the results, and the error is
// reserved for the scan itself.
func (m *Manager) LoadAll(ctx context.Context, dir string) ([]LoadResult, error) {
	descs, err := m.ScanPlugins(dir)
	if err != nil {
		return nil, err
	}
	loaders, err := m.snapshotLoaders()
	if err != nil {
		return nil, err
	}

	type built struct {
		loader Loader
		plugin Plugin
		err    error
	}
	slots := make([]built, len(descs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, d := range descs {
		m.pub.Publish(Event{Name: EventLoadStart, Time: time.Now(), Fields: map[string]any{"path": d.Path}})
		g.Go(func() error {
			l, p, err := m.instantiate(gctx, d, loaders)
			slots[i] = built{loader: l, plugin: p, err: err}
			return nil
		})
	}
	_ = g.Wait()

	results := make([]LoadResult, len(descs))
	m.opMu.Lock()
	defer m.opMu.Unlock()
	pending := make([]int, 0, len(descs))
	for i, b := range slots {
		results[i].Descriptor = descs[i]
		if b.err != nil {
			results[i].Err = m.loadFailed(descs[i], b.loader, b.err)
			continue
		}
		pending = append(pending, i)
	}
	for len(pending) > 0 {
		var retry []int
		for _, i := range pending {
			info, err := m.register(ctx, descs[i], slots[i].loader, slots[i].plugin)
			if errors.Is(err, ErrMissingDependency) {
				retry = append(retry, i)
				continue
			}
			if err != nil {
				results[i].Err = m.loadFailed(descs[i], slots[i].loader, err)
				continue
			}
			results[i].Info = info
		}
		if len(retry) == len(pending) {
			for _, i := range retry {
				err := m.checkDependencies(slots[i].plugin.Metadata())
				m.dispose(slots[i].loader, slots[i].plugin)
				results[i].Err = m.loadFailed(descs[i], slots[i].loader, err)
			}
			break
		}
		pending = retry
	}
	var loaded int
	for _, r := range results {
		if r.Err == nil {
			loaded++
		}
	}
	m.log.Info().Str("dir", dir).Int("candidates", len(descs)).Int("loaded", loaded).Msg("plugin directory loaded")
	return results, nil
}

// instantiate picks a loader for d and runs it. It touches no registry state.
func (m *Manager) instantiate(ctx context.Context, d Descriptor, loaders []Loader) (Loader, Plugin, error) {
	var l Loader
	for _, have := range loaders {
		if d.Type != "" && have.Name() == d.Type {
			l = have
			break
		}
	}
	if l == nil {
		l = loaderFor(d.Path, loaders)
	}
	if l == nil {
		return nil, nil, ErrNoLoader
	}
	var p Plugin
	err := guard("load", func() error {
		var err error
		p, err = l.Load(ctx, d)
		return err
	})
	if err != nil {
		return l, nil, err
	}
	if p == nil {
		return l, nil, fmt.Errorf("loader %s returned no plugin", l.Name())
	}
	return l, p, nil
}

// register validates and initializes p and adds it to the registry. On any
// failure other than a missing dependency p is disposed of. Callers hold opMu.
func (m *Manager) register(ctx context.Context, d Descriptor, l Loader, p Plugin) (info Info, err error) {
	meta := p.Metadata()
	name := meta.Name
	if name == "" {
		name = trimSuffixes(d.Path, l.Extensions())
	}
	defer func() {
		if err != nil && !errors.Is(err, ErrMissingDependency) {
			m.dispose(l, p)
		}
	}()

	m.mu.RLock()
	initialized := m.initialized
	_, dup := m.plugins[name]
	m.mu.RUnlock()
	if !initialized {
		return Info{}, ErrNotInitialized
	}
	if dup {
		return Info{}, fmt.Errorf("%w: %s", ErrAlreadyLoaded, name)
	}
	if err := checkCoreVersion(meta, m.opts.CoreVersion); err != nil {
		return Info{}, err
	}
	if err := checkPlatform(meta, m.opts.Platform); err != nil {
		return Info{}, err
	}
	if err := m.checkDependencies(meta); err != nil {
		return Info{}, err
	}

	pc := m.newContext(name, meta)
	if err := pc.ensureDirs(); err != nil {
		return Info{}, fmt.Errorf("plugin dirs: %w", err)
	}
	status := StatusInitialized
	if err := m.step(ctx, "init", func(c context.Context) error { return p.Init(c, pc) }); err != nil {
		return Info{}, err
	}
	if m.opts.AutoStart {
		if err := m.step(ctx, "start", p.Start); err != nil {
			return Info{}, err
		}
		status = StatusRunning
	}

	h, err := m.records.Acquire()
	if err != nil {
		return Info{}, err
	}
	rec := h.Value
	*rec = instance{
		id:       uuid.NewString(),
		name:     name,
		plugin:   p,
		meta:     meta,
		loader:   l,
		desc:     d,
		status:   status,
		loadedAt: time.Now(),
		pctx:     pc,
	}
	rec.breaker = newBreaker(name, m.opts.Breaker, func(from, to gobreaker.State) {
		m.log.Warn().Str("plugin", name).Str("from", from.String()).Str("to", to.String()).Msg("plugin breaker state changed")
		m.pub.Publish(Event{Name: EventBreakerChanged, Plugin: name, Time: time.Now(), Fields: map[string]any{"from": from.String(), "to": to.String()}})
	})

	m.mu.Lock()
	m.plugins[name] = h
	m.order = append(m.order, name)
	info = rec.info()
	m.mu.Unlock()

	m.log.Info().Str("plugin", name).Str("loader", l.Name()).Str("version", meta.Version).Str("path", d.Path).Msg("plugin loaded")
	m.pub.Publish(Event{Name: EventLoaded, Plugin: name, Time: time.Now(), Fields: map[string]any{"path": d.Path, "loader": l.Name()}})
	if status == StatusRunning {
		m.pub.Publish(Event{Name: EventStarted, Plugin: name, Time: time.Now()})
	}
	return info, nil
}

func (m *Manager) checkDependencies(meta Metadata) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, dep := range meta.Dependencies {
		name, want := parseDependency(dep)
		if name == "" {
			continue
		}
		h, ok := m.plugins[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingDependency, dep)
		}
		if want != "" && !versionCompatible(h.Value.meta.Version, want) {
			return fmt.Errorf("%w: dependency %s has version %q", ErrIncompatible, dep, h.Value.meta.Version)
		}
	}
	return nil
}

func (m *Manager) newContext(name string, meta Metadata) *Context {
	cfg := make(map[string]any, len(meta.Config))
	for k, v := range meta.Config {
		cfg[k] = v
	}
	for k, v := range m.opts.Config[name] {
		cfg[k] = v
	}
	pc := &Context{
		Name:   name,
		Logger: m.log.With().Str("plugin", name).Logger(),
		Config: cfg,
		mem:    m.opts.Memory,
		sched:  m.opts.Scheduler,
		events: m.pub,
	}
	if m.opts.DataDir != "" {
		pc.DataDir = filepath.Join(m.opts.DataDir, name)
	}
	if m.opts.TempDir != "" {
		pc.TempDir = filepath.Join(m.opts.TempDir, name)
	}
	return pc
}

// step runs one lifecycle call bounded by OpTimeout, turning panics into errors.
func (m *Manager) step(ctx context.Context, what string, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, m.opts.OpTimeout)
	defer cancel()
	if err := guard(what, func() error { return fn(c) }); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func (m *Manager) dispose(l Loader, p Plugin) {
	if p == nil {
		return
	}
	_ = guard("close", p.Close)
	if l != nil {
		_ = guard("unload", func() error { return l.Unload(p) })
	}
}

func (m *Manager) loadFailed(d Descriptor, l Loader, err error) error {
	le := &LoadError{Path: d.Path, Err: err}
	if l != nil {
		le.Loader = l.Name()
	}
	m.failedLoads.Add(1)
	m.log.Warn().Str("path", d.Path).Str("loader", le.Loader).Err(err).Msg("plugin load failed")
	m.pub.Publish(Event{Name: EventLoadFailed, Time: time.Now(), Fields: map[string]any{"path": d.Path, "error": err.Error()}})
	return le
}

// guard runs fn and converts a panic into an error.
func guard(what string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", what, r)
		}
	}()
	return fn()
}

func (m *Manager) lookup(name string) (memory.Object[instance], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return memory.Object[instance]{}, ErrNotInitialized
	}
	h, ok := m.plugins[name]
	if !ok {
		return memory.Object[instance]{}, fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	return h, nil
}

// view runs fn on the record under the read lock. Records are recycled once
// unloaded, so nothing read from rec may be used to reach it again later.
func (m *Manager) view(name string, fn func(rec *instance)) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	h, ok := m.plugins[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	fn(h.Value)
	return nil
}

func (m *Manager) setStatus(rec *instance, st Status, err error) {
	m.mu.Lock()
	rec.status = st
	if err != nil {
		rec.lastErr = err.Error()
	}
	m.mu.Unlock()
}

// Start moves an initialized or paused plugin to running.
func (m *Manager) Start(ctx context.Context, name string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	h, err := m.lookup(name)
	if err != nil {
		return err
	}
	rec := h.Value
	m.mu.RLock()
	st := rec.status
	m.mu.RUnlock()
	switch st {
	case StatusRunning:
		return nil
	case StatusInitialized, StatusPaused:
	default:
		return fmt.Errorf("%w: start from %s", ErrInvalidState, st)
	}
	if err := m.step(ctx, "start", rec.plugin.Start); err != nil {
		m.setStatus(rec, StatusError, err)
		return err
	}
	m.setStatus(rec, StatusRunning, nil)
	m.pub.Publish(Event{Name: EventStarted, Plugin: name, Time: time.Now()})
	return nil
}

// Stop pauses a running plugin. It stays loaded and can be started again.
func (m *Manager) Stop(ctx context.Context, name string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	h, err := m.lookup(name)
	if err != nil {
		return err
	}
	rec := h.Value
	m.mu.RLock()
	st := rec.status
	m.mu.RUnlock()
	if st != StatusRunning {
		return fmt.Errorf("%w: stop from %s", ErrInvalidState, st)
	}
	if err := m.step(ctx, "stop", rec.plugin.Stop); err != nil {
		m.setStatus(rec, StatusError, err)
		return err
	}
	m.setStatus(rec, StatusPaused, nil)
	m.pub.Publish(Event{Name: EventStopped, Plugin: name, Time: time.Now()})
	return nil
}

// Unload tears the plugin down and removes it from the registry. The plugin
// is removed even when teardown fails; the teardown error is returned.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	h, err := m.lookup(name)
	if err != nil {
		return err
	}
	return m.unloadLocked(ctx, name, h)
}

func (m *Manager) unloadLocked(ctx context.Context, name string, h memory.Object[instance]) error {
	rec := h.Value
	m.mu.Lock()
	wasRunning := rec.status == StatusRunning
	rec.status = StatusUnloading
	m.mu.Unlock()

	var errs error
	if wasRunning {
		errs = multierr.Append(errs, m.step(ctx, "stop", rec.plugin.Stop))
	}
	errs = multierr.Append(errs, guard("close", rec.plugin.Close))
	errs = multierr.Append(errs, guard("unload", func() error { return rec.loader.Unload(rec.plugin) }))

	m.mu.Lock()
	delete(m.plugins, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	_ = m.records.Release(h)

	if errs != nil {
		m.teardownFailures.Add(1)
		m.log.Warn().Str("plugin", name).Err(errs).Msg("plugin teardown failed")
		m.pub.Publish(Event{Name: EventTeardownFailed, Plugin: name, Time: time.Now(), Fields: map[string]any{"error": errs.Error()}})
		return fmt.Errorf("unload %s: %w", name, errs)
	}
	m.log.Info().Str("plugin", name).Msg("plugin unloaded")
	m.pub.Publish(Event{Name: EventUnloaded, Plugin: name, Time: time.Now()})
	return nil
}

// Reload unloads the plugin and loads it again from the same candidate.
func (m *Manager) Reload(ctx context.Context, name string) (Info, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	h, err := m.lookup(name)
	if err != nil {
		return Info{}, err
	}
	d := h.Value.desc
	if err := m.unloadLocked(ctx, name, h); err != nil {
		m.log.Warn().Str("plugin", name).Err(err).Msg("reload continues after teardown failure")
	}
	loaders, err := m.snapshotLoaders()
	if err != nil {
		return Info{}, err
	}
	l, p, err := m.instantiate(ctx, d, loaders)
	if err != nil {
		return Info{}, m.loadFailed(d, l, err)
	}
	return m.registerOne(ctx, d, l, p)
}

// Call invokes method on a running plugin through its circuit breaker. The
// plugin must make Call safe for concurrent use.
func (m *Manager) Call(ctx context.Context, name, method string, args map[string]any) (any, error) {
	var (
		p  Plugin
		cb *gobreaker.CircuitBreaker
		st Status
	)
	err := m.view(name, func(rec *instance) {
		p, cb, st = rec.plugin, rec.breaker, rec.status
	})
	if err != nil {
		return nil, err
	}
	if st != StatusRunning {
		return nil, fmt.Errorf("%w: call on %s plugin %s", ErrInvalidState, st, name)
	}
	out, err := cb.Execute(func() (interface{}, error) {
		var res any
		err := guard("call", func() error {
			var err error
			res, err = p.Call(ctx, method, args)
			return err
		})
		return res, err
	})
	return out, breakerErr(name, err)
}

// Broadcast publishes e and delivers it to every loaded plugin implementing
// EventHandler. A panicking handler is logged and skipped.
func (m *Manager) Broadcast(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	m.pub.Publish(e)
	m.mu.RLock()
	handlers := make(map[string]EventHandler)
	for name, h := range m.plugins {
		if eh, ok := h.Value.plugin.(EventHandler); ok && h.Value.status != StatusUnloading {
			handlers[name] = eh
		}
	}
	m.mu.RUnlock()
	for name, eh := range handlers {
		if err := guard("event", func() error { eh.HandleEvent(e); return nil }); err != nil {
			m.log.Error().Str("plugin", name).Err(err).Msg("event handler failed")
		}
	}
}

// Info returns a snapshot of one plugin.
func (m *Manager) Info(name string) (Info, error) {
	var info Info
	err := m.view(name, func(rec *instance) { info = rec.info() })
	return info, err
}

// List returns every loaded plugin in load order.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.plugins[name].Value.info())
	}
	return out
}

// Stats returns point-in-time registry counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{
		TotalPlugins:      len(m.plugins),
		RegisteredLoaders: len(m.loaders),
		FailedLoads:       m.failedLoads.Load(),
		TeardownFailures:  m.teardownFailures.Load(),
		StartTime:         m.started,
		ByStatus:          make(map[string]int),
	}
	for _, h := range m.plugins {
		if h.Value.status == StatusRunning {
			st.RunningPlugins++
		}
		st.ByStatus[h.Value.status.String()]++
	}
	return st
}

// Initialized reports whether the manager is between Initialize and Shutdown.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// LastTeardownErrors returns the teardown failures collected by the most
// recent Shutdown.
func (m *Manager) LastTeardownErrors() []error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return multierr.Errors(m.teardown)
}

// Shutdown tears every plugin down in reverse load order, then closes loaders
// implementing io.Closer. Teardown failures are logged and kept for
// LastTeardownErrors; they never stop the remaining plugins from shutting
// down and are not returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.RLock()
	if !m.initialized {
		m.mu.RUnlock()
		return nil
	}
	order := append([]string(nil), m.order...)
	m.mu.RUnlock()

	var errs error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		h, err := m.lookup(name)
		if err != nil {
			continue
		}
		errs = multierr.Append(errs, m.unloadLocked(ctx, name, h))
	}
	m.mu.Lock()
	for _, l := range m.loaders {
		if c, ok := l.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("close loader %s: %w", l.Name(), err))
			}
		}
	}
	m.loaders = nil
	m.manifest = nil
	m.plugins = nil
	m.order = nil
	m.teardown = errs
	m.initialized = false
	m.mu.Unlock()

	if n := len(multierr.Errors(errs)); n > 0 {
		m.log.Warn().Int("failures", n).Err(errs).Msg("plugin manager shut down with teardown failures")
	} else {
		m.log.Info().Int("plugins", len(order)).Msg("plugin manager shut down")
	}
	return nil
}

// Names lists the loaded plugins in load order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}
