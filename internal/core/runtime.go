package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"nexrt/internal/common/fsutil"
	"nexrt/internal/config"
	"nexrt/internal/httpapi"
	"nexrt/internal/memory"
	"nexrt/internal/platform"
	"nexrt/internal/plugin"
	"nexrt/internal/scheduler"
)

// Version is the core version plugins are checked against. Overridden at
// build time with -ldflags "-X nexrt/internal/core.Version=...".
var Version = "1.0.0"

var ErrAlreadyInitialized = errors.New("core: runtime already initialized")

// Options carries collaborators that do not come from the config file.
type Options struct {
	Logger zerolog.Logger
	// Publisher also receives plugin events, next to the admin event hub.
	Publisher plugin.EventPublisher
	// Loaders are registered after the builtin ones.
	Loaders []plugin.Loader
	// Platform overrides the platform factory, mostly for tests.
	Platform *platform.Factory
}

// Runtime owns every subsystem.
type Runtime struct {
	cfg  config.Config
	opts Options
	log  zerolog.Logger

	mem     *memory.Manager
	factory *platform.Factory

	// lifecycle serializes Initialize and Shutdown; mu guards the fields
	// below and is never held across subsystem calls.
	lifecycle   sync.Mutex
	mu          sync.RWMutex
	initialized bool
	started     time.Time
	hub         *httpapi.EventHub
	adapter     platform.Adapter
	sched       *scheduler.Manager
	plugins     *plugin.Manager
	admin       *httpapi.Server
}

// New validates cfg and builds an uninitialized Runtime.
func New(cfg config.Config, opts Options) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log := opts.Logger.With().Str("component", "core").Logger()
	factory := opts.Platform
	if factory == nil {
		factory = platform.NewFactory(platform.FactoryOptions{Logger: opts.Logger})
	}
	return &Runtime{
		cfg:     cfg,
		opts:    opts,
		log:     log,
		factory: factory,
		hub:     httpapi.NewEventHub(),
		mem: memory.New(memory.Config{
			AllocatorCapacity: cfg.Memory.AllocatorCapacity,
			PoolMaxIdle:       cfg.Memory.PoolMaxIdle,
			Logger:            opts.Logger,
		}),
	}, nil
}

// Initialize brings the subsystems up in dependency order. On failure the
// subsystems already started are shut down again.
func (r *Runtime) Initialize(ctx context.Context) (err error) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.Initialized() {
		return ErrAlreadyInitialized
	}
	var undo []func(context.Context) error
	defer func() {
		if err == nil {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			if uerr := undo[i](context.Background()); uerr != nil {
				r.log.Warn().Err(uerr).Msg("rollback after failed initialize")
			}
		}
	}()

	if err := r.mem.Initialize(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	undo = append(undo, func(context.Context) error { return r.mem.Shutdown() })

	rec := r.factory.RecommendedConfig()
	adapter, perr := r.factory.CreateAdapter()
	if perr != nil {
		// Platform queries are optional for the rest of the runtime.
		r.log.Warn().Err(perr).Msg("no platform adapter")
	}
	r.mu.Lock()
	r.adapter = adapter
	r.mu.Unlock()

	threads := r.cfg.Scheduler.Threads
	if threads == 0 {
		threads = rec.SchedulerThreads
	}
	sched := scheduler.NewManager(scheduler.ManagerConfig{
		DefaultThreads:   threads,
		ConcurrencyLimit: r.cfg.Scheduler.ConcurrencyLimit,
		Memory:           r.mem,
		Logger:           r.opts.Logger,
	})
	if err := sched.Initialize(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	undo = append(undo, sched.ShutdownAll)
	def, err := sched.Default()
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	pm, err := r.newPluginManager(def, adapter)
	if err != nil {
		return err
	}
	undo = append(undo, pm.Shutdown)

	r.mu.Lock()
	r.sched, r.plugins = sched, pm
	r.started = time.Now()
	r.initialized = true
	r.mu.Unlock()
	undo = append(undo, func(context.Context) error {
		r.mu.Lock()
		r.initialized = false
		r.mu.Unlock()
		return nil
	})

	if r.cfg.Plugins.AutoLoad && r.cfg.Plugins.Dir != "" {
		r.autoLoad(ctx, pm)
	}
	if r.cfg.Admin.Enabled {
		if err := r.startAdmin(def); err != nil {
			return err
		}
	}
	r.log.Info().
		Str("version", Version).
		Str("platform", r.factory.Detect().String()).
		Int("threads", threads).
		Strs("loaders", pm.LoaderNames()).
		Msg("runtime initialized")
	return nil
}

func (r *Runtime) newPluginManager(def *scheduler.Scheduler, adapter platform.Adapter) (*plugin.Manager, error) {
	hub := r.Events()
	var pub plugin.EventPublisher = hub
	if r.opts.Publisher != nil {
		pub = plugin.FanOut{hub, r.opts.Publisher}
	}
	dataDir := r.cfg.Plugins.DataDir
	if dataDir == "" && adapter != nil {
		if dir, err := adapter.ConfigDir(); err == nil {
			dataDir = filepath.Join(dir, "data")
		}
	}
	tempRoot := os.TempDir()
	if adapter != nil {
		tempRoot = adapter.TempDir()
	}
	loaders := []plugin.Loader{plugin.NewNativeLoader(), plugin.NewWasmLoader(r.mem)}
	loaders = append(loaders, r.opts.Loaders...)
	pm := plugin.NewManager(plugin.Options{
		Scheduler:   def,
		Memory:      r.mem,
		Publisher:   pub,
		Logger:      r.opts.Logger,
		CoreVersion: Version,
		DataDir:     dataDir,
		TempDir:     filepath.Join(tempRoot, "nexrt-plugins"),
		Recursive:   r.cfg.Plugins.Recursive,
		AutoStart:   r.cfg.Plugins.AutoStart,
		Loaders:     loaders,
		Config:      r.cfg.Plugins.Settings,
		OpTimeout:   r.cfg.Plugins.OpTimeout.Std(),
	})
	if err := pm.Initialize(); err != nil {
		return nil, fmt.Errorf("plugins: %w", err)
	}
	ml, err := pm.ManifestLoader()
	if err != nil {
		return nil, fmt.Errorf("plugins: %w", err)
	}
	if err := ml.Register(PlatformKind, platformFactory(r.factory, adapter)); err != nil {
		return nil, fmt.Errorf("plugins: %w", err)
	}
	return pm, nil
}

// autoLoad loads the configured plugin directory. A missing directory and
// per-plugin failures are logged; neither fails initialization.
func (r *Runtime) autoLoad(ctx context.Context, pm *plugin.Manager) {
	dir, err := fsutil.ExpandHome(r.cfg.Plugins.Dir)
	if err != nil {
		r.log.Warn().Err(err).Msg("plugins dir")
		return
	}
	results, err := pm.LoadAll(ctx, dir)
	if err != nil {
		r.log.Warn().Err(err).Str("dir", dir).Msg("plugin auto-load skipped")
		return
	}
	var loaded int
	for _, res := range results {
		if res.Err == nil {
			loaded++
		}
	}
	r.log.Info().Str("dir", dir).Int("loaded", loaded).Int("candidates", len(results)).Msg("plugins auto-loaded")
}

func (r *Runtime) startAdmin(def *scheduler.Scheduler) error {
	if len(r.cfg.Admin.CORSOrigins) > 0 {
		httpapi.SetCORSOptions(true, r.cfg.Admin.CORSOrigins, []string{"GET", "POST", "OPTIONS"}, []string{"Content-Type", "X-Log-Level"})
	}
	httpapi.SetLogger(r.opts.Logger)
	httpapi.SetCallTimeout(r.cfg.Plugins.OpTimeout.Std())
	httpapi.SetMaxBodyBytes(r.cfg.Admin.MaxBodyBytes)
	srv := httpapi.NewServer(httpapi.ServerOptions{Addr: r.cfg.Admin.Addr, Logger: r.opts.Logger}, httpapi.NewMux(r, r.Events()))
	if _, err := srv.Start(def).Await(context.Background()); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	r.mu.Lock()
	r.admin = srv
	r.mu.Unlock()
	return nil
}

// Shutdown stops the admin server and the subsystems in reverse order. Every
// step runs even when an earlier one fails; the errors are combined.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return nil
	}
	r.initialized = false
	admin, plugins, sched := r.admin, r.plugins, r.sched
	r.admin = nil
	r.mu.Unlock()

	var errs error
	r.mu.Lock()
	hub := r.hub
	r.hub = httpapi.NewEventHub()
	r.mu.Unlock()
	hub.Close()
	if admin != nil {
		_, err := admin.Stop(nil).Get()
		errs = multierr.Append(errs, err)
	}
	errs = multierr.Append(errs, plugins.Shutdown(ctx))
	if terrs := plugins.LastTeardownErrors(); len(terrs) > 0 {
		r.log.Warn().Int("count", len(terrs)).Msg("plugin teardown failures during shutdown")
	}
	errs = multierr.Append(errs, sched.ShutdownAll(ctx))
	errs = multierr.Append(errs, r.mem.Shutdown())
	if errs != nil {
		r.log.Error().Err(errs).Msg("runtime shut down with errors")
		return errs
	}
	r.log.Info().Dur("uptime", time.Since(r.started)).Msg("runtime shut down")
	return nil
}

// Initialized reports whether the runtime is between Initialize and Shutdown.
func (r *Runtime) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// Healthy is false before Initialize, after Shutdown and whenever the
// memory manager has detected corruption.
func (r *Runtime) Healthy() bool {
	r.mu.RLock()
	initialized, pm := r.initialized, r.plugins
	r.mu.RUnlock()
	return initialized && r.mem.IsMemoryHealthy() && pm.Initialized()
}

func (r *Runtime) Memory() *memory.Manager { return r.mem }

func (r *Runtime) Platform() *platform.Factory { return r.factory }

// Adapter returns the platform adapter, or nil when the platform is
// unsupported or the runtime is not initialized.
func (r *Runtime) Adapter() platform.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapter
}

// Schedulers returns the scheduler manager, or nil before Initialize.
func (r *Runtime) Schedulers() *scheduler.Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sched
}

// Plugins returns the plugin manager, or nil before Initialize.
func (r *Runtime) Plugins() *plugin.Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plugins
}

// Events returns the hub that receives plugin events. Shutdown closes it and
// installs a fresh one for the next Initialize.
func (r *Runtime) Events() *httpapi.EventHub {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hub
}

// AdminAddr returns the bound admin address, or "" when disabled.
func (r *Runtime) AdminAddr() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.admin == nil {
		return ""
	}
	return r.admin.Addr()
}
