package platform

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/klauspost/cpuid/v2"
	sysmem "github.com/pbnjay/memory"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	minAllocatorCapacity = 64 << 20
	maxAllocatorCapacity = 1 << 30
	defaultPoolMaxIdle   = 1000
)

// AdapterFactory builds an adapter for one OS family.
type AdapterFactory func(log zerolog.Logger) (Adapter, error)

// FactoryOptions configures a Factory.
type FactoryOptions struct {
	Logger zerolog.Logger
}

// Factory detects the platform and builds adapters. Detection results are
// computed once; adapter queries are never cached.
type Factory struct {
	log zerolog.Logger

	mu        sync.RWMutex
	factories map[Type]AdapterFactory

	featOnce sync.Once
	features Feature
}

// NewFactory returns a Factory with the native adapter registered for the
// OS this binary was built for.
func NewFactory(opts FactoryOptions) *Factory {
	f := &Factory{
		log:       opts.Logger.With().Str("component", "platform").Logger(),
		factories: make(map[Type]AdapterFactory),
	}
	if nativeType != TypeUnknown {
		f.factories[nativeType] = newNativeAdapter
	}
	return f
}

// Detect returns the OS family of the running process.
func (f *Factory) Detect() Type { return detectType(runtime.GOOS) }

func detectType(goos string) Type {
	switch goos {
	case "linux", "android":
		return TypeLinux
	case "windows":
		return TypeWindows
	case "darwin":
		return TypeMacOS
	default:
		return TypeUnknown
	}
}

// PlatformName returns the display name of t.
func (f *Factory) PlatformName(t Type) string {
	switch t {
	case TypeLinux:
		return "Linux"
	case TypeWindows:
		return "Windows"
	case TypeMacOS:
		return "macOS"
	default:
		return "Unknown"
	}
}

// RegisterAdapterFactory installs or replaces the factory for t.
func (f *Factory) RegisterAdapterFactory(t Type, fn AdapterFactory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fn == nil {
		delete(f.factories, t)
		return
	}
	f.factories[t] = fn
}

// SupportedPlatforms lists the families an adapter can be built for.
func (f *Factory) SupportedPlatforms() []Type {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []Type
	for _, t := range []Type{TypeLinux, TypeWindows, TypeMacOS} {
		if _, ok := f.factories[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// CreateAdapter builds an adapter for the detected platform.
func (f *Factory) CreateAdapter() (Adapter, error) { return f.CreateAdapterFor(f.Detect()) }

// CreateAdapterFor builds an adapter for t.
func (f *Factory) CreateAdapterFor(t Type) (Adapter, error) {
	f.mu.RLock()
	fn, ok := f.factories[t]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, t)
	}
	a, err := fn(f.log)
	if err != nil {
		return nil, fmt.Errorf("create %s adapter: %w", t, err)
	}
	return a, nil
}

// Features returns the detected capability set.
func (f *Factory) Features() Feature {
	f.featOnce.Do(func() {
		feat := detectFeatures()
		if f.Detect() != TypeUnknown {
			feat |= FeatureBaseline
		}
		if ct, _ := containerType(); ct != "" {
			feat |= FeatureContainer
		}
		if cpuid.CPU.Supports(cpuid.HYPERVISOR) {
			feat |= FeatureVirtualization
		}
		f.features = feat
		f.log.Debug().Str("features", feat.String()).Msg("platform features detected")
	})
	return f.features
}

// Supports reports whether every flag in feat is available.
func (f *Factory) Supports(feat Feature) bool { return f.Features().Has(feat) }

// Info describes the platform. OS version and GPU probes run concurrently.
func (f *Factory) Info(ctx context.Context) (Info, error) {
	t := f.Detect()
	info := Info{
		Type:         t,
		Name:         f.PlatformName(t),
		Architecture: runtime.GOARCH,
		CPUModel:     strings.TrimSpace(cpuid.CPU.BrandName),
		CPUVendor:    cpuid.CPU.VendorString,
		CPUThreads:   runtime.NumCPU(),
		CPUCores:     cpuid.CPU.PhysicalCores,
		MemoryGB:     float64(sysmem.TotalMemory()) / (1 << 30),
		Features:     f.Features(),
	}
	if info.CPUCores <= 0 || info.CPUCores > info.CPUThreads {
		info.CPUCores = info.CPUThreads
	}
	if info.CPUModel == "" {
		info.CPUModel = "unknown"
	}
	info.ContainerType, info.IsContainerized = containerType()
	if cpuid.CPU.Supports(cpuid.HYPERVISOR) {
		info.IsVirtualized = true
		info.Hypervisor = hypervisorName()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info.Version, info.KernelVersion = osVersion()
		return nil
	})
	g.Go(func() error {
		a, err := f.CreateAdapterFor(t)
		if err != nil {
			return nil
		}
		gpus, err := a.GPUs(gctx)
		if err != nil {
			f.log.Debug().Err(err).Msg("gpu probe failed")
			return nil
		}
		info.HasGPU = len(gpus) > 0
		return nil
	})
	if err := g.Wait(); err != nil {
		return info, err
	}
	if info.Version == "" {
		info.Version = "unknown"
	}
	if info.HasGPU {
		info.Features |= FeatureGPUCompute
	}
	if t == TypeUnknown {
		return info, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, runtime.GOOS)
	}
	return info, ctx.Err()
}

// RecommendedConfig sizes the runtime for this host: one scheduler thread per
// logical CPU and an allocator capacity of 1/16 of RAM within [64 MiB, 1 GiB].
func (f *Factory) RecommendedConfig() RecommendedConfig {
	rc := RecommendedConfig{
		SchedulerThreads: runtime.NumCPU(),
		PoolMaxIdle:      defaultPoolMaxIdle,
		IOModel:          "poll",
	}
	capacity := int64(sysmem.TotalMemory() / 16)
	switch {
	case capacity < minAllocatorCapacity:
		capacity = minAllocatorCapacity
	case capacity > maxAllocatorCapacity:
		capacity = maxAllocatorCapacity
	}
	rc.AllocatorCapacity = capacity
	feat := f.Features()
	switch {
	case feat.Has(FeatureEpoll):
		rc.IOModel = "epoll"
	case feat.Has(FeatureIOCP):
		rc.IOModel = "iocp"
	case feat.Has(FeatureKqueue):
		rc.IOModel = "kqueue"
	}
	rc.UseGPU = feat.Has(FeatureGPUCompute)
	return rc
}

func hypervisorName() string {
	v := cpuid.CPU.HypervisorVendorString
	if v == "" {
		return "unknown"
	}
	return v
}
