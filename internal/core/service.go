package core

import (
	"context"
	"time"

	"nexrt/internal/plugin"
	"nexrt/pkg/types"
)

// Ready implements httpapi.Service.
func (r *Runtime) Ready() bool { return r.Healthy() }

// Health reports per-subsystem health.
func (r *Runtime) Health() types.HealthResponse {
	r.mu.RLock()
	initialized, sched, pm := r.initialized, r.sched, r.plugins
	r.mu.RUnlock()
	subs := map[string]bool{
		"memory":    r.mem.IsMemoryHealthy(),
		"platform":  r.Adapter() != nil,
		"scheduler": false,
		"plugins":   false,
	}
	if initialized {
		if _, err := sched.Default(); err == nil {
			subs["scheduler"] = true
		}
		subs["plugins"] = pm.Initialized()
	}
	healthy := initialized && subs["memory"] && subs["scheduler"] && subs["plugins"]
	status := "ok"
	if !healthy {
		status = "degraded"
	}
	return types.HealthResponse{Status: status, Healthy: healthy, Subsystems: subs}
}

// Snapshot gathers statistics from every subsystem. Subsystems that are not
// up contribute zero values.
func (r *Runtime) Snapshot() types.StatsResponse {
	r.mu.RLock()
	initialized, started := r.initialized, r.started
	sched, plugins := r.sched, r.plugins
	r.mu.RUnlock()

	out := types.StatsResponse{Healthy: r.Healthy()}
	if !initialized {
		return out
	}
	out.StartedAt = started
	out.Uptime = time.Since(started).Round(time.Millisecond).String()

	if ms, err := r.mem.GlobalStats(); err == nil {
		out.Memory = types.MemoryStats{
			PoolCount:         ms.PoolCount,
			TotalAcquired:     ms.TotalAcquired,
			TotalReleased:     ms.TotalReleased,
			AllocationCount:   ms.Allocator.AllocationCount,
			DeallocationCount: ms.Allocator.DeallocationCount,
			FailedAllocations: ms.Allocator.FailedAllocations,
			BytesInUse:        ms.Allocator.BytesInUse,
			PeakBytes:         ms.Allocator.PeakBytes,
			Capacity:          ms.Allocator.Capacity,
			Fragmentation:     ms.Allocator.Fragmentation,
			MappedBytes:       ms.MappedBytes,
			CorruptionEvents:  ms.CorruptionEvents,
			Healthy:           ms.Healthy,
		}
	}
	if ss, err := sched.GlobalStats(); err == nil {
		out.Scheduler = types.SchedulerStats{
			Schedulers:   sched.Names(),
			TotalThreads: ss.TotalThreads,
			QueueDepth:   ss.QueueDepth,
			Completed:    ss.Completed,
			Failed:       ss.Failed,
		}
	}
	ps := plugins.Stats()
	out.Plugins = types.PluginStats{
		TotalPlugins:      ps.TotalPlugins,
		RunningPlugins:    ps.RunningPlugins,
		RegisteredLoaders: ps.RegisteredLoaders,
		FailedLoads:       ps.FailedLoads,
		TeardownFailures:  ps.TeardownFailures,
		ByStatus:          ps.ByStatus,
	}
	return out
}

// PlatformInfo combines detection with the compatibility check.
func (r *Runtime) PlatformInfo(ctx context.Context) (types.PlatformResponse, error) {
	info, err := r.factory.Info(ctx)
	if err != nil {
		return types.PlatformResponse{}, err
	}
	compat := r.factory.CheckCompatibility(ctx)
	return types.PlatformResponse{
		Type:          info.Type.String(),
		Name:          info.Name,
		Version:       info.Version,
		KernelVersion: info.KernelVersion,
		Architecture:  info.Architecture,
		CPUModel:      info.CPUModel,
		CPUCores:      info.CPUCores,
		CPUThreads:    info.CPUThreads,
		MemoryGB:      info.MemoryGB,
		Features:      info.Features.Names(),
		Containerized: info.IsContainerized,
		Virtualized:   info.IsVirtualized,
		HasGPU:        info.HasGPU,
		Compatible:    compat.Supported,
		Warnings:      compat.Warnings,
	}, nil
}

// PluginList summarizes loaded plugins and the registered loaders.
func (r *Runtime) PluginList() types.PluginsResponse {
	pm := r.Plugins()
	if pm == nil {
		return types.PluginsResponse{Plugins: []types.PluginSummary{}, Loaders: []string{}}
	}
	list := pm.List()
	out := types.PluginsResponse{
		Plugins: make([]types.PluginSummary, 0, len(list)),
		Loaders: pm.LoaderNames(),
	}
	for _, in := range list {
		out.Plugins = append(out.Plugins, types.PluginSummary{
			Name:      in.Name,
			Version:   in.Version,
			Loader:    in.Loader,
			Status:    in.Status.String(),
			Healthy:   in.Healthy,
			Breaker:   in.Breaker,
			LastError: in.LastError,
		})
	}
	return out
}

// CallPlugin forwards to the plugin manager.
func (r *Runtime) CallPlugin(ctx context.Context, name, method string, args map[string]any) (any, error) {
	pm := r.Plugins()
	if pm == nil {
		return nil, plugin.ErrNotInitialized
	}
	return pm.Call(ctx, name, method, args)
}
