package types

// MemoryStats summarizes the memory manager.
type MemoryStats struct {
	PoolCount         int     `json:"pool_count"`
	TotalAcquired     uint64  `json:"total_acquired"`
	TotalReleased     uint64  `json:"total_released"`
	AllocationCount   uint64  `json:"allocation_count"`
	DeallocationCount uint64  `json:"deallocation_count"`
	FailedAllocations uint64  `json:"failed_allocations"`
	BytesInUse        int64   `json:"bytes_in_use"`
	PeakBytes         int64   `json:"peak_bytes"`
	Capacity          int64   `json:"capacity"`
	Fragmentation     float64 `json:"fragmentation_ratio"`
	MappedBytes       int64   `json:"mapped_bytes"`
	CorruptionEvents  uint64  `json:"corruption_events"`
	Healthy           bool    `json:"healthy"`
}

// SchedulerStats summarizes every scheduler.
type SchedulerStats struct {
	Schedulers   []string `json:"schedulers"`
	TotalThreads int      `json:"total_threads"`
	QueueDepth   int      `json:"queue_depth"`
	Completed    uint64   `json:"completed"`
	Failed       uint64   `json:"failed"`
}

// PluginStats summarizes the plugin registry.
type PluginStats struct {
	TotalPlugins      int            `json:"total_plugins"`
	RunningPlugins    int            `json:"running_plugins"`
	RegisteredLoaders int            `json:"registered_loaders"`
	FailedLoads       uint64         `json:"failed_loads"`
	TeardownFailures  uint64         `json:"teardown_failures"`
	ByStatus          map[string]int `json:"plugins_by_status,omitempty"`
}

// PluginSummary describes one loaded plugin.
type PluginSummary struct {
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
	Loader    string `json:"loader"`
	Status    string `json:"status"`
	Healthy   bool   `json:"healthy"`
	Breaker   string `json:"breaker"`
	LastError string `json:"last_error,omitempty"`
}
