package types

import "time"

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	Error string `json:"error"`
	// HTTP status code.
	Code int `json:"code"`
}

// HealthResponse is returned by /readyz.
type HealthResponse struct {
	// Status is "ready", "degraded" or "starting".
	Status string `json:"status"`
	// Healthy is false when any subsystem reports a broken invariant.
	Healthy bool `json:"healthy"`
	// Subsystems maps memory, scheduler, plugins and platform to their state.
	Subsystems map[string]bool `json:"subsystems"`
}

// StatsResponse is the runtime snapshot served at /v1/stats.
type StatsResponse struct {
	Healthy   bool           `json:"healthy"`
	StartedAt time.Time      `json:"started_at"`
	Uptime    string         `json:"uptime"`
	Memory    MemoryStats    `json:"memory"`
	Scheduler SchedulerStats `json:"scheduler"`
	Plugins   PluginStats    `json:"plugins"`
}

// PluginsResponse lists loaded plugins and the registered loaders.
type PluginsResponse struct {
	Plugins []PluginSummary `json:"plugins"`
	Loaders []string        `json:"loaders"`
}

// CallRequest is the body of POST /v1/plugins/{name}/call.
type CallRequest struct {
	// Method is the plugin method to invoke.
	Method string `json:"method"`
	// Args are passed to the plugin unchanged.
	Args map[string]any `json:"args,omitempty"`
}

// CallResponse carries a plugin call result.
type CallResponse struct {
	Plugin string `json:"plugin"`
	Method string `json:"method"`
	Result any    `json:"result"`
}

// PlatformResponse describes the host at /v1/platform.
type PlatformResponse struct {
	Type          string   `json:"type"`
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	KernelVersion string   `json:"kernel_version,omitempty"`
	Architecture  string   `json:"architecture"`
	CPUModel      string   `json:"cpu_model,omitempty"`
	CPUCores      int      `json:"cpu_cores"`
	CPUThreads    int      `json:"cpu_threads"`
	MemoryGB      float64  `json:"memory_gb"`
	Features      []string `json:"features"`
	Containerized bool     `json:"containerized"`
	Virtualized   bool     `json:"virtualized"`
	HasGPU        bool     `json:"has_gpu"`
	Compatible    bool     `json:"compatible"`
	Warnings      []string `json:"warnings,omitempty"`
}
