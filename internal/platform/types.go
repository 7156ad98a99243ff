package platform

import (
	"math/bits"
	"time"
)

// Type is an OS family.
type Type int

const (
	TypeUnknown Type = iota
	TypeLinux
	TypeWindows
	TypeMacOS
)

func (t Type) String() string {
	switch t {
	case TypeLinux:
		return "linux"
	case TypeWindows:
		return "windows"
	case TypeMacOS:
		return "macos"
	default:
		return "unknown"
	}
}

// MarshalText renders the family name in JSON output.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Feature is a set of capability flags.
type Feature uint32

const (
	FeatureMultiThreading Feature = 1 << iota
	FeatureMemoryMapping
	FeatureNetworkSupport
	FeatureGPUCompute
	FeatureEpoll
	FeatureNUMA
	FeatureSystemd
	FeaturePerfEvents
	FeatureIOCP
	FeatureETW
	FeatureWMI
	FeatureGCD
	FeatureMetal
	FeatureKqueue
	FeatureContainer
	FeatureVirtualization

	// FeatureBaseline is reported on every supported platform.
	FeatureBaseline = FeatureMultiThreading | FeatureMemoryMapping | FeatureNetworkSupport
)

var featureNames = [...]string{
	"multi_threading", "memory_mapping", "network_support", "gpu_compute",
	"epoll", "numa", "systemd", "perf_events",
	"iocp", "etw", "wmi", "gcd", "metal", "kqueue",
	"container", "virtualization",
}

// Has reports whether every flag in x is set.
func (f Feature) Has(x Feature) bool { return f&x == x }

// Names lists the set flags in declaration order.
func (f Feature) Names() []string {
	out := make([]string, 0, bits.OnesCount32(uint32(f)))
	for i, n := range featureNames {
		if f&(1<<i) != 0 {
			out = append(out, n)
		}
	}
	return out
}

func (f Feature) String() string {
	names := f.Names()
	if len(names) == 0 {
		return "none"
	}
	s := names[0]
	for _, n := range names[1:] {
		s += "|" + n
	}
	return s
}

// MarshalText renders the set as its flag names.
func (f Feature) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// Info describes the running platform.
type Info struct {
	Type            Type    `json:"type"`
	Name            string  `json:"name"`
	Version         string  `json:"version"`
	KernelVersion   string  `json:"kernel_version,omitempty"`
	Architecture    string  `json:"architecture"`
	CPUModel        string  `json:"cpu_model,omitempty"`
	CPUVendor       string  `json:"cpu_vendor,omitempty"`
	CPUCores        int     `json:"cpu_cores"`
	CPUThreads      int     `json:"cpu_threads"`
	MemoryGB        float64 `json:"memory_gb"`
	Features        Feature `json:"features"`
	HasGPU          bool    `json:"has_gpu"`
	IsContainerized bool    `json:"is_containerized"`
	ContainerType   string  `json:"container_type,omitempty"`
	IsVirtualized   bool    `json:"is_virtualized"`
	Hypervisor      string  `json:"hypervisor,omitempty"`
}

// CompatibilityResult reports whether the host meets the minimum baseline.
type CompatibilityResult struct {
	Supported        bool     `json:"supported"`
	Platform         Type     `json:"platform"`
	Version          string   `json:"version"`
	MinimumVersion   string   `json:"minimum_version"`
	RequiredFeatures []string `json:"required_features"`
	MissingFeatures  []string `json:"missing_features,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
}

// RecommendedConfig sizes the runtime for the host.
type RecommendedConfig struct {
	SchedulerThreads  int    `json:"scheduler_threads"`
	AllocatorCapacity int64  `json:"allocator_capacity"`
	PoolMaxIdle       int    `json:"pool_max_idle"`
	IOModel           string `json:"io_model"`
	UseGPU            bool   `json:"use_gpu"`
}

// SystemInfo is a snapshot of host resources.
type SystemInfo struct {
	Hostname        string        `json:"hostname"`
	OSName          string        `json:"os_name"`
	OSVersion       string        `json:"os_version"`
	Architecture    string        `json:"architecture"`
	CPUModel        string        `json:"cpu_model,omitempty"`
	CPUCores        int           `json:"cpu_cores"`
	CPUThreads      int           `json:"cpu_threads"`
	CPUUsage        float64       `json:"cpu_usage"`
	MemoryTotal     uint64        `json:"memory_total"`
	MemoryAvailable uint64        `json:"memory_available"`
	DiskTotal       uint64        `json:"disk_total"`
	DiskAvailable   uint64        `json:"disk_available"`
	LoadAverage     [3]float64    `json:"load_average"`
	Uptime          time.Duration `json:"uptime_ns"`
	ProcessUptime   time.Duration `json:"process_uptime_ns"`
}

// MemoryUsage is the used fraction of physical memory in percent.
func (s SystemInfo) MemoryUsage() float64 { return usedPercent(s.MemoryTotal, s.MemoryAvailable) }

// DiskUsage is the used fraction of the root filesystem in percent.
func (s SystemInfo) DiskUsage() float64 { return usedPercent(s.DiskTotal, s.DiskAvailable) }

func usedPercent(total, avail uint64) float64 {
	if total == 0 || avail > total {
		return 0
	}
	return float64(total-avail) / float64(total) * 100
}

// ProcessInfo describes one process.
type ProcessInfo struct {
	PID         int       `json:"pid"`
	ParentPID   int       `json:"parent_pid"`
	Name        string    `json:"name"`
	Executable  string    `json:"executable,omitempty"`
	CommandLine string    `json:"command_line,omitempty"`
	Status      string    `json:"status,omitempty"`
	CPUTime     float64   `json:"cpu_time_seconds"`
	MemoryRSS   uint64    `json:"memory_rss"`
	StartTime   time.Time `json:"start_time,omitempty"`
}

// NetworkInterface describes one interface. Counters are zero where the OS
// does not expose them.
type NetworkInterface struct {
	Name            string   `json:"name"`
	Addresses       []string `json:"addresses"`
	MACAddress      string   `json:"mac_address,omitempty"`
	MTU             int      `json:"mtu"`
	IsUp            bool     `json:"is_up"`
	IsLoopback      bool     `json:"is_loopback"`
	BytesSent       uint64   `json:"bytes_sent"`
	BytesReceived   uint64   `json:"bytes_received"`
	PacketsSent     uint64   `json:"packets_sent"`
	PacketsReceived uint64   `json:"packets_received"`
}

// GPUInfo describes one GPU. MemoryUsed never exceeds MemoryTotal.
type GPUInfo struct {
	Name            string  `json:"name"`
	Vendor          string  `json:"vendor"`
	DriverVersion   string  `json:"driver_version,omitempty"`
	MemoryTotalMB   uint64  `json:"memory_total_mb"`
	MemoryUsedMB    uint64  `json:"memory_used_mb"`
	Temperature     float64 `json:"temperature"`
	Utilization     float64 `json:"utilization"`
	CUDASupported   bool    `json:"cuda_supported"`
	OpenCLSupported bool    `json:"opencl_supported"`
}
