package platform

import (
	"context"
	"io/fs"
)

// Adapter is the OS-specific query surface. Every method reads live state.
type Adapter interface {
	Platform() Type

	SystemInfo(ctx context.Context) (SystemInfo, error)

	// Processes lists every visible process, including the caller.
	Processes(ctx context.Context) ([]ProcessInfo, error)
	// Process looks up pid; ok is false when it does not exist.
	Process(ctx context.Context, pid int) (p ProcessInfo, ok bool, err error)
	// FindProcesses returns processes whose name or executable base name
	// contains name. Matching is case-sensitive.
	FindProcesses(ctx context.Context, name string) ([]ProcessInfo, error)
	KillProcess(pid int, signal int) error
	StartProcess(ctx context.Context, command string, args []string, dir string) (ProcessInfo, error)

	TempDir() string
	HomeDir() (string, error)
	// ConfigDir is the runtime's config directory. It may not exist yet.
	ConfigDir() (string, error)
	LibraryDir() string
	IsExecutable(path string) bool
	FilePermissions(path string) (fs.FileMode, error)
	SetFilePermissions(path string, mode fs.FileMode) error

	NetworkInterfaces(ctx context.Context) ([]NetworkInterface, error)
	LocalIPAddresses() ([]string, error)
	// IsPortAvailable probes by binding. Port 0 is always available.
	IsPortAvailable(port int, protocol string) bool

	CUDAAvailable() bool
	OpenCLAvailable() bool
	GPUs(ctx context.Context) ([]GPUInfo, error)
	// CPUTemperature returns degrees Celsius; ok is false when unknown.
	CPUTemperature() (celsius float64, ok bool)

	Getenv(name string) (string, bool)
	Setenv(name, value string) error
}
