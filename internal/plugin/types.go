package plugin

import (
	"context"
	"time"
)

// Status is the lifecycle state of a loaded plugin.
type Status int

const (
	StatusUnknown Status = iota
	StatusLoaded
	StatusInitialized
	StatusRunning
	StatusPaused
	StatusError
	StatusUnloading
)

func (s Status) String() string {
	switch s {
	case StatusLoaded:
		return "loaded"
	case StatusInitialized:
		return "initialized"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusError:
		return "error"
	case StatusUnloading:
		return "unloading"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name in JSON and YAML output.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Metadata describes a plugin. Manifest files decode straight into it.
type Metadata struct {
	Name           string         `json:"name" yaml:"name" toml:"name"`
	DisplayName    string         `json:"display_name,omitempty" yaml:"display_name" toml:"display_name"`
	Description    string         `json:"description,omitempty" yaml:"description" toml:"description"`
	Version        string         `json:"version,omitempty" yaml:"version" toml:"version"`
	Author         string         `json:"author,omitempty" yaml:"author" toml:"author"`
	License        string         `json:"license,omitempty" yaml:"license" toml:"license"`
	Kind           string         `json:"kind,omitempty" yaml:"kind" toml:"kind"`
	MinCoreVersion string         `json:"min_core_version,omitempty" yaml:"min_core_version" toml:"min_core_version"`
	Platforms      []string       `json:"platforms,omitempty" yaml:"platforms" toml:"platforms"`
	Dependencies   []string       `json:"dependencies,omitempty" yaml:"dependencies" toml:"dependencies"`
	Capabilities   []string       `json:"capabilities,omitempty" yaml:"capabilities" toml:"capabilities"`
	Config         map[string]any `json:"config,omitempty" yaml:"config" toml:"config"`

	Path     string    `json:"path,omitempty" yaml:"-" toml:"-"`
	FileSize int64     `json:"file_size,omitempty" yaml:"-" toml:"-"`
	ModTime  time.Time `json:"last_modified,omitempty" yaml:"-" toml:"-"`
}

// Plugin is implemented by every loadable module. The manager drives the
// lifecycle Init -> Start <-> Stop -> Close; Call may be invoked concurrently
// and implementations must guard their own state.
type Plugin interface {
	Metadata() Metadata
	Init(ctx context.Context, pc *Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Close() error
	Call(ctx context.Context, method string, args map[string]any) (any, error)
	Healthy() bool
}

// EventHandler is optionally implemented by plugins that receive broadcasts.
type EventHandler interface {
	HandleEvent(Event)
}

// Descriptor is a discovered, not yet loaded candidate.
type Descriptor struct {
	Path    string    `json:"path"`
	Type    string    `json:"type"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Info is a snapshot of a loaded plugin.
type Info struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Version      string    `json:"version,omitempty"`
	Path         string    `json:"path"`
	Loader       string    `json:"loader"`
	Status       Status    `json:"status"`
	Healthy      bool      `json:"healthy"`
	Breaker      string    `json:"breaker"`
	LastError    string    `json:"last_error,omitempty"`
	LoadedAt     time.Time `json:"loaded_at"`
	Capabilities []string  `json:"capabilities,omitempty"`
}

// LoadResult is the outcome for one candidate of LoadAll.
type LoadResult struct {
	Descriptor Descriptor `json:"descriptor"`
	Info       Info       `json:"info"`
	Err        error      `json:"-"`
}

// Stats is a snapshot of the manager.
type Stats struct {
	TotalPlugins      int            `json:"total_plugins"`
	RunningPlugins    int            `json:"running_plugins"`
	RegisteredLoaders int            `json:"registered_loaders"`
	FailedLoads       uint64         `json:"failed_loads"`
	TeardownFailures  uint64         `json:"teardown_failures"`
	StartTime         time.Time      `json:"start_time"`
	ByStatus          map[string]int `json:"plugins_by_status"`
}
