package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Default and by zero fields after Load.
const (
	DefaultAllocatorCapacity = 64 << 20
	DefaultPoolMaxIdle       = 1000
	DefaultPluginsDir        = "~/.config/nexrt/plugins"
	DefaultAdminAddr         = "127.0.0.1:7070"
	DefaultOpTimeout         = 30 * time.Second
	DefaultShutdownTimeout   = 15 * time.Second
)

// Config holds runtime parameters. Sections mirror the subsystems.
type Config struct {
	Log       LogConfig       `json:"log" yaml:"log" toml:"log"`
	Memory    MemoryConfig    `json:"memory" yaml:"memory" toml:"memory"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler" toml:"scheduler"`
	Plugins   PluginsConfig   `json:"plugins" yaml:"plugins" toml:"plugins"`
	Admin     AdminConfig     `json:"admin" yaml:"admin" toml:"admin"`
	// ShutdownTimeout bounds the whole runtime shutdown.
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

type MemoryConfig struct {
	AllocatorCapacity int64 `json:"allocator_capacity" yaml:"allocator_capacity" toml:"allocator_capacity"`
	PoolMaxIdle       int   `json:"pool_max_idle" yaml:"pool_max_idle" toml:"pool_max_idle"`
}

type SchedulerConfig struct {
	// Threads sizes the default scheduler; 0 follows the platform recommendation.
	Threads          int `json:"threads" yaml:"threads" toml:"threads"`
	ConcurrencyLimit int `json:"concurrency_limit" yaml:"concurrency_limit" toml:"concurrency_limit"`
}

type PluginsConfig struct {
	Dir       string `json:"dir" yaml:"dir" toml:"dir"`
	DataDir   string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	Recursive bool   `json:"recursive" yaml:"recursive" toml:"recursive"`
	AutoLoad  bool   `json:"auto_load" yaml:"auto_load" toml:"auto_load"`
	AutoStart bool   `json:"auto_start" yaml:"auto_start" toml:"auto_start"`
	// OpTimeout bounds each plugin lifecycle step.
	OpTimeout Duration `json:"op_timeout" yaml:"op_timeout" toml:"op_timeout"`
	// Settings is per-plugin configuration keyed by plugin name.
	Settings map[string]map[string]any `json:"settings" yaml:"settings" toml:"settings"`
}

type AdminConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr        string   `json:"addr" yaml:"addr" toml:"addr"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	// MaxBodyBytes caps admin request bodies. Zero keeps the 1 MiB default.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// Duration accepts "1m30s" strings or integer seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) set(s string) error {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalText(b []byte) error { return d.set(string(b)) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid duration %s", b)
	}
	return d.set(s)
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error { return d.set(n.Value) }

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log:    LogConfig{Level: "info", Format: "console"},
		Memory: MemoryConfig{AllocatorCapacity: DefaultAllocatorCapacity, PoolMaxIdle: DefaultPoolMaxIdle},
		Plugins: PluginsConfig{
			Dir:       DefaultPluginsDir,
			OpTimeout: Duration(DefaultOpTimeout),
		},
		Admin:           AdminConfig{Addr: DefaultAdminAddr},
		ShutdownTimeout: Duration(DefaultShutdownTimeout),
	}
}

// Load reads a configuration file based on its extension and layers it over
// Default. Supports: .yaml/.yml, .json, .toml. An empty path yields Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from NEXRT_* variables. getenv is usually
// os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	str("NEXRT_LOG_LEVEL", &c.Log.Level)
	str("NEXRT_LOG_FORMAT", &c.Log.Format)
	if v := getenv("NEXRT_ALLOCATOR_CAPACITY"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("NEXRT_ALLOCATOR_CAPACITY: %w", err))
		} else {
			c.Memory.AllocatorCapacity = n
		}
	}
	num("NEXRT_POOL_MAX_IDLE", &c.Memory.PoolMaxIdle)
	num("NEXRT_SCHEDULER_THREADS", &c.Scheduler.Threads)
	str("NEXRT_PLUGINS_DIR", &c.Plugins.Dir)
	flag("NEXRT_PLUGINS_AUTOLOAD", &c.Plugins.AutoLoad)
	flag("NEXRT_ADMIN_ENABLED", &c.Admin.Enabled)
	str("NEXRT_ADMIN_ADDR", &c.Admin.Addr)
	return multierr.Combine(errs...)
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: want console or json, got %q", c.Log.Format))
	}
	if c.Memory.AllocatorCapacity < 0 {
		errs = append(errs, errors.New("memory.allocator_capacity must not be negative"))
	}
	if c.Memory.PoolMaxIdle < 0 {
		errs = append(errs, errors.New("memory.pool_max_idle must not be negative"))
	}
	if c.Scheduler.Threads < 0 {
		errs = append(errs, errors.New("scheduler.threads must not be negative"))
	}
	if c.Scheduler.ConcurrencyLimit < 0 {
		errs = append(errs, errors.New("scheduler.concurrency_limit must not be negative"))
	}
	if c.Plugins.OpTimeout < 0 {
		errs = append(errs, errors.New("plugins.op_timeout must not be negative"))
	}
	if c.Admin.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("admin.max_body_bytes must not be negative"))
	}
	if c.Admin.Enabled && strings.TrimSpace(c.Admin.Addr) == "" {
		errs = append(errs, errors.New("admin.addr is required when admin is enabled"))
	}
	return multierr.Combine(errs...)
}
