package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"nexrt/internal/memory"
	"nexrt/internal/scheduler"
)

// Context is handed to a plugin at Init. It scopes logging, configuration,
// scratch directories and access to the runtime's allocator and scheduler.
type Context struct {
	Name    string
	Logger  zerolog.Logger
	Config  map[string]any
	DataDir string
	TempDir string

	mem    *memory.Manager
	sched  *scheduler.Scheduler
	events EventPublisher
}

// Allocate returns size bytes from the runtime allocator, or nil.
func (c *Context) Allocate(size int) []byte {
	if c.mem == nil {
		return nil
	}
	a, err := c.mem.Allocator()
	if err != nil {
		return nil
	}
	return a.Allocate(size)
}

// Free returns a buffer obtained from Allocate.
func (c *Context) Free(buf []byte) error {
	if c.mem == nil {
		return memory.ErrNotInitialized
	}
	a, err := c.mem.Allocator()
	if err != nil {
		return err
	}
	return a.Deallocate(buf)
}

// Submit runs fn on the runtime scheduler.
func (c *Context) Submit(fn func() error) *scheduler.Task[struct{}] {
	if c.sched == nil {
		return scheduler.Resolved(struct{}{}, errors.New("plugin context has no scheduler"))
	}
	return c.sched.Go(fn)
}

// Publish emits an event attributed to the plugin.
func (c *Context) Publish(name string, fields map[string]any) {
	if c.events == nil {
		return
	}
	c.events.Publish(Event{Name: name, Plugin: c.Name, Time: time.Now(), Fields: fields})
}

// ConfigString returns a string config value or def.
func (c *Context) ConfigString(key, def string) string {
	if v, ok := c.Config[key].(string); ok {
		return v
	}
	return def
}

// ConfigInt returns a numeric config value or def. Decoders differ in the
// numeric type they produce, so all common ones are accepted.
func (c *Context) ConfigInt(key string, def int) int {
	switch v := c.Config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case uint64:
		return int(v)
	}
	return def
}

// ensureDirs creates the plugin's data and temp directories.
func (c *Context) ensureDirs() error {
	for _, d := range []string{c.DataDir, c.TempDir} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Clean(d), 0o755); err != nil {
			return err
		}
	}
	return nil
}
