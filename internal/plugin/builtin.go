package plugin

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// EchoKind is the manifest kind of the Echo plugin.
const EchoKind = "echo"

// Echo is a minimal builtin plugin. "echo" returns its arguments, "count"
// returns how many calls were served and "events" how many broadcasts were
// received. It doubles as a reference implementation of Plugin.
type Echo struct {
	meta    Metadata
	calls   atomic.Int64
	events  atomic.Int64
	mu      sync.Mutex
	running bool
	prefix  string
}

// NewEcho is the Factory for EchoKind.
func NewEcho(meta Metadata) (Plugin, error) { return &Echo{meta: meta}, nil }

func (e *Echo) Metadata() Metadata { return e.meta }

func (e *Echo) Init(_ context.Context, pc *Context) error {
	if pc.ConfigString("fail_init", "") != "" {
		return fmt.Errorf("init refused: %s", pc.ConfigString("fail_init", ""))
	}
	e.prefix = pc.ConfigString("prefix", "")
	return nil
}

func (e *Echo) Start(context.Context) error {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	return nil
}

func (e *Echo) Stop(context.Context) error {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	return nil
}

func (e *Echo) Close() error { return nil }

func (e *Echo) Call(_ context.Context, method string, args map[string]any) (any, error) {
	e.calls.Add(1)
	switch method {
	case "echo":
		if e.prefix == "" {
			return args, nil
		}
		out := make(map[string]any, len(args)+1)
		for k, v := range args {
			out[k] = v
		}
		out["prefix"] = e.prefix
		return out, nil
	case "count":
		return e.calls.Load(), nil
	case "events":
		return e.events.Load(), nil
	case "fail":
		return nil, fmt.Errorf("echo: requested failure")
	default:
		return nil, fmt.Errorf("echo: unknown method %q", method)
	}
}

func (e *Echo) HandleEvent(Event) { e.events.Add(1) }

func (e *Echo) Healthy() bool { return true }
