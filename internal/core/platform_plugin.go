package core

import (
	"context"
	"fmt"

	"nexrt/internal/platform"
	"nexrt/internal/plugin"
)

// PlatformKind is the manifest kind that exposes the platform adapter to
// plugin callers.
const PlatformKind = "platform"

// platformPlugin answers host queries through the runtime's adapter.
type platformPlugin struct {
	meta    plugin.Metadata
	factory *platform.Factory
	adapter platform.Adapter
}

func platformFactory(f *platform.Factory, a platform.Adapter) plugin.Factory {
	return func(meta plugin.Metadata) (plugin.Plugin, error) {
		return &platformPlugin{meta: meta, factory: f, adapter: a}, nil
	}
}

func (p *platformPlugin) Metadata() plugin.Metadata { return p.meta }

func (p *platformPlugin) Init(context.Context, *plugin.Context) error {
	if p.adapter == nil {
		return platform.ErrUnsupportedPlatform
	}
	return nil
}

func (p *platformPlugin) Start(context.Context) error { return nil }
func (p *platformPlugin) Stop(context.Context) error  { return nil }
func (p *platformPlugin) Close() error                { return nil }
func (p *platformPlugin) Healthy() bool               { return p.adapter != nil }

func (p *platformPlugin) Call(ctx context.Context, method string, args map[string]any) (any, error) {
	switch method {
	case "system_info":
		return p.adapter.SystemInfo(ctx)
	case "processes":
		return p.adapter.Processes(ctx)
	case "find_process":
		name, _ := args["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("platform: find_process needs a name")
		}
		return p.adapter.FindProcesses(ctx, name)
	case "interfaces":
		return p.adapter.NetworkInterfaces(ctx)
	case "gpus":
		return p.adapter.GPUs(ctx)
	case "features":
		return p.factory.Features().Names(), nil
	case "compatibility":
		return p.factory.CheckCompatibility(ctx), nil
	default:
		return nil, fmt.Errorf("platform: unknown method %q", method)
	}
}
