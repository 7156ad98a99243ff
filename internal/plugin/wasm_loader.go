//go:build cgo && (linux || darwin)

package plugin

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/wasmerio/wasmer-go/wasmer"

	"nexrt/internal/memory"
)

// WasmLoader instantiates WebAssembly modules with wasmer. Exported functions
// become Call methods; optional exports "init", "start" and "stop" are invoked
// on the matching lifecycle step.
type WasmLoader struct {
	engine *wasmer.Engine
	mem    *memory.Manager
}

// NewWasmLoader builds a loader. When mem is set, module bytes are mapped
// through it instead of being read onto the heap.
func NewWasmLoader(mem *memory.Manager) *WasmLoader {
	return &WasmLoader{engine: wasmer.NewEngine(), mem: mem}
}

func (l *WasmLoader) Name() string             { return WasmLoaderName }
func (l *WasmLoader) Extensions() []string     { return append([]string(nil), wasmExts...) }
func (l *WasmLoader) CanLoad(path string) bool { return hasSuffix(path, wasmExts) }

func (l *WasmLoader) Load(_ context.Context, d Descriptor) (Plugin, error) {
	code, release, err := l.read(d.Path)
	if err != nil {
		return nil, err
	}
	defer release()

	store := wasmer.NewStore(l.engine)
	module, err := wasmer.NewModule(store, code)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}
	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	if err != nil {
		return nil, fmt.Errorf("instantiate module: %w", err)
	}
	wp := &wasmPlugin{
		meta:     Metadata{Name: trimSuffixes(d.Path, wasmExts), Kind: WasmLoaderName, Path: d.Path, FileSize: d.Size, ModTime: d.ModTime},
		instance: instance,
		params:   make(map[string][]wasmer.ValueKind),
	}
	for _, exp := range module.Exports() {
		ft := exp.Type().IntoFunctionType()
		if ft == nil {
			continue
		}
		kinds := make([]wasmer.ValueKind, 0, len(ft.Params()))
		for _, p := range ft.Params() {
			kinds = append(kinds, p.Kind())
		}
		wp.params[exp.Name()] = kinds
		wp.meta.Capabilities = append(wp.meta.Capabilities, exp.Name())
	}
	sort.Strings(wp.meta.Capabilities)
	return wp, nil
}

func (l *WasmLoader) read(path string) ([]byte, func(), error) {
	if l.mem != nil && l.mem.Initialized() {
		mp, err := l.mem.MapFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("map module: %w", err)
		}
		return mp.Bytes(), func() { _ = mp.Close() }, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return b, func() {}, nil
}

func (l *WasmLoader) Unload(p Plugin) error {
	if wp, ok := p.(*wasmPlugin); ok {
		wp.mu.Lock()
		wp.instance = nil
		wp.mu.Unlock()
	}
	return nil
}

// wasmPlugin serializes calls: a wasmer instance is not safe for concurrent use.
type wasmPlugin struct {
	meta     Metadata
	params   map[string][]wasmer.ValueKind
	mu       sync.Mutex
	instance *wasmer.Instance
}

func (p *wasmPlugin) Metadata() Metadata { return p.meta }

func (p *wasmPlugin) Init(context.Context, *Context) error { return p.hook("init") }
func (p *wasmPlugin) Start(context.Context) error          { return p.hook("start") }
func (p *wasmPlugin) Stop(context.Context) error           { return p.hook("stop") }
func (p *wasmPlugin) Close() error                         { return nil }

func (p *wasmPlugin) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.instance != nil
}

func (p *wasmPlugin) hook(name string) error {
	if _, ok := p.params[name]; !ok {
		return nil
	}
	_, err := p.Call(context.Background(), name, nil)
	return err
}

// Call invokes the exported function named method. Positional arguments are
// read from args["args"] and converted to the export's parameter types.
func (p *wasmPlugin) Call(_ context.Context, method string, args map[string]any) (any, error) {
	kinds, ok := p.params[method]
	if !ok {
		return nil, fmt.Errorf("wasm: no exported function %q", method)
	}
	raw, _ := args["args"].([]any)
	if len(raw) != len(kinds) {
		return nil, fmt.Errorf("wasm: %s takes %d arguments, got %d", method, len(kinds), len(raw))
	}
	in := make([]any, len(raw))
	for i, v := range raw {
		c, err := convertWasmArg(v, kinds[i])
		if err != nil {
			return nil, fmt.Errorf("wasm: %s argument %d: %w", method, i, err)
		}
		in[i] = c
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.instance == nil {
		return nil, fmt.Errorf("wasm: %s: instance released", p.meta.Name)
	}
	fn, err := p.instance.Exports.GetFunction(method)
	if err != nil {
		return nil, err
	}
	return fn(in...)
}

func convertWasmArg(v any, kind wasmer.ValueKind) (any, error) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
	switch kind {
	case wasmer.I32:
		return int32(f), nil
	case wasmer.I64:
		return int64(f), nil
	case wasmer.F32:
		return float32(f), nil
	case wasmer.F64:
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported parameter kind %v", kind)
	}
}
