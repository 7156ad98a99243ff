package plugin

import (
	"context"
	"fmt"
	goplugin "plugin"
	"sync"
)

const (
	// NativeLoaderName is the name of the Go shared-object loader.
	NativeLoaderName = "native"
	// NativeSymbol is the constructor every native plugin must export:
	//
	//	func NewPlugin() plugin.Plugin
	NativeSymbol = "NewPlugin"
)

var nativeExts = []string{".so"}

// NativeLoader opens Go plugins built with -buildmode=plugin. The Go runtime
// cannot unload a shared object, so Unload only forgets the handle; loading
// the same path again reuses the already opened object.
type NativeLoader struct {
	mu     sync.Mutex
	opened map[string]*goplugin.Plugin
}

func NewNativeLoader() *NativeLoader {
	return &NativeLoader{opened: make(map[string]*goplugin.Plugin)}
}

func (l *NativeLoader) Name() string             { return NativeLoaderName }
func (l *NativeLoader) Extensions() []string     { return append([]string(nil), nativeExts...) }
func (l *NativeLoader) CanLoad(path string) bool { return hasSuffix(path, nativeExts) }

func (l *NativeLoader) Load(_ context.Context, d Descriptor) (Plugin, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	so, ok := l.opened[d.Path]
	if !ok {
		var err error
		so, err = goplugin.Open(d.Path)
		if err != nil {
			return nil, fmt.Errorf("open shared object: %w", err)
		}
		l.opened[d.Path] = so
	}
	sym, err := so.Lookup(NativeSymbol)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", NativeSymbol, err)
	}
	ctor, err := nativeConstructor(sym)
	if err != nil {
		return nil, err
	}
	p := ctor()
	if p == nil {
		return nil, fmt.Errorf("%s returned nil", NativeSymbol)
	}
	return p, nil
}

func (l *NativeLoader) Unload(p Plugin) error { return nil }

// nativeConstructor accepts the exported function itself or a variable
// holding it.
func nativeConstructor(sym goplugin.Symbol) (func() Plugin, error) {
	switch fn := sym.(type) {
	case func() Plugin:
		return fn, nil
	case *func() Plugin:
		if fn == nil || *fn == nil {
			return nil, fmt.Errorf("symbol %s is a nil function variable", NativeSymbol)
		}
		return *fn, nil
	default:
		return nil, fmt.Errorf("symbol %s has type %T, want func() plugin.Plugin", NativeSymbol, sym)
	}
}
