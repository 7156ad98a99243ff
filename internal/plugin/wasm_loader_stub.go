//go:build !(cgo && (linux || darwin))

package plugin

import (
	"context"
	"fmt"

	"nexrt/internal/memory"
)

// WasmLoader is unavailable without cgo on linux or darwin. It still claims
// .wasm files so scans report them, and every load fails with
// ErrLoaderUnavailable.
type WasmLoader struct{}

func NewWasmLoader(*memory.Manager) *WasmLoader { return &WasmLoader{} }

func (l *WasmLoader) Name() string             { return WasmLoaderName }
func (l *WasmLoader) Extensions() []string     { return append([]string(nil), wasmExts...) }
func (l *WasmLoader) CanLoad(path string) bool { return hasSuffix(path, wasmExts) }

func (l *WasmLoader) Load(context.Context, Descriptor) (Plugin, error) {
	return nil, fmt.Errorf("%w: wasm", ErrLoaderUnavailable)
}

func (l *WasmLoader) Unload(Plugin) error { return nil }
