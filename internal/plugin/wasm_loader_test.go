//go:build cgo && (linux || darwin)

package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wasmerio/wasmer-go/wasmer"

	"nexrt/internal/memory"
)

const adderWat = `(module
  (global $started (mut i32) (i32.const 0))
  (func (export "add") (param i32 i32) (result i32)
    local.get 0
    local.get 1
    i32.add)
  (func (export "start") (global.set $started (i32.const 1)))
  (func (export "started") (result i32) (global.get $started)))`

func writeWasm(t *testing.T, dir, name string) string {
	t.Helper()
	code, err := wasmer.Wat2Wasm(adderWat)
	require.NoError(t, err)
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, code, 0o644))
	return p
}

func TestWasmLoaderCallsExports(t *testing.T) {
	mem := memory.New(memory.Config{})
	require.NoError(t, mem.Initialize())
	t.Cleanup(func() { _ = mem.Shutdown() })

	dir := t.TempDir()
	writeWasm(t, dir, "adder.wasm")
	m := newTestManager(t, Options{Memory: mem, Loaders: []Loader{NewWasmLoader(mem)}, AutoStart: true})

	results, err := m.LoadAll(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, WasmLoaderName, results[0].Info.Loader)
	assert.Contains(t, results[0].Info.Capabilities, "add")

	ctx := context.Background()
	out, err := m.Call(ctx, "adder", "add", map[string]any{"args": []any{2, 40}})
	require.NoError(t, err)
	assert.EqualValues(t, 42, out)

	started, err := m.Call(ctx, "adder", "started", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, started, "start export runs on Start")

	_, err = m.Call(ctx, "adder", "add", map[string]any{"args": []any{1}})
	assert.ErrorContains(t, err, "takes 2 arguments")
	_, err = m.Call(ctx, "adder", "missing", nil)
	assert.ErrorContains(t, err, "no exported function")

	gs, err := mem.GlobalStats()
	require.NoError(t, err)
	assert.Zero(t, gs.MappedBytes, "module mapping is released after compile")
}

func TestWasmLoaderRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "junk.wasm")
	require.NoError(t, os.WriteFile(p, []byte("not wasm"), 0o644))
	m := newTestManager(t, Options{Loaders: []Loader{NewWasmLoader(nil)}})
	_, err := m.Load(context.Background(), Descriptor{Path: p})
	require.Error(t, err)
	assert.True(t, IsLoadFailure(err))
	assert.Equal(t, 0, m.Stats().TotalPlugins)
}
