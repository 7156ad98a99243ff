package plugin

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNativeLoaderRejectsGarbage(t *testing.T) {
	p := writeFile(t, t.TempDir(), "garbage.so", "definitely not an ELF object")
	l := NewNativeLoader()
	assert.True(t, l.CanLoad(p))
	assert.False(t, l.CanLoad(filepath.Join(filepath.Dir(p), "x.wasm")))

	_, err := l.Load(context.Background(), Descriptor{Path: p, Type: NativeLoaderName})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open shared object")
}

func TestNativeLoaderFailureIsIsolated(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "garbage.so", "not a shared object")
	writeFile(t, dir, "echo.plugin.yaml", "name: echo\nkind: echo\n")
	m := newTestManager(t, Options{Loaders: []Loader{NewNativeLoader()}})

	results, err := m.LoadAll(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		if filepath.Base(r.Descriptor.Path) == "garbage.so" {
			assert.True(t, IsLoadFailure(r.Err), "%v", r.Err)
			assert.Contains(t, r.Err.Error(), "open shared object")
		} else {
			assert.NoError(t, r.Err)
		}
	}
	assert.Equal(t, []string{"echo"}, m.Names())
}

func TestNativeConstructor(t *testing.T) {
	newEcho := func() Plugin { return &Echo{meta: Metadata{Name: "native-echo"}} }

	ctor, err := nativeConstructor(newEcho)
	require.NoError(t, err)
	assert.Equal(t, "native-echo", ctor().Metadata().Name)

	ctor, err = nativeConstructor(&newEcho)
	require.NoError(t, err)
	assert.Equal(t, "native-echo", ctor().Metadata().Name)

	var unset func() Plugin
	_, err = nativeConstructor(&unset)
	assert.Error(t, err)

	_, err = nativeConstructor(func() error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want func() plugin.Plugin")
}
