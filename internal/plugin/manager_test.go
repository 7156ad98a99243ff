package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexrt/internal/memory"
	"nexrt/internal/scheduler"
)

func TestManagerInitialState(t *testing.T) {
	m := newTestManager(t, Options{})
	st := m.Stats()
	assert.GreaterOrEqual(t, st.RegisteredLoaders, 1)
	assert.Equal(t, 0, st.TotalPlugins)
	assert.Contains(t, m.LoaderNames(), ManifestLoaderName)

	got, err := m.ScanPlugins(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestManagerNotInitialized(t *testing.T) {
	m := NewManager(Options{})
	_, err := m.ScanPlugins(t.TempDir())
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = m.Load(context.Background(), Descriptor{Path: "x.plugin.yaml"})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, m.RegisterLoader(NewNativeLoader()), ErrNotInitialized)
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManagerRegisterLoader(t *testing.T) {
	m := newTestManager(t, Options{Loaders: []Loader{NewNativeLoader()}})
	assert.Equal(t, []string{ManifestLoaderName, NativeLoaderName}, m.LoaderNames())
	require.NoError(t, m.RegisterLoader(NewWasmLoader(nil)))
	assert.ErrorIs(t, m.RegisterLoader(NewWasmLoader(nil)), ErrDuplicateLoader)
	assert.Equal(t, 3, m.Stats().RegisteredLoaders)
}

func TestManagerLifecycle(t *testing.T) {
	dir := t.TempDir()
	pub := NewMemoryPublisher()
	m := newTestManager(t, Options{Publisher: pub, DataDir: filepath.Join(dir, "data")})
	p := writeFile(t, dir, "greeter.plugin.yaml", "name: greeter\nkind: echo\nversion: 1.0.0\nconfig:\n  prefix: hey\n")
	ctx := context.Background()

	info, err := m.Load(ctx, Descriptor{Path: p})
	require.NoError(t, err)
	assert.Equal(t, "greeter", info.Name)
	assert.Equal(t, StatusInitialized, info.Status)
	assert.Equal(t, ManifestLoaderName, info.Loader)
	assert.NotEmpty(t, info.ID)
	assert.DirExists(t, filepath.Join(dir, "data", "greeter"))

	_, err = m.Call(ctx, "greeter", "echo", nil)
	assert.ErrorIs(t, err, ErrInvalidState, "calls require a running plugin")

	require.NoError(t, m.Start(ctx, "greeter"))
	out, err := m.Call(ctx, "greeter", "echo", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "prefix": "hey"}, out)
	assert.Equal(t, 1, m.Stats().RunningPlugins)

	require.NoError(t, m.Stop(ctx, "greeter"))
	got, err := m.Info("greeter")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, got.Status)
	assert.ErrorIs(t, m.Stop(ctx, "greeter"), ErrInvalidState)
	require.NoError(t, m.Start(ctx, "greeter"))

	require.NoError(t, m.Unload(ctx, "greeter"))
	assert.Equal(t, 0, m.Stats().TotalPlugins)
	assert.ErrorIs(t, m.Unload(ctx, "greeter"), ErrNotLoaded)

	assert.Equal(t, []string{EventLoadStart, EventLoaded, EventStarted, EventStopped, EventStarted, EventUnloaded}, pub.Names())
}

func TestManagerPartialFailureIsolation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.plugin.yaml", "kind: echo\n")
	writeFile(t, dir, "broken.plugin.yaml", "kind: [\n")
	writeFile(t, dir, "unknown.plugin.yaml", "kind: mystery\n")
	writeFile(t, dir, "initfail.plugin.yaml", "kind: echo\nconfig:\n  fail_init: nope\n")
	writeFile(t, dir, "wrongos.plugin.yaml", "kind: echo\nplatforms: [plan9]\n")
	writeFile(t, dir, "future.plugin.yaml", "kind: echo\nmin_core_version: 9.0.0\n")

	m := newTestManager(t, Options{CoreVersion: "0.1.0", Platform: "linux"})
	results, err := m.LoadAll(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, results, 6)

	failed := map[string]error{}
	for _, r := range results {
		if r.Err != nil {
			assert.True(t, IsLoadFailure(r.Err), "%s: %v", r.Descriptor.Path, r.Err)
			failed[filepath.Base(r.Descriptor.Path)] = r.Err
		}
	}
	assert.Len(t, failed, 5)
	assert.ErrorIs(t, failed["unknown.plugin.yaml"], ErrUnknownKind)
	assert.ErrorContains(t, failed["initfail.plugin.yaml"], "init refused")
	assert.ErrorIs(t, failed["wrongos.plugin.yaml"], ErrIncompatible)
	assert.ErrorIs(t, failed["future.plugin.yaml"], ErrIncompatible)

	assert.Equal(t, []string{"good"}, m.Names())
	st := m.Stats()
	assert.Equal(t, 1, st.TotalPlugins)
	assert.EqualValues(t, 5, st.FailedLoads)
}

func TestManagerDependencies(t *testing.T) {
	dir := t.TempDir()
	// a depends on z, which sorts after it.
	writeFile(t, dir, "a.plugin.yaml", "kind: echo\nversion: 1.0.0\ndependencies: [z@1.1.0]\n")
	writeFile(t, dir, "z.plugin.yaml", "kind: echo\nversion: 1.3.0\n")
	writeFile(t, dir, "orphan.plugin.yaml", "kind: echo\ndependencies: [ghost]\n")
	writeFile(t, dir, "old.plugin.yaml", "kind: echo\ndependencies: [z@2.0.0]\n")

	m := newTestManager(t, Options{})
	results, err := m.LoadAll(context.Background(), dir)
	require.NoError(t, err)
	byName := map[string]LoadResult{}
	for _, r := range results {
		byName[filepath.Base(r.Descriptor.Path)] = r
	}
	assert.NoError(t, byName["a.plugin.yaml"].Err)
	assert.NoError(t, byName["z.plugin.yaml"].Err)
	assert.ErrorIs(t, byName["orphan.plugin.yaml"].Err, ErrMissingDependency)
	assert.ErrorIs(t, byName["old.plugin.yaml"].Err, ErrIncompatible)
	assert.Equal(t, []string{"z", "a"}, m.Names())
}

func TestManagerDuplicateName(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "one.plugin.yaml", "name: same\nkind: echo\n")
	b := writeFile(t, dir, "two.plugin.yaml", "name: same\nkind: echo\n")
	m := newTestManager(t, Options{})
	_, err := m.Load(context.Background(), Descriptor{Path: a})
	require.NoError(t, err)
	_, err = m.Load(context.Background(), Descriptor{Path: b})
	assert.ErrorIs(t, err, ErrAlreadyLoaded)
	assert.Equal(t, 1, m.Stats().TotalPlugins)
}

func TestManagerNoLoader(t *testing.T) {
	m := newTestManager(t, Options{})
	_, err := m.Load(context.Background(), Descriptor{Path: "/tmp/thing.dll"})
	assert.ErrorIs(t, err, ErrNoLoader)
	assert.True(t, IsLoadFailure(err))
}

func TestManagerShutdownCollectsTeardownErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.plugin.yaml", "kind: flaky\n")
	writeFile(t, dir, "b.plugin.yaml", "kind: flaky\nconfig:\n  fail_close: true\n")
	writeFile(t, dir, "c.plugin.yaml", "kind: flaky\n")

	pub := NewMemoryPublisher()
	m := NewManager(Options{Publisher: pub, AutoStart: true})
	require.NoError(t, m.Initialize())
	ml, err := m.ManifestLoader()
	require.NoError(t, err)
	log := &teardownLog{}
	require.NoError(t, ml.Register("flaky", flakyFactory(log)))

	results, err := m.LoadAll(context.Background(), dir)
	require.NoError(t, err)
	for _, r := range results {
		require.NoError(t, r.Err)
	}
	assert.Equal(t, 3, m.Stats().RunningPlugins)

	require.NoError(t, m.Shutdown(context.Background()), "teardown failures are not fatal")
	assert.Equal(t, []string{"c", "b", "a"}, log.list(), "every plugin is torn down, newest first")
	errs := m.LastTeardownErrors()
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "close exploded")
	assert.Contains(t, pub.Names(), EventTeardownFailed)
	assert.False(t, m.Initialized())
	assert.NoError(t, m.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestManagerBreakerOpens(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "e.plugin.yaml", "kind: echo\n")
	pub := NewMemoryPublisher()
	m := newTestManager(t, Options{Publisher: pub, AutoStart: true, Breaker: BreakerSettings{FailureThreshold: 2, Timeout: time.Hour}})
	ctx := context.Background()
	_, err := m.Load(ctx, Descriptor{Path: p})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := m.Call(ctx, "e", "fail", nil)
		require.ErrorContains(t, err, "requested failure")
	}
	_, err = m.Call(ctx, "e", "echo", nil)
	assert.ErrorIs(t, err, ErrBreakerOpen)
	info, err := m.Info("e")
	require.NoError(t, err)
	assert.Equal(t, "open", info.Breaker)
	assert.Contains(t, pub.Names(), EventBreakerChanged)
}

func TestManagerBroadcast(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "e.plugin.yaml", "kind: echo\n")
	m := newTestManager(t, Options{AutoStart: true})
	ctx := context.Background()
	_, err := m.Load(ctx, Descriptor{Path: p})
	require.NoError(t, err)
	m.Broadcast(Event{Name: "config_changed"})
	m.Broadcast(Event{Name: "config_changed"})
	n, err := m.Call(ctx, "e", "events", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestManagerReload(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "r.plugin.yaml", "kind: echo\nversion: 1.0.0\n")
	m := newTestManager(t, Options{})
	ctx := context.Background()
	first, err := m.Load(ctx, Descriptor{Path: p})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p, []byte("kind: echo\nversion: 1.1.0\n"), 0o644))
	second, err := m.Reload(ctx, "r")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "1.1.0", second.Version)
	assert.Equal(t, 1, m.Stats().TotalPlugins)
}

func TestManagerLoadAsyncOnScheduler(t *testing.T) {
	mem := memory.New(memory.Config{})
	require.NoError(t, mem.Initialize())
	t.Cleanup(func() { _ = mem.Shutdown() })
	s, err := scheduler.New(scheduler.Options{Threads: 2, Memory: mem})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	dir := t.TempDir()
	p := writeFile(t, dir, "async.plugin.yaml", "kind: echo\n")
	bad := writeFile(t, dir, "bad.plugin.yaml", "kind: mystery\n")
	m := newTestManager(t, Options{Scheduler: s, Memory: mem})

	info, err := m.LoadAsync(context.Background(), Descriptor{Path: p}).AwaitTimeout(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "async", info.Name)

	_, err = m.LoadAsync(context.Background(), Descriptor{Path: bad}).AwaitTimeout(5 * time.Second)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, bad, le.Path)

	gs, err := mem.GlobalStats()
	require.NoError(t, err)
	var found bool
	for _, ps := range gs.Pools {
		if ps.Name == "plugin.instance" {
			found = true
			assert.Equal(t, 1, ps.InUse)
		}
	}
	assert.True(t, found, "instance records come from the memory manager")
}

func TestContextAllocatesThroughMemoryManager(t *testing.T) {
	mem := memory.New(memory.Config{})
	require.NoError(t, mem.Initialize())
	t.Cleanup(func() { _ = mem.Shutdown() })
	pc := &Context{Name: "x", mem: mem, Config: map[string]any{"n": 3, "s": "v"}}
	buf := pc.Allocate(100)
	require.Len(t, buf, 100)
	require.NoError(t, pc.Free(buf))
	assert.Equal(t, 3, pc.ConfigInt("n", 0))
	assert.Equal(t, 7, pc.ConfigInt("missing", 7))
	assert.Equal(t, "v", pc.ConfigString("s", ""))

	_, err := pc.Submit(func() error { return nil }).Get()
	assert.Error(t, err, "no scheduler attached")
}
