package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexrt/pkg/types"
)

// findFreePort picks an available TCP port on localhost.
func findFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func projectRoot(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	require.True(t, ok, "runtime.Caller failed")
	// <root>/cmd/nexrt/blackbox_test.go
	return filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
}

func buildBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("builds the binary")
	}
	bin := filepath.Join(t.TempDir(), "nexrt")
	cmd := exec.Command("go", "build", "-o", bin, "./cmd/nexrt")
	cmd.Dir = projectRoot(t)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "go build: %s", out)
	return bin
}

type serverProc struct {
	cmd  *exec.Cmd
	base string
}

// startServer writes a config that auto-loads pluginsDir and runs
// "nexrt serve" until /readyz answers 200.
func startServer(t *testing.T, bin, pluginsDir string, port int) *serverProc {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "nexrt.yaml")
	cfg := fmt.Sprintf(`log:
  level: debug
  format: json
scheduler:
  threads: 2
plugins:
  dir: %q
  data_dir: %q
  auto_load: true
  auto_start: true
admin:
  enabled: true
  addr: "127.0.0.1:%d"
shutdown_timeout: 5s
`, pluginsDir, t.TempDir(), port)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	cmd := exec.Command(bin, "serve", "--config", cfgPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(base + "/readyz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not become ready in time")
		}
		time.Sleep(50 * time.Millisecond)
	}
	return &serverProc{cmd: cmd, base: base}
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func postJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func TestBlackbox_Flow(t *testing.T) {
	bin := buildBinary(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "echo.plugin.yaml"), []byte("name: echo\nkind: echo\nversion: 1.2.0\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "host.plugin.toml"), []byte("name = \"host\"\nkind = \"platform\"\n"), 0o644))
	sp := startServer(t, bin, dir, findFreePort(t))

	resp, body := get(t, sp.base+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = get(t, sp.base+"/v1/plugins")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	var plugins types.PluginsResponse
	require.NoError(t, json.Unmarshal(body, &plugins))
	assert.Len(t, plugins.Plugins, 2)

	resp, body = postJSON(t, sp.base+"/v1/plugins/echo/call", []byte(`{"method":"echo","args":{"n":1}}`))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var call types.CallResponse
	require.NoError(t, json.Unmarshal(body, &call))
	assert.Equal(t, map[string]any{"n": float64(1)}, call.Result)

	resp, body = postJSON(t, sp.base+"/v1/plugins/host/call", []byte(`{"method":"features"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "multi_threading")

	resp, body = postJSON(t, sp.base+"/v1/plugins/missing/call", []byte(`{"method":"echo"}`))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, string(body))

	resp, body = get(t, sp.base+"/v1/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var stats types.StatsResponse
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.True(t, stats.Healthy)
	assert.Equal(t, 2, stats.Scheduler.TotalThreads)
	assert.Equal(t, 2, stats.Plugins.RunningPlugins)

	resp, body = get(t, sp.base+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "nexrt_scheduler_threads"))
}

func TestBlackbox_GracefulShutdown(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no SIGTERM on windows")
	}
	bin := buildBinary(t)
	sp := startServer(t, bin, t.TempDir(), findFreePort(t))

	require.NoError(t, sp.cmd.Process.Signal(syscall.SIGTERM))
	done := make(chan error, 1)
	go func() { done <- sp.cmd.Wait() }()
	select {
	case err := <-done:
		assert.NoError(t, err, "serve should exit cleanly on SIGTERM")
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not exit after SIGTERM")
	}
}

func TestBlackbox_VersionAndUsage(t *testing.T) {
	bin := buildBinary(t)
	out, err := exec.Command(bin, "version").Output()
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(string(out)))

	err = exec.Command(bin).Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.ExitCode())
}
