package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"nexrt/internal/config"
	"nexrt/internal/core"
	"nexrt/internal/httpapi"
)

// writePlugins creates manifest files in a fresh directory. files maps file
// name to contents.
func writePlugins(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

// newServerForDir starts a runtime that auto-loads and starts pluginsDir and
// serves its admin API from an httptest server.
func newServerForDir(t *testing.T, pluginsDir string, tweak func(*config.Config)) (*httptest.Server, *core.Runtime) {
	t.Helper()
	cfg := config.Default()
	cfg.Scheduler.Threads = 4
	cfg.Plugins.Dir = pluginsDir
	cfg.Plugins.DataDir = t.TempDir()
	cfg.Plugins.AutoLoad = true
	cfg.Plugins.AutoStart = true
	if tweak != nil {
		tweak(&cfg)
	}
	rt, err := core.New(cfg, core.Options{})
	require.NoError(t, err)
	require.NoError(t, rt.Initialize(context.Background()))
	srv := httptest.NewServer(httpapi.NewMux(rt, rt.Events()))
	t.Cleanup(func() {
		srv.Close()
		_ = rt.Shutdown(context.Background())
	})
	return srv, rt
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
