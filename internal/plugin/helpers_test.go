package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	m := NewManager(opts)
	if err := m.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

// flaky is a builtin whose teardown can be made to fail. Stop and Close
// calls are appended to a shared log so ordering can be asserted.
type flaky struct {
	Echo
	failClose bool
	log       *teardownLog
}

type teardownLog struct {
	mu    sync.Mutex
	names []string
}

func (l *teardownLog) add(s string) {
	l.mu.Lock()
	l.names = append(l.names, s)
	l.mu.Unlock()
}

func (l *teardownLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

func (f *flaky) Close() error {
	f.log.add(f.meta.Name)
	if f.failClose {
		return errors.New("close exploded")
	}
	return nil
}

func flakyFactory(log *teardownLog) Factory {
	return func(meta Metadata) (Plugin, error) {
		fail, _ := meta.Config["fail_close"].(bool)
		return &flaky{Echo: Echo{meta: meta}, failClose: fail, log: log}, nil
	}
}
