package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"/opt/plugins", "/opt/plugins"},
		{"relative/dir", "relative/dir"},
		{"~", home},
		{"~/plugins", filepath.Join(home, "plugins")},
		{"~/a/b", filepath.Join(home, "a", "b")},
	}
	for _, tc := range cases {
		got, err := ExpandHome(tc.in)
		if err != nil {
			t.Fatalf("ExpandHome(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPathExists(t *testing.T) {
	dir := t.TempDir()
	if !PathExists(dir) {
		t.Fatalf("%s should exist", dir)
	}
	if PathExists(filepath.Join(dir, "nope")) {
		t.Fatal("missing path reported as existing")
	}
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	mk := func(rel string) {
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mk("b.txt")
	mk("a.txt")
	mk(".hidden.txt")
	mk("sub/c.txt")
	mk(".git/d.txt")

	flat, err := ListFiles(dir, false, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt")}
	if len(flat) != 2 || flat[0] != want[0] || flat[1] != want[1] {
		t.Fatalf("flat listing = %v, want %v", flat, want)
	}

	deep, err := ListFiles(dir, true, func(p string) bool { return filepath.Base(p) != "b.txt" })
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(deep) != 2 || deep[1] != filepath.Join(dir, "sub", "c.txt") {
		t.Fatalf("recursive listing = %v", deep)
	}

	empty := t.TempDir()
	got, err := ListFiles(empty, true, nil)
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("empty dir: got %v err=%v", got, err)
	}
	if _, err := ListFiles(filepath.Join(dir, "missing"), false, nil); err == nil {
		t.Fatal("expected error for missing dir")
	}
	if !IsDir(dir) || IsDir(filepath.Join(dir, "a.txt")) {
		t.Fatal("IsDir mismatch")
	}
}
