package plugin

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestScanEmptyDirectory(t *testing.T) {
	got, err := Scan(t.TempDir(), false, []Loader{NewManifestLoader()})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("want empty non-nil list, got %#v", got)
	}
}

func TestScanMissingDirectory(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "nope"), false, []Loader{NewManifestLoader()})
	if !errors.Is(err, ErrDirectoryNotFound) {
		t.Fatalf("want ErrDirectoryNotFound, got %v", err)
	}
}

func TestScanFileIsNotDirectory(t *testing.T) {
	p := writeFile(t, t.TempDir(), "a.plugin.yaml", "kind: echo\n")
	if _, err := Scan(p, false, []Loader{NewManifestLoader()}); !errors.Is(err, ErrDirectoryNotFound) {
		t.Fatalf("want ErrDirectoryNotFound, got %v", err)
	}
}

func TestScanMatchesLoaders(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.plugin.yaml", "kind: echo\n")
	writeFile(t, dir, "b.PLUGIN.JSON", `{"kind":"echo"}`)
	writeFile(t, dir, "c.wasm", "\x00asm")
	writeFile(t, dir, "d.so", "")
	writeFile(t, dir, "README.md", "ignored")
	writeFile(t, dir, ".hidden.plugin.yaml", "kind: echo\n")
	writeFile(t, dir, "nested/e.plugin.toml", "kind = \"echo\"\n")

	loaders := []Loader{NewManifestLoader(), NewNativeLoader(), NewWasmLoader(nil)}
	flat, err := Scan(dir, false, loaders)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	types := map[string]string{}
	for _, d := range flat {
		types[filepath.Base(d.Path)] = d.Type
	}
	want := map[string]string{
		"a.plugin.yaml": ManifestLoaderName,
		"b.PLUGIN.JSON": ManifestLoaderName,
		"c.wasm":        WasmLoaderName,
		"d.so":          NativeLoaderName,
	}
	if len(types) != len(want) {
		t.Fatalf("flat scan = %v, want %v", types, want)
	}
	for k, v := range want {
		if types[k] != v {
			t.Fatalf("%s: loader %q, want %q", k, types[k], v)
		}
	}

	deep, err := Scan(dir, true, loaders)
	if err != nil {
		t.Fatalf("recursive scan: %v", err)
	}
	if len(deep) != len(want)+1 {
		t.Fatalf("recursive scan found %d candidates, want %d", len(deep), len(want)+1)
	}
	for _, d := range deep {
		if d.Size < 0 || d.ModTime.IsZero() {
			t.Fatalf("descriptor missing stat info: %+v", d)
		}
	}
}
