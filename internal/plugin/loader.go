package plugin

import (
	"context"
	"path/filepath"
	"strings"
)

// Loader turns a Descriptor into a Plugin. The manager owns registered
// loaders; a loader that also implements io.Closer is closed on shutdown.
type Loader interface {
	// Name is the discriminator recorded in Descriptor.Type.
	Name() string
	// Extensions lists the file suffixes the loader claims, lower case.
	Extensions() []string
	CanLoad(path string) bool
	Load(ctx context.Context, d Descriptor) (Plugin, error)
	Unload(p Plugin) error
}

// hasSuffix matches path against the loader's suffixes, ignoring case.
func hasSuffix(path string, exts []string) bool {
	base := strings.ToLower(filepath.Base(path))
	for _, e := range exts {
		if strings.HasSuffix(base, e) && len(base) > len(e) {
			return true
		}
	}
	return false
}

// trimSuffixes strips the first matching suffix from the file's base name.
func trimSuffixes(path string, exts []string) string {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	for _, e := range exts {
		if strings.HasSuffix(lower, e) {
			return base[:len(base)-len(e)]
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// WasmLoaderName is the name of the WebAssembly loader.
const WasmLoaderName = "wasm"

var wasmExts = []string{".wasm"}
