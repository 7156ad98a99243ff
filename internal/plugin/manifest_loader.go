package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ManifestLoaderName is the name of the default loader.
const ManifestLoaderName = "manifest"

// Factory builds a plugin from its manifest.
type Factory func(meta Metadata) (Plugin, error)

var manifestExts = []string{".plugin.yaml", ".plugin.yml", ".plugin.toml", ".plugin.json"}

// ManifestLoader instantiates plugins compiled into the binary. A manifest
// file names the builtin kind and carries metadata and config; the kind maps
// to a Factory registered at startup.
type ManifestLoader struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewManifestLoader returns a loader with the "echo" kind registered.
func NewManifestLoader() *ManifestLoader {
	l := &ManifestLoader{factories: make(map[string]Factory)}
	_ = l.Register(EchoKind, NewEcho)
	return l
}

// Register binds kind to f.
func (l *ManifestLoader) Register(kind string, f Factory) error {
	kind = strings.TrimSpace(kind)
	if kind == "" || f == nil {
		return fmt.Errorf("register builtin: empty kind or nil factory")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.factories[kind]; ok {
		return fmt.Errorf("register builtin %q: already registered", kind)
	}
	l.factories[kind] = f
	return nil
}

// Kinds lists the registered builtin kinds.
func (l *ManifestLoader) Kinds() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.factories))
	for k := range l.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (l *ManifestLoader) Name() string             { return ManifestLoaderName }
func (l *ManifestLoader) Extensions() []string     { return append([]string(nil), manifestExts...) }
func (l *ManifestLoader) CanLoad(path string) bool { return hasSuffix(path, manifestExts) }

// Load parses the manifest and runs the factory for its kind.
func (l *ManifestLoader) Load(_ context.Context, d Descriptor) (Plugin, error) {
	meta, err := ReadManifest(d.Path)
	if err != nil {
		return nil, err
	}
	l.mu.RLock()
	f, ok := l.factories[meta.Kind]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, meta.Kind)
	}
	return f(meta)
}

// Unload has nothing to release for builtin plugins.
func (l *ManifestLoader) Unload(Plugin) error { return nil }

// ReadManifest decodes a manifest file by extension and validates it.
func ReadManifest(path string) (Metadata, error) {
	var meta Metadata
	b, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
		err = yaml.Unmarshal(b, &meta)
	case strings.HasSuffix(lower, ".toml"):
		err = toml.Unmarshal(b, &meta)
	case strings.HasSuffix(lower, ".json"):
		err = json.Unmarshal(b, &meta)
	default:
		return meta, fmt.Errorf("unsupported manifest extension: %s", path)
	}
	if err != nil {
		return meta, fmt.Errorf("parse manifest: %w", err)
	}
	if strings.TrimSpace(meta.Name) == "" {
		meta.Name = trimSuffixes(path, manifestExts)
	}
	if meta.Kind == "" {
		return meta, fmt.Errorf("manifest %s: kind is required", path)
	}
	if meta.Version != "" {
		if _, ok := canonicalVersion(meta.Version); !ok {
			return meta, fmt.Errorf("manifest %s: invalid version %q", path, meta.Version)
		}
	}
	meta.Path = path
	if fi, err := os.Stat(path); err == nil {
		meta.FileSize, meta.ModTime = fi.Size(), fi.ModTime()
	}
	return meta, nil
}
