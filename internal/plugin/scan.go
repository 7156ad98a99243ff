package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"nexrt/internal/common/fsutil"
)

// Scan lists the files under dir that one of loaders can load. Nothing is
// opened beyond a stat. An existing directory without candidates yields an
// empty, non-nil slice; a missing directory yields ErrDirectoryNotFound.
func Scan(dir string, recursive bool, loaders []Loader) ([]Descriptor, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	fi, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, abs)
	}
	if err != nil {
		return nil, fmt.Errorf("stat dir: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDirectoryNotFound, abs)
	}
	paths, err := fsutil.ListFiles(abs, recursive, func(p string) bool {
		return loaderFor(p, loaders) != nil
	})
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	out := make([]Descriptor, 0, len(paths))
	for _, p := range paths {
		l := loaderFor(p, loaders)
		d := Descriptor{Path: p, Type: l.Name()}
		if st, err := os.Stat(p); err == nil {
			d.Size, d.ModTime = st.Size(), st.ModTime()
		}
		out = append(out, d)
	}
	return out, nil
}

// loaderFor returns the first loader claiming path.
func loaderFor(path string, loaders []Loader) Loader {
	for _, l := range loaders {
		if l.CanLoad(path) {
			return l
		}
	}
	return nil
}
