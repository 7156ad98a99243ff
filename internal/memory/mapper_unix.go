//go:build unix

package memory

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// PageSize returns the OS page size.
func PageSize() int { return unix.Getpagesize() }

// MapFile maps path read-only into memory. Empty files produce an empty,
// unmapped Mapping.
func MapFile(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := fi.Size()
	if size == 0 {
		return &Mapping{path: path}, nil
	}
	if int64(int(size)) != size {
		return nil, fmt.Errorf("map %s: file too large (%d bytes)", path, size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &Mapping{data: data, path: path, unmap: unix.Munmap}, nil
}

// MapAnonymous maps size bytes of zeroed, private, read-write memory.
func MapAnonymous(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, fmt.Errorf("map anonymous: invalid size %d", size)
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap anonymous: %w", err)
	}
	return &Mapping{data: data, unmap: unix.Munmap}, nil
}
