//go:build !unix

package memory

import (
	"fmt"
	"os"
)

// PageSize returns the OS page size.
func PageSize() int { return os.Getpagesize() }

// MapFile reads path into memory. Platforms without mmap support get a heap
// copy with the same read-only contract.
func MapFile(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Mapping{data: data, path: path}, nil
}

// MapAnonymous returns size zeroed bytes from the Go heap.
func MapAnonymous(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, fmt.Errorf("map anonymous: invalid size %d", size)
	}
	return &Mapping{data: make([]byte, size)}, nil
}
