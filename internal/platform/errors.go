package platform

import "errors"

var (
	// ErrUnsupportedPlatform means no adapter can be built for the requested OS family.
	ErrUnsupportedPlatform = errors.New("platform: unsupported platform")
	// ErrNotSupported means the query has no implementation on this OS.
	ErrNotSupported = errors.New("platform: operation not supported")
	// ErrProcessNotFound is returned when acting on a pid that does not exist.
	ErrProcessNotFound = errors.New("platform: process not found")
)
