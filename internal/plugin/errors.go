package plugin

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized    = errors.New("plugin: manager not initialized")
	ErrDirectoryNotFound = errors.New("plugin: directory not found")
	ErrNoLoader          = errors.New("plugin: no loader for candidate")
	ErrAlreadyLoaded     = errors.New("plugin: already loaded")
	ErrNotLoaded         = errors.New("plugin: not loaded")
	ErrIncompatible      = errors.New("plugin: incompatible")
	ErrMissingDependency = errors.New("plugin: missing dependency")
	ErrInvalidState      = errors.New("plugin: invalid state transition")
	ErrDuplicateLoader   = errors.New("plugin: loader already registered")
	ErrUnknownKind       = errors.New("plugin: unknown builtin kind")
	ErrLoaderUnavailable = errors.New("plugin: loader unavailable on this build")
	ErrBreakerOpen       = errors.New("plugin: circuit breaker open")
)

// LoadError reports why one candidate failed to load.
type LoadError struct {
	Path   string
	Loader string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Loader == "" {
		return fmt.Sprintf("load %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("load %s (%s): %v", e.Path, e.Loader, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsLoadFailure reports whether err is a per-candidate load failure.
func IsLoadFailure(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}
