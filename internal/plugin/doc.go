// Package plugin discovers and hosts runtime extensions.
//
// A Loader turns a file found by Scan into a Plugin. Three loaders exist: the
// default manifest loader instantiates plugins compiled into the binary from
// a *.plugin.{yaml,yml,toml,json} manifest, the native loader opens Go shared
// objects and the wasm loader runs WebAssembly modules.
//
// The Manager owns the registry. Load, Unload, Reload, Start, Stop and
// Shutdown are serialized; a candidate that fails to load is reported as a
// *LoadError and never registered. Calls into plugins go through a circuit
// breaker per plugin and are not serialized by the manager.
package plugin
