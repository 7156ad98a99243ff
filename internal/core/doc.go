// Package core composes the runtime. Subsystems come up in the order
// memory, platform, scheduler, plugins (then the optional admin server) and
// shut down in reverse.
package core
