package plugin

import "time"

// Lifecycle event names published by the manager.
const (
	EventLoadStart      = "plugin_load_start"
	EventLoaded         = "plugin_loaded"
	EventLoadFailed     = "plugin_load_failed"
	EventStarted        = "plugin_started"
	EventStopped        = "plugin_stopped"
	EventUnloaded       = "plugin_unloaded"
	EventTeardownFailed = "plugin_teardown_failed"
	EventBreakerChanged = "plugin_breaker_changed"
)

// Event is a plugin lifecycle or broadcast event.
type Event struct {
	Name   string         `json:"name"`
	Plugin string         `json:"plugin,omitempty"`
	Time   time.Time      `json:"time"`
	Fields map[string]any `json:"fields,omitempty"`
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// FanOut publishes every event to each of pubs in order.
type FanOut []EventPublisher

func (f FanOut) Publish(e Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(e)
		}
	}
}
