package memory

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// health records invariant violations. Once a violation is recorded the owner
// stays unhealthy until it is rebuilt by a fresh Initialize.
type health struct {
	violations atomic.Uint64
	mu         sync.Mutex
	last       string
	log        zerolog.Logger
}

func newHealth(log zerolog.Logger) *health { return &health{log: log} }

func (h *health) flag(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	h.violations.Add(1)
	h.mu.Lock()
	h.last = msg
	h.mu.Unlock()
	h.log.Error().Str("violation", msg).Msg("memory invariant violated")
}

func (h *health) ok() bool { return h.violations.Load() == 0 }

func (h *health) err() error {
	if h.ok() {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return fmt.Errorf("%w: %s (%d violations)", ErrCorruptionDetected, h.last, h.violations.Load())
}
