package plugin

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

const (
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
)

// BreakerSettings tunes the circuit breaker wrapped around each plugin's Call.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive failed calls that opens
	// the breaker. Zero selects 5.
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before a trial call.
	Timeout time.Duration
	// MaxRequests bounds trial calls while half-open. Zero means one.
	MaxRequests uint32
	// Interval clears failure counts while closed. Zero never clears them.
	Interval time.Duration
}

func newBreaker(name string, s BreakerSettings, onChange func(from, to gobreaker.State)) *gobreaker.CircuitBreaker {
	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = defaultBreakerFailures
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= threshold },
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if onChange != nil {
				onChange(from, to)
			}
		},
	})
}

// breakerErr maps gobreaker's rejection errors onto ErrBreakerOpen.
func breakerErr(name string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %v", ErrBreakerOpen, name, err)
	}
	return err
}
