package voting

import (
	"time"

	"github.com/cmwaters/verdict/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Option is a set of configurable parameters. If left empty, defaults
// will be used
type Option func(e *Engine)

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock replaces the wall clock used for deadlines.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithStore persists every state change. Without it the engine runs only in
// memory.
func WithStore(store Store) Option {
	return func(e *Engine) {
		e.store = store
	}
}

func WithEventBus(bus *event.EventBus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

func WithPromRegistry(registry prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registry = registry
	}
}

// WithMinDuration rejects instances whose voting window is shorter than d.
func WithMinDuration(d time.Duration) Option {
	return func(e *Engine) {
		e.minDuration = d
	}
}
